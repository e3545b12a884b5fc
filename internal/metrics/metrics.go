// Package metrics holds the Prometheus collectors for Locial. Collectors
// register on the default registry; the web server exposes them at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Catalog fetches
	CatalogFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locial_catalog_fetches_total",
			Help: "Total number of catalog fetches by kind and result",
		},
		[]string{"kind", "result"}, // kind: nearby, category; result: ok, error, stale
	)

	CatalogFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "locial_catalog_fetch_duration_seconds",
			Help:    "Duration of catalog fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Narration
	Narrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locial_narrations_total",
			Help: "Total number of narrations by outcome",
		},
		[]string{"outcome"}, // started, completed, cancelled, failed
	)

	// Discovery sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "locial_discovery_sessions_active",
			Help: "Current number of running discovery sessions",
		},
	)

	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locial_location_updates_total",
			Help: "Total number of location updates received by sessions",
		},
		[]string{"result"}, // ok, error
	)

	// Posts
	PostsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "locial_posts_created_total",
			Help: "Total number of posts created",
		},
	)

	PostsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "locial_posts_deleted_total",
			Help: "Total number of posts deleted",
		},
	)

	// API
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "locial_api_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "locial_websocket_connections_active",
			Help: "Current number of open discovery websockets",
		},
	)

	// Upstream API client
	ClientBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "locial_client_breaker_state",
			Help: "Circuit breaker state of the remote post source (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordFetch records a catalog fetch. stale marks a result that arrived
// after a newer request and was discarded.
func RecordFetch(kind string, duration time.Duration, err error, stale bool) {
	result := "ok"
	switch {
	case stale:
		result = "stale"
	case err != nil:
		result = "error"
	}
	CatalogFetches.WithLabelValues(kind, result).Inc()
	CatalogFetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordNarration counts a narration state change.
func RecordNarration(outcome string) {
	Narrations.WithLabelValues(outcome).Inc()
}

// RecordLocation counts a location update.
func RecordLocation(err error) {
	if err != nil {
		LocationUpdates.WithLabelValues("error").Inc()
		return
	}
	LocationUpdates.WithLabelValues("ok").Inc()
}

// RecordAPIRequest records an HTTP request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// TrackSession adjusts the active session gauge.
func TrackSession(inc bool) {
	if inc {
		ActiveSessions.Inc()
	} else {
		ActiveSessions.Dec()
	}
}

// TrackWebSocket adjusts the open websocket gauge.
func TrackWebSocket(inc bool) {
	if inc {
		WebSocketConnections.Inc()
	} else {
		WebSocketConnections.Dec()
	}
}

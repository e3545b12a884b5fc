package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFetch(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		stale  bool
		result string
	}{
		{"ok", nil, false, "ok"},
		{"error", errors.New("boom"), false, "error"},
		{"stale wins over error", errors.New("boom"), true, "stale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := CatalogFetches.WithLabelValues("nearby", tt.result)
			before := testutil.ToFloat64(counter)

			RecordFetch("nearby", 10*time.Millisecond, tt.err, tt.stale)

			if got := testutil.ToFloat64(counter); got != before+1 {
				t.Errorf("counter = %v, want %v", got, before+1)
			}
		})
	}
}

func TestRecordNarration(t *testing.T) {
	before := testutil.ToFloat64(Narrations.WithLabelValues("started"))
	RecordNarration("started")
	if got := testutil.ToFloat64(Narrations.WithLabelValues("started")); got != before+1 {
		t.Errorf("started = %v, want %v", got, before+1)
	}
}

func TestRecordLocation(t *testing.T) {
	okBefore := testutil.ToFloat64(LocationUpdates.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(LocationUpdates.WithLabelValues("error"))

	RecordLocation(nil)
	RecordLocation(errors.New("denied"))

	if got := testutil.ToFloat64(LocationUpdates.WithLabelValues("ok")); got != okBefore+1 {
		t.Errorf("ok = %v, want %v", got, okBefore+1)
	}
	if got := testutil.ToFloat64(LocationUpdates.WithLabelValues("error")); got != errBefore+1 {
		t.Errorf("error = %v, want %v", got, errBefore+1)
	}
}

func TestTrackGauges(t *testing.T) {
	before := testutil.ToFloat64(ActiveSessions)
	TrackSession(true)
	TrackSession(true)
	TrackSession(false)
	if got := testutil.ToFloat64(ActiveSessions); got != before+1 {
		t.Errorf("ActiveSessions = %v, want %v", got, before+1)
	}
	TrackSession(false)

	wsBefore := testutil.ToFloat64(WebSocketConnections)
	TrackWebSocket(true)
	TrackWebSocket(false)
	if got := testutil.ToFloat64(WebSocketConnections); got != wsBefore {
		t.Errorf("WebSocketConnections = %v, want %v", got, wsBefore)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	RecordAPIRequest("GET", "/api/posts", 200, 5*time.Millisecond)
	if n := testutil.CollectAndCount(APIRequestDuration); n == 0 {
		t.Error("expected at least one API duration series")
	}
}

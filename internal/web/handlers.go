package web

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"

	"github.com/locial/locial/internal/auth"
	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/ops"
	"github.com/locial/locial/internal/render"
)

// Handlers contains HTTP route handlers for the web UI and JSON API.
type Handlers struct {
	db        *sql.DB
	cfg       *config.Config
	renderer  *Renderer
	schematic *render.Schematic
	limiter   *auth.RateLimiter
}

// HandleNear handles GET /: the near feed. Without lat/lon the page asks the
// browser for its location and reloads with it.
func (h *Handlers) HandleNear(w http.ResponseWriter, r *http.Request) {
	data := NearPageData{
		PageData: PageData{
			Title:   "Near",
			Version: h.renderer.version,
			Nav:     "near",
		},
		Welcome: h.cfg.Discovery.WelcomeMessage,
		Email:   auth.EmailFrom(r.Context()),
	}

	lat, lon, ok, err := parseCoordinate(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if !ok {
		h.renderer.renderPage(w, r, "near", data)
		return
	}

	feed, err := ops.Feed(r.Context(), h.db, h.cfg, ops.FeedInput{
		Latitude:  lat,
		Longitude: lon,
		Limit:     parseIntParam(r, "limit", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	data.HasLocation = true
	data.Latitude = lat
	data.Longitude = lon
	data.Welcome = feed.Welcome
	data.Posts = make([]FeedItem, len(feed.Posts))
	for i, p := range feed.Posts {
		data.Posts[i] = FeedItem{Post: p, HTML: renderMarkdown(p.Content)}
	}

	h.renderer.renderPage(w, r, "near", data)
}

// HandleDiscover handles GET /discover: the live discovery page.
func (h *Handlers) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	threshold := parseFloatParam(r, "threshold", h.cfg.Discovery.ThresholdMeters)
	if threshold <= 0 {
		threshold = h.cfg.Discovery.ThresholdMeters
	}

	h.renderer.renderPage(w, r, "discover", DiscoverPageData{
		PageData: PageData{
			Title:   "Discover",
			Version: h.renderer.version,
			Nav:     "discover",
		},
		ThresholdMeters: threshold,
		Category:        strings.TrimSpace(r.URL.Query().Get("category")),
		Width:           h.cfg.Render.Width,
		Height:          h.cfg.Render.Height,
	})
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.renderer.renderError(w, r, errors.NewUnavailable("database unavailable"))
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": h.renderer.version})
}

// parseCoordinate reads lat and lon. ok is false when both are absent; one
// without the other, or a non-number, is INVALID_REQUEST.
func parseCoordinate(r *http.Request) (lat, lon float64, ok bool, err error) {
	q := r.URL.Query()
	rawLat, rawLon := strings.TrimSpace(q.Get("lat")), strings.TrimSpace(q.Get("lon"))
	if rawLat == "" && rawLon == "" {
		return 0, 0, false, nil
	}
	lat, errLat := strconv.ParseFloat(rawLat, 64)
	lon, errLon := strconv.ParseFloat(rawLon, 64)
	if errLat != nil || errLon != nil {
		return 0, 0, false, errors.NewInvalidRequest("lat and lon must both be numbers")
	}
	return lat, lon, true, nil
}

// requireCoordinate is parseCoordinate for routes where a location is mandatory.
func requireCoordinate(r *http.Request) (lat, lon float64, err error) {
	lat, lon, ok, err := parseCoordinate(r)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, errors.NewInvalidRequest("lat and lon are required")
	}
	return lat, lon, nil
}

// parseIntParam parses an integer query parameter, returning defaultVal on missing/invalid.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// parseFloatParam parses a float query parameter, returning defaultVal on missing/invalid.
func parseFloatParam(r *http.Request, name string, defaultVal float64) float64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

// parseListParam splits a comma-separated query parameter, dropping blanks.
func parseListParam(r *http.Request, name string) []string {
	var out []string
	for _, v := range strings.Split(r.URL.Query().Get(name), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/locial/locial/internal/auth"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/ops"
	"github.com/locial/locial/internal/post"
	"github.com/locial/locial/internal/render"
)

const maxRequestBody = 64 << 10

// createPostRequest is the body of POST /api/posts.
type createPostRequest struct {
	Content   string  `json:"content"`
	Category  string  `json:"category"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// HandleListPosts handles GET /api/posts: posts around lat/lon, optionally
// of one category.
func (h *Handlers) HandleListPosts(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := requireCoordinate(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	out, err := ops.Nearby(r.Context(), h.db, h.cfg, ops.NearbyInput{
		Latitude:  lat,
		Longitude: lon,
		Category:  r.URL.Query().Get("category"),
		Limit:     parseIntParam(r, "limit", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if out.Posts == nil {
		out.Posts = []post.Post{}
	}
	if out.Categories == nil {
		out.Categories = []string{}
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleCreatePost handles POST /api/posts as the authenticated user.
func (h *Handlers) HandleCreatePost(w http.ResponseWriter, r *http.Request) {
	email := auth.EmailFrom(r.Context())
	if email != "" && !h.limiter.Allow(email) {
		h.renderer.renderError(w, r, errors.NewRateLimited(email))
		return
	}

	var req createPostRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("request body must be a JSON post"))
		return
	}

	out, err := ops.CreatePost(r.Context(), h.db, h.cfg, ops.CreatePostInput{
		Email:     email,
		Content:   req.Content,
		Category:  req.Category,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, out)
}

// HandleDeletePost handles DELETE /api/posts/{id}.
func (h *Handlers) HandleDeletePost(w http.ResponseWriter, r *http.Request) {
	out, err := ops.DeletePost(r.Context(), h.db, ops.DeletePostInput{
		Email: auth.EmailFrom(r.Context()),
		ID:    chi.URLParam(r, "id"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleCategories handles GET /api/categories.
func (h *Handlers) HandleCategories(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := requireCoordinate(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	out, err := ops.Categories(r.Context(), h.db, h.cfg, ops.CategoriesInput{Latitude: lat, Longitude: lon})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleFeed handles GET /api/feed: the near feed as JSON.
func (h *Handlers) HandleFeed(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := requireCoordinate(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	out, err := ops.Feed(r.Context(), h.db, h.cfg, ops.FeedInput{
		Latitude:  lat,
		Longitude: lon,
		Limit:     parseIntParam(r, "limit", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if out.Posts == nil {
		out.Posts = []post.Post{}
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleEvaluate handles GET /api/evaluate: one stateless proximity check.
func (h *Handlers) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := requireCoordinate(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	out, err := ops.Evaluate(r.Context(), h.db, h.cfg, ops.EvaluateInput{
		Latitude:        lat,
		Longitude:       lon,
		Category:        r.URL.Query().Get("category"),
		ThresholdMeters: parseFloatParam(r, "threshold", 0),
		Spoken:          parseListParam(r, "spoken"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleMe handles GET /api/me.
func (h *Handlers) HandleMe(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Me(r.Context(), h.db, auth.EmailFrom(r.Context()))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleSchematic handles GET /api/schematic.png. It draws the catalog a
// session would hold at lat/lon: the category catalog when one is given,
// otherwise every nearby post.
func (h *Handlers) HandleSchematic(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := requireCoordinate(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	location := geo.Coordinate{Latitude: lat, Longitude: lon}
	if err := location.Validate(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest(err.Error()))
		return
	}

	category := strings.TrimSpace(r.URL.Query().Get("category"))
	src := ops.NewDBSource(h.db, h.cfg)
	var posts []post.Post
	if category != "" {
		posts, err = src.FetchNearbyByCategory(r.Context(), location, category)
	} else {
		posts, err = src.FetchNearby(r.Context(), location)
	}
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	threshold := parseFloatParam(r, "threshold", h.cfg.Discovery.ThresholdMeters)
	scene := render.Scene{
		Location:        &location,
		Posts:           posts,
		ActiveCategory:  category,
		Spoken:          parseListParam(r, "spoken"),
		SpeakingPostID:  r.URL.Query().Get("speaking"),
		ThresholdMeters: threshold,
	}

	var buf bytes.Buffer
	if err := h.schematic.EncodePNG(&buf, scene); err != nil {
		h.renderer.renderError(w, r, errors.NewInternal(err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

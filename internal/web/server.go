package web

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/locial/locial/internal/auth"
	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/logging"
	"github.com/locial/locial/internal/render"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

const (
	shutdownTimeout = 10 * time.Second
	limiterSweep    = time.Minute
)

// Options configures a Server.
type Options struct {
	DB      *sql.DB
	Config  *config.Config
	Version string

	// Tokens verifies bearer tokens. Nil serves every request anonymously.
	Tokens *auth.Tokens
}

// Server is the Locial web UI and JSON API.
type Server struct {
	http    *http.Server
	limiter *auth.RateLimiter
}

// NewServer builds the router and the HTTP server bound to cfg.Server.
func NewServer(opts Options) (*Server, error) {
	if opts.DB == nil || opts.Config == nil {
		return nil, fmt.Errorf("web: database and config are required")
	}

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to create template sub-FS: %w", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to create static sub-FS: %w", err)
	}

	schematic, err := render.New(render.OptionsFrom(opts.Config.Render))
	if err != nil {
		return nil, err
	}

	cfg := opts.Config
	h := &Handlers{
		db:        opts.DB,
		cfg:       cfg,
		renderer:  NewRenderer(templateSub, opts.Version),
		schematic: schematic,
		limiter:   auth.NewRateLimiter(cfg.Server.PostsPerMinute, cfg.Server.PostBurst),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(securityHeaders)
	if opts.Tokens != nil {
		r.Use(auth.Identify(opts.Tokens, h.renderer.renderError))
	}

	r.Get("/", h.HandleNear)
	r.Get("/discover", h.HandleDiscover)
	r.Get("/healthz", h.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/discover", h.HandleDiscoverSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/posts", h.HandleListPosts)
		r.Post("/posts", h.HandleCreatePost)
		r.Delete("/posts/{id}", h.HandleDeletePost)
		r.Get("/categories", h.HandleCategories)
		r.Get("/feed", h.HandleFeed)
		r.Get("/evaluate", h.HandleEvaluate)
		r.Get("/me", h.HandleMe)
		r.Get("/schematic.png", h.HandleSchematic)
	})

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		h.renderer.renderError(w, req, errors.NewNotFound("page", req.URL.Path))
	})

	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Bind, cfg.Server.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		limiter: h.limiter,
	}, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.http.Addr }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info().Str("addr", s.http.Addr).Msg("locial web server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		s.limiter.Run(gctx, limiterSweep)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info().Msg("shutting down web server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/locial/locial/internal/auth"
	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/logging"
	"github.com/locial/locial/internal/web"
)

// serve runs the web server until ctx is cancelled or a signal arrives.
func serve(ctx context.Context, db *sql.DB, cfg *config.Config) error {
	var tokens *auth.Tokens
	if cfg.Auth.Secret != "" {
		t, err := auth.NewTokens(cfg.Auth)
		if err != nil {
			return outputError(errors.NewInvalidRequest(err.Error()))
		}
		tokens = t
	} else {
		logging.Warn().Msg("auth.secret is not set; every request is anonymous and posting is disabled")
	}

	srv, err := web.NewServer(web.Options{
		DB:      db,
		Config:  cfg,
		Version: Version,
		Tokens:  tokens,
	})
	if err != nil {
		return outputError(errors.NewInternal(err))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", srv.Addr()).Str("version", Version).Msg("serving")
	if err := srv.Run(ctx); err != nil {
		return outputError(errors.NewInternal(err))
	}
	return nil
}

// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the upload coordination service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kaihere14/novadrive/pkg/logger"
)

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address (default ":8080").
	Addr string `mapstructure:"addr"`

	// JWTSecret signs and verifies bearer tokens (HS256).
	JWTSecret string `mapstructure:"jwt_secret"`

	// ReadTimeout bounds slow request bodies (default 5m, chunk PUTs are
	// large).
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout bounds response writes (default 1m).
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// NewRouter assembles the API routes with auth, logging and metrics.
func NewRouter(h *Handlers, jwtSecret []byte) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(Metrics)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Auth(jwtSecret))

		r.Route("/uploads", func(r chi.Router) {
			r.Post("/", h.Initiate)
			r.Post("/fingerprint", h.CheckFingerprint)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.Status)
				r.Post("/complete", h.Finalize)
				r.Post("/grants/{index}", h.Grant)
				r.Put("/chunks/{index}", h.ReceiveChunk)
			})
		})

		r.Get("/files/{fileID}", h.GetFile)
	})

	return r
}

// Server runs the API with graceful shutdown.
type Server struct {
	http *http.Server
}

// NewServer builds the HTTP server for the given router.
func NewServer(cfg Config, router http.Handler) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = time.Minute
	}
	return &Server{
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	logger.Info().Str("addr", s.http.Addr).Msg("api: listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

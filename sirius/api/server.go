// Package api serves the snapshot operations over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/SiriusScan/host-diff/sirius/hostdiff"
	"github.com/SiriusScan/host-diff/sirius/ingest"
)

// Server is the standalone HTTP server for the hostdiff API.
type Server struct {
	server         *http.Server
	router         chi.Router
	svc            *hostdiff.Service
	eventsDB       *gorm.DB
	maxUploadBytes int64
}

type Option func(*Server)

// WithEventsDB exposes the recorded events under /api/v1/events.
func WithEventsDB(db *gorm.DB) Option {
	return func(s *Server) { s.eventsDB = db }
}

// WithMaxUploadBytes bounds the request body read for an upload.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

func NewServer(addr string, svc *hostdiff.Service, opts ...Option) *Server {
	s := &Server{
		svc:            svc,
		maxUploadBytes: ingest.DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.routes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until Stop is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	slog.Info("Starting hostdiff API server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping hostdiff API server")
	return s.server.Shutdown(ctx)
}

// Handler returns the router, for mounting or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/SiriusScan/host-diff/sirius/slogger"
)

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/snapshots", s.handleUpload)
		r.Get("/snapshots/{id}", s.handleGetSnapshot)
		r.Get("/hosts/{ip}/snapshots", s.handleHostHistory)
		r.Get("/compare", s.handleCompare)
		r.Get("/cves/{cve}/snapshots", s.handleSnapshotsWithCVE)

		if s.eventsDB != nil {
			r.Get("/events", s.handleListEvents)
			r.Get("/events/stats", s.handleEventStats)
			r.Get("/events/{eventID}", s.handleGetEvent)
		}
	})
	return r
}

// requestLogger tags the request context with its id so every log line
// written while serving it carries request_id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := slogger.WithAttrs(r.Context(), slog.String("request_id", middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		slog.DebugContext(ctx, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}

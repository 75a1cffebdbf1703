// Package api provides the local ingest API of the uploader. Producers post
// already serialized payloads to it; they are cached and uploaded by the
// coordinator.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultMaxBodyBytes is the largest payload accepted by the ingest API
const DefaultMaxBodyBytes int64 = 32 << 20

// ServerOption configures the ingest API server
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares  []func(http.Handler) http.Handler
	maxBodyBytes int64
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMaxBodyBytes limits the size of posted payloads
func WithMaxBodyBytes(n int64) ServerOption {
	return func(cfg *serverConfig) {
		if n > 0 {
			cfg.maxBodyBytes = n
		}
	}
}

// NewServer creates the HTTP router serving uploader
func NewServer(uploader Uploader, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	routes := &routes{uploader: uploader, maxBodyBytes: cfg.maxBodyBytes}

	r.Get("/health", routes.health)
	r.Get("/readiness", routes.readiness)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/payloads", routes.listPending)
		r.Post("/payloads/{type}/{id}", routes.enqueue)
		r.Get("/sweep", routes.sweepStatus)
		r.Post("/sweep", routes.sweep)
	})

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

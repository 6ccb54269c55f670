// Package api exposes the admin HTTP interface for the pulling pipeline:
// submitting and cancelling feed pulls, and streaming completed responses.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/snapscore/pipeline/internal/config"
	"github.com/snapscore/pipeline/internal/metrics"
	"github.com/snapscore/pipeline/internal/pulling"
)

// Server wires HTTP handlers to a PullingEngine.
type Server struct {
	router chi.Router
	engine *pulling.PullingEngine
	logger *zap.Logger
	cfg    config.Config
}

// NewServer constructs a Server with its middleware chain and routes.
func NewServer(engine *pulling.PullingEngine, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{engine: engine, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(jwtAuthMiddleware(cfg.Auth.JWTSecret))
		}
		r.Post("/requests", s.submitRequest)
		r.Post("/requests/periodic", s.schedulePeriodic)
		r.Delete("/requests/{handle}", s.cancelRequest)
		r.Get("/responses/stream", s.streamResponses)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

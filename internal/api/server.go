// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the controller's REST surface under /api/sessions.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/recfleet/recfleet/internal/domain/session/service"
)

// Config holds the API surface settings.
type Config struct {
	APIUser     string
	APIPassword string

	// RateLimitRPS bounds requests per client IP per second. Zero disables.
	RateLimitRPS int

	// MaxSessionAge is the cutoff used by the explicit cleanup trigger.
	MaxSessionAge time.Duration
}

// Server wires the session service into HTTP handlers.
type Server struct {
	svc *service.Service
	cfg Config
}

// NewServer creates the API server.
func NewServer(svc *service.Service, cfg Config) *Server {
	if cfg.MaxSessionAge <= 0 {
		cfg.MaxSessionAge = 24 * time.Hour
	}
	return &Server{svc: svc, cfg: cfg}
}

// Routes builds the chi router. Health, liveness and metrics endpoints are
// unauthenticated; everything else requires the shared credential pair.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	if s.cfg.RateLimitRPS > 0 {
		r.Use(httprate.Limit(
			s.cfg.RateLimitRPS,
			time.Second,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))
	}

	r.Get("/healthz", s.handleLiveness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.basicAuth)

			r.Post("/", s.handleRegister)
			r.Get("/", s.handleListActive)
			r.Get("/all", s.handleListAll)
			r.Get("/inactive", s.handleListInactive)
			r.Post("/cleanup", s.handleCleanup)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Get("/active", s.handleIsActive)
				r.Put("/heartbeat", s.handleHeartbeat)
				r.Put("/status", s.handleStatus)
				r.Put("/recording-path", s.handleRecordingPath)
				r.Put("/stop", s.handleStop)
				r.Put("/deactivate", s.handleDeactivate)
				r.Delete("/", s.handleDeregister)
			})
		})
	})

	return r
}

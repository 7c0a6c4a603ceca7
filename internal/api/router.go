// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/musclemap/pulse/internal/config"
)

// NewRouter wires all HTTP routes.
func NewRouter(h *Handlers, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoints stay outside the rate limiter; they are
		// long-lived and throttle inbound frames per connection.
		r.Get("/ws/community", h.CommunityWS)
		r.Get("/ws/monitor", h.MonitorWS)

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(cfg.Server.RateLimitReqs, cfg.Server.RateLimitWindow))

			r.Post("/events", h.EmitEvent)
			r.Post("/heartbeat", h.Heartbeat)
			r.Get("/feed", h.Feed)
			r.Get("/presence/now", h.PresenceNow)
			r.Get("/presence/top-exercises", h.TopExercises)
			r.Get("/realtime/stats", h.RealtimeStats)
			r.Get("/health", h.Health)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	// RateLimit is requests per second across the API; 0 disables limiting.
	RateLimit float64
	// RateBurst is the limiter's burst allowance.
	RateBurst int
}

// NewRouter assembles the chi router for the pipeline API.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/", h.HealthReady)
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(rateLimit(cfg.RateLimit, cfg.RateBurst))
		}
		r.Use(requestMetrics)

		r.Post("/actions", h.RecordAction)
		r.Get("/interactions/count", h.InteractionCounts)
		r.Get("/recommendations/items/{id}/similar", h.SimilarItems)
		r.Get("/recommendations/users/{id}", h.Recommendations)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

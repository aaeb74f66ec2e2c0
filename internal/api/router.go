// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

// Package api is the HTTP surface of Adscout: run submission and
// control, result queries, health and metrics. Routing uses Chi with
// go-chi middleware for CORS and rate limiting.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/adscout/internal/config"
	"github.com/tomtom215/adscout/internal/database"
	"github.com/tomtom215/adscout/internal/queue"
)

// Router assembles the HTTP handler tree.
type Router struct {
	cfg     *config.ServerConfig
	handler *Handler
}

// NewRouter wires the API over the queue service and repository.
func NewRouter(cfg *config.ServerConfig, runs *queue.Service, db *database.DB) *Router {
	return &Router{
		cfg:     cfg,
		handler: NewHandler(runs, db),
	}
}

// Setup returns the complete handler tree.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Unauthenticated operational endpoints.
	r.Get("/healthz", rt.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rt.rateLimit(), time.Minute))
		r.Use(apiMetrics)
		r.Use(authenticate(rt.cfg.APIToken))

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", rt.handler.SubmitRun)
			r.Get("/", rt.handler.ListRuns)
			r.Get("/interrupted", rt.handler.ListInterrupted)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", rt.handler.GetRun)
				r.Post("/cancel", rt.handler.CancelRun)
				r.Post("/restart", rt.handler.RestartRun)
				r.Get("/pages", rt.handler.RunPages)
				r.Get("/winners", rt.handler.RunWinners)
				r.Get("/summary", rt.handler.RunSummary)
			})
		})

		r.Get("/pages/{pageID}/runs", rt.handler.PageRuns)
	})

	return r
}

func (rt *Router) rateLimit() int {
	if rt.cfg.RateLimitPerMinute <= 0 {
		return 120
	}
	return rt.cfg.RateLimitPerMinute
}

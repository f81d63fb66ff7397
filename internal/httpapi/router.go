// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

// Package httpapi is the local HTTP control surface over the sync engine
// and the route processor: commands, cache snapshot reads, spatial queries
// and a websocket progress stream. It speaks the same in-process APIs the
// map UI consumes.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veloroute/veloroute/internal/config"
)

// Router assembles the HTTP surface.
type Router struct {
	cfg     config.ServerConfig
	handler *Handler
}

// NewRouter creates a router over the given handler.
func NewRouter(cfg config.ServerConfig, handler *Handler) *Router {
	return &Router{cfg: cfg, handler: handler}
}

// Setup builds the chi handler tree with the full middleware stack.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/healthz", rt.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.Limit(rt.cfg.RateLimitReqs, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP)))

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", rt.handler.SyncStatus)
			r.Post("/range", rt.handler.SyncRange)
			r.Post("/all", rt.handler.SyncAll)
			r.Post("/year", rt.handler.SyncYear)
			r.Post("/90days", rt.handler.Sync90Days)
			r.Post("/cancel", rt.handler.SyncCancel)
			r.Delete("/cache", rt.handler.SyncClearCache)
		})

		r.Route("/activities", func(r chi.Router) {
			r.Get("/", rt.handler.Activities)
			r.Get("/region", rt.handler.ActivitiesRegion)
			r.Get("/nearby", rt.handler.ActivitiesNearby)
		})

		r.Route("/routes", func(r chi.Router) {
			r.Get("/", rt.handler.RouteGroups)
			r.Get("/progress", rt.handler.RouteProgress)
			r.Get("/matches", rt.handler.RouteMatches)
			r.Get("/sections", rt.handler.RouteSections)
			r.Get("/{id}", rt.handler.RouteGroup)
			r.Post("/cancel", rt.handler.RouteCancel)
			r.Delete("/cache", rt.handler.RouteClearCache)
		})

		r.Get("/ws", rt.handler.WebSocket)
	})

	return r
}

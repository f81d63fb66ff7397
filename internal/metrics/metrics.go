// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

// Package metrics exposes Prometheus instrumentation for the sync engine,
// the route matching pipeline, the remote API client and the HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync engine metrics

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veloroute_sync_runs_total",
			Help: "Total sync runs by outcome",
		},
		[]string{"outcome"}, // "complete", "cancelled", "superseded", "error"
	)

	SyncBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veloroute_sync_batches_total",
			Help: "Total bounds fetch batches processed",
		},
	)

	SyncActivities = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veloroute_sync_activities_total",
			Help: "Total activities whose bounds were fetched and merged",
		},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "veloroute_sync_duration_seconds",
			Help:    "Duration of full sync runs in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	SyncCheckpointResumes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veloroute_sync_checkpoint_resumes_total",
			Help: "Total syncs resumed from an interrupted checkpoint",
		},
	)

	BoundsCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "veloroute_bounds_cache_entries",
			Help: "Current number of activities in the bounds cache",
		},
	)

	// Remote API client metrics

	APIRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veloroute_api_requests_total",
			Help: "Total HTTP requests sent to the training-data API",
		},
	)

	APIRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veloroute_api_rate_limited_total",
			Help: "Total HTTP 429 responses from the training-data API",
		},
	)

	// Route pipeline metrics

	RoutePasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veloroute_route_passes_total",
			Help: "Total route processing passes by outcome",
		},
		[]string{"outcome"}, // "complete", "cancelled", "superseded", "error"
	)

	RouteProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "veloroute_route_processing_duration_seconds",
			Help:    "Duration of route processing passes in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	RouteGroups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "veloroute_route_groups",
			Help: "Current number of route groups",
		},
	)

	RouteSections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "veloroute_route_sections",
			Help: "Current number of detected frequent sections",
		},
	)

	RouteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "veloroute_route_queue_depth",
			Help: "Activities waiting for route processing",
		},
	)

	// HTTP surface metrics

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veloroute_http_requests_total",
			Help: "Total HTTP requests to the control surface",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veloroute_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "veloroute_websocket_connections",
			Help: "Currently connected progress-stream clients",
		},
	)
)

// RecordSyncRun records one finished sync run.
func RecordSyncRun(outcome string, duration time.Duration, activities int) {
	SyncRuns.WithLabelValues(outcome).Inc()
	SyncDuration.Observe(duration.Seconds())
	if activities > 0 {
		SyncActivities.Add(float64(activities))
	}
}

// RecordRoutePass records one finished route processing pass.
func RecordRoutePass(outcome string, duration time.Duration) {
	RoutePasses.WithLabelValues(outcome).Inc()
	RouteProcessingDuration.Observe(duration.Seconds())
}

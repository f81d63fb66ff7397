// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package models

// SyncStatus is the coarse state of a sync operation as seen by progress
// observers.
type SyncStatus string

const (
	SyncIdle     SyncStatus = "idle"
	SyncLoading  SyncStatus = "loading"
	SyncSyncing  SyncStatus = "syncing"
	SyncComplete SyncStatus = "complete"
	SyncError    SyncStatus = "error"
)

// SyncProgress is the progress snapshot published by the sync manager.
// UI progress displays subscribe to this rather than polling.
type SyncProgress struct {
	Completed int        `json:"completed"`
	Total     int        `json:"total"`
	Status    SyncStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
}

// RouteStatus is the richer status set for route processing.
type RouteStatus string

const (
	RouteIdle              RouteStatus = "idle"
	RouteFiltering         RouteStatus = "filtering"
	RouteFetching          RouteStatus = "fetching"
	RouteProcessing        RouteStatus = "processing"
	RouteMatching          RouteStatus = "matching"
	RouteDetectingSections RouteStatus = "detecting-sections"
	RouteComplete          RouteStatus = "complete"
	RouteError             RouteStatus = "error"
)

// RouteProgress is the progress snapshot published by the route processing
// queue, including optional live sub-state.
type RouteProgress struct {
	Completed int         `json:"completed"`
	Total     int         `json:"total"`
	Status    RouteStatus `json:"status"`
	Message   string      `json:"message,omitempty"`
	// Live sub-state, populated while a pass is running.
	CurrentActivity string `json:"current_activity,omitempty"`
	RoutesFound     int    `json:"routes_found"`
	MatchesFound    int    `json:"matches_found"`
	SectionsFound   int    `json:"sections_found"`
}

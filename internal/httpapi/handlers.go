// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/veloroute/veloroute/internal/models"
	"github.com/veloroute/veloroute/internal/routeproc"
	"github.com/veloroute/veloroute/internal/spatial"
	"github.com/veloroute/veloroute/internal/syncmgr"
)

// Handler implements the HTTP endpoints over the sync manager, the route
// processor and the spatial index.
type Handler struct {
	sync   *syncmgr.Manager
	routes *routeproc.Processor
	index  *spatial.Index
	hub    *Hub
}

// NewHandler wires a handler. hub may be nil when the websocket stream is
// not served (tests).
func NewHandler(sync *syncmgr.Manager, routes *routeproc.Processor, index *spatial.Index, hub *Hub) *Handler {
	return &Handler{sync: sync, routes: routes, index: index, hub: hub}
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// syncStatusResponse is the payload for GET /sync/status.
type syncStatusResponse struct {
	State         string              `json:"state"`
	OldestDate    *time.Time          `json:"oldest_date,omitempty"`
	LastSync      *time.Time          `json:"last_sync,omitempty"`
	ActivityCount int                 `json:"activity_count"`
	Progress      models.SyncProgress `json:"progress"`
}

// SyncStatus reports the sync state machine, cache counters and the latest
// progress snapshot.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := syncStatusResponse{
		State:    string(h.sync.State()),
		Progress: h.sync.Progress(),
	}
	if oldest := h.sync.OldestDate(); !oldest.IsZero() {
		resp.OldestDate = &oldest
	}
	if cache := h.sync.CacheSnapshot(); cache != nil {
		resp.ActivityCount = len(cache.Activities)
		if !cache.LastSync.IsZero() {
			last := cache.LastSync
			resp.LastSync = &last
		}
	}
	NewResponseWriter(w, r).Success(resp)
}

// syncRangeRequest is the body for POST /sync/range. Dates are RFC 3339 or
// plain YYYY-MM-DD.
type syncRangeRequest struct {
	Oldest   string `json:"oldest"`
	Newest   string `json:"newest"`
	Debounce bool   `json:"debounce"`
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}

// SyncRange starts (or debounces) a date-range sync.
func (h *Handler) SyncRange(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req syncRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	oldest, err := parseDate(req.Oldest)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	newest, err := parseDate(req.Newest)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if newest.Before(oldest) {
		rw.BadRequest("newest must not be before oldest")
		return
	}

	if err := h.sync.SyncDateRange(oldest, newest, req.Debounce); err != nil {
		h.syncCommandError(rw, err)
		return
	}
	rw.Accepted(map[string]string{"state": string(h.sync.State())})
}

// SyncAll syncs the full account history.
func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	h.runSyncCommand(w, r, h.sync.SyncAllHistory)
}

// SyncYear syncs the trailing year.
func (h *Handler) SyncYear(w http.ResponseWriter, r *http.Request) {
	h.runSyncCommand(w, r, h.sync.SyncOneYear)
}

// Sync90Days syncs the trailing 90 days.
func (h *Handler) Sync90Days(w http.ResponseWriter, r *http.Request) {
	h.runSyncCommand(w, r, h.sync.Sync90Days)
}

func (h *Handler) runSyncCommand(w http.ResponseWriter, r *http.Request, cmd func() error) {
	rw := NewResponseWriter(w, r)
	if err := cmd(); err != nil {
		h.syncCommandError(rw, err)
		return
	}
	rw.Accepted(map[string]string{"state": string(h.sync.State())})
}

func (h *Handler) syncCommandError(rw *ResponseWriter, err error) {
	if errors.Is(err, syncmgr.ErrInvalidTransition) {
		rw.Conflict(fmt.Sprintf("sync not possible in state %s", h.sync.State()))
		return
	}
	rw.InternalError(err.Error())
}

// SyncCancel cancels the running or pending sync.
func (h *Handler) SyncCancel(w http.ResponseWriter, r *http.Request) {
	h.sync.CancelSync()
	NewResponseWriter(w, r).Success(map[string]string{"state": string(h.sync.State())})
}

// SyncClearCache wipes the bounds cache, GPS tracks and checkpoint.
func (h *Handler) SyncClearCache(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if err := h.sync.ClearCache(r.Context()); err != nil {
		rw.InternalError(err.Error())
		return
	}
	rw.NoContent()
}

// Activities returns the bounds cache snapshot.
func (h *Handler) Activities(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	cache := h.sync.CacheSnapshot()
	if cache == nil {
		rw.Success(map[string]any{"activities": []*models.ActivityBoundsItem{}, "count": 0})
		return
	}
	items := cache.Items()
	rw.Success(map[string]any{
		"activities": items,
		"count":      len(items),
		"last_sync":  cache.LastSync,
	})
}

func parseFloatParam(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing query parameter %q", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid query parameter %q", name)
	}
	return v, nil
}

// ActivitiesRegion returns activities whose bounds intersect the query box.
func (h *Handler) ActivitiesRegion(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var region models.Bounds
	var err error
	if region.MinLat, err = parseFloatParam(r, "min_lat"); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if region.MinLng, err = parseFloatParam(r, "min_lng"); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if region.MaxLat, err = parseFloatParam(r, "max_lat"); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if region.MaxLng, err = parseFloatParam(r, "max_lng"); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if !region.IsNormalized() {
		rw.BadRequest("region min must not exceed max")
		return
	}

	items := h.index.QueryRegion(region)
	rw.Success(map[string]any{"activities": items, "count": len(items)})
}

// ActivitiesNearby returns activities within radius_km of a point.
func (h *Handler) ActivitiesNearby(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	lat, err := parseFloatParam(r, "lat")
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	lng, err := parseFloatParam(r, "lng")
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	radius, err := parseFloatParam(r, "radius_km")
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if radius <= 0 {
		rw.BadRequest("radius_km must be positive")
		return
	}

	items := h.index.QueryNearby(lat, lng, radius)
	rw.Success(map[string]any{"activities": items, "count": len(items)})
}

// RouteGroups lists all route groups.
func (h *Handler) RouteGroups(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	cache := h.routes.GetCache()
	if cache == nil {
		rw.Success(map[string]any{"groups": []*models.RouteGroup{}, "count": 0})
		return
	}
	groups := make([]*models.RouteGroup, 0, len(cache.Groups))
	for _, g := range cache.Groups {
		groups = append(groups, g)
	}
	rw.Success(map[string]any{
		"groups":     groups,
		"count":      len(groups),
		"updated_at": cache.UpdatedAt,
	})
}

// RouteGroup returns one group with its per-member matches.
func (h *Handler) RouteGroup(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	cache := h.routes.GetCache()
	if cache == nil {
		rw.NotFound("route group not found")
		return
	}
	group, ok := cache.Groups[id]
	if !ok {
		rw.NotFound("route group not found")
		return
	}

	matches := make([]*models.RouteMatch, 0)
	for _, m := range cache.Matches {
		if m.GroupID == id {
			matches = append(matches, m)
		}
	}
	var representative *models.RouteSignature
	if sig, ok := cache.Signatures[group.RepresentativeID]; ok {
		representative = sig
	}
	rw.Success(map[string]any{
		"group":          group,
		"matches":        matches,
		"representative": representative,
	})
}

// RouteMatches lists every per-activity match record.
func (h *Handler) RouteMatches(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	cache := h.routes.GetCache()
	if cache == nil {
		rw.Success(map[string]any{"matches": []*models.RouteMatch{}, "count": 0})
		return
	}
	matches := make([]*models.RouteMatch, 0, len(cache.Matches))
	for _, m := range cache.Matches {
		matches = append(matches, m)
	}
	rw.Success(map[string]any{"matches": matches, "count": len(matches)})
}

// RouteSections lists the detected frequent sections.
func (h *Handler) RouteSections(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	cache := h.routes.GetCache()
	if cache == nil {
		rw.Success(map[string]any{"sections": []*models.FrequentSection{}, "count": 0})
		return
	}
	sections := make([]*models.FrequentSection, 0, len(cache.Sections))
	for _, s := range cache.Sections {
		sections = append(sections, s)
	}
	rw.Success(map[string]any{"sections": sections, "count": len(sections)})
}

// RouteProgress reports the latest route processing progress.
func (h *Handler) RouteProgress(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.routes.GetProgress())
}

// RouteCancel stops the running processing pass.
func (h *Handler) RouteCancel(w http.ResponseWriter, r *http.Request) {
	h.routes.Cancel()
	NewResponseWriter(w, r).Success(map[string]string{"status": "cancelled"})
}

// RouteClearCache wipes the route cache and triggers a full reprocess.
func (h *Handler) RouteClearCache(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if err := h.routes.ClearCache(r.Context()); err != nil {
		rw.InternalError(err.Error())
		return
	}
	rw.NoContent()
}

// WebSocket upgrades to the progress stream.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		NewResponseWriter(w, r).NotFound("progress stream not enabled")
		return
	}
	h.hub.ServeWS(w, r)
}

// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package models

import "time"

// Bounds is an axis-aligned lat/lng bounding box. The invariant Min <= Max
// holds on both axes for every Bounds stored in the cache; raw bounds from
// the remote API may arrive hemisphere-swapped and must pass through
// NormalizeBounds at ingestion.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// NormalizeBounds returns a Bounds with min <= max on both axes regardless
// of the ordering of the four raw corner values. The remote API orders
// corners by hemisphere, so a southern-hemisphere track can report its
// "min" latitude above its "max".
func NormalizeBounds(lat1, lng1, lat2, lng2 float64) Bounds {
	b := Bounds{MinLat: lat1, MinLng: lng1, MaxLat: lat2, MaxLng: lng2}
	if b.MinLat > b.MaxLat {
		b.MinLat, b.MaxLat = b.MaxLat, b.MinLat
	}
	if b.MinLng > b.MaxLng {
		b.MinLng, b.MaxLng = b.MaxLng, b.MinLng
	}
	return b
}

// IsNormalized reports whether min <= max on both axes.
func (b Bounds) IsNormalized() bool {
	return b.MinLat <= b.MaxLat && b.MinLng <= b.MaxLng
}

// Intersects reports whether two boxes overlap (edges touching counts).
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat &&
		b.MinLng <= o.MaxLng && o.MinLng <= b.MaxLng
}

// Contains reports whether the point lies inside the box (inclusive).
func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Center returns the midpoint of the box.
func (b Bounds) Center() LatLng {
	return LatLng{Lat: (b.MinLat + b.MaxLat) / 2, Lng: (b.MinLng + b.MaxLng) / 2}
}

// ActivityBoundsItem is the persisted, derived record for one activity:
// its normalized bounding box plus the metadata needed for display and
// filtering. Items are created during sync batch processing, never mutated
// after insertion, and removed only by a full cache clear.
type ActivityBoundsItem struct {
	ID          string    `json:"id"`
	Bounds      Bounds    `json:"bounds"`
	Type        SportType `json:"type"`
	Name        string    `json:"name"`
	Date        time.Time `json:"date"`
	DistanceM   float64   `json:"distance_m"`
	DurationSec float64   `json:"duration_sec"`
}

// ActivityBoundsCache is the aggregate root persisted by the bounds store.
//
// Invariants:
//   - LastSync is monotonically non-decreasing across merges.
//   - Merging never drops previously cached entries (additive union by ID).
type ActivityBoundsCache struct {
	LastSync     time.Time                      `json:"last_sync"`
	OldestSynced time.Time                      `json:"oldest_synced"`
	Activities   map[string]*ActivityBoundsItem `json:"activities"`
}

// NewActivityBoundsCache returns an empty cache ready for merging.
func NewActivityBoundsCache() *ActivityBoundsCache {
	return &ActivityBoundsCache{Activities: make(map[string]*ActivityBoundsItem)}
}

// MergeEntries merges items into the cache as an additive union keyed by
// activity ID and advances LastSync to syncedAt if later. Merging the same
// item set twice yields the same cache as merging it once.
func (c *ActivityBoundsCache) MergeEntries(items []*ActivityBoundsItem, syncedAt time.Time) {
	if c.Activities == nil {
		c.Activities = make(map[string]*ActivityBoundsItem, len(items))
	}
	for _, item := range items {
		if item == nil || item.ID == "" {
			continue
		}
		c.Activities[item.ID] = item
	}
	if syncedAt.After(c.LastSync) {
		c.LastSync = syncedAt
	}
}

// Has reports whether an activity ID is already cached.
func (c *ActivityBoundsCache) Has(id string) bool {
	_, ok := c.Activities[id]
	return ok
}

// Items returns the cached entries as a slice, in no particular order.
func (c *ActivityBoundsCache) Items() []*ActivityBoundsItem {
	items := make([]*ActivityBoundsItem, 0, len(c.Activities))
	for _, item := range c.Activities {
		items = append(items, item)
	}
	return items
}

// IDs returns the cached activity IDs, in no particular order.
func (c *ActivityBoundsCache) IDs() []string {
	ids := make([]string, 0, len(c.Activities))
	for id := range c.Activities {
		ids = append(ids, id)
	}
	return ids
}

// Clone returns a deep copy. Observers receive clones so the cache owned by
// the sync manager is never mutated through a snapshot.
func (c *ActivityBoundsCache) Clone() *ActivityBoundsCache {
	if c == nil {
		return nil
	}
	out := &ActivityBoundsCache{
		LastSync:     c.LastSync,
		OldestSynced: c.OldestSynced,
		Activities:   make(map[string]*ActivityBoundsItem, len(c.Activities)),
	}
	for id, item := range c.Activities {
		cp := *item
		out.Activities[id] = &cp
	}
	return out
}

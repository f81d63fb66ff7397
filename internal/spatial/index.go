// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

// Package spatial provides an in-memory grid index over activity bounding
// boxes for sub-linear region queries.
//
// Space is divided into fixed-size cells; each activity is registered in
// every cell its bounding box covers. A region query only inspects the
// cells overlapping the query box instead of scanning all activities.
//
// The index must always reflect exactly the contents of the current bounds
// cache: every successful cache merge is followed by a BulkInsert, and a
// full cache clear by Clear, in the same logical transaction. That
// consistency obligation is owned by the sync manager; this package only
// provides the structure.
package spatial

import (
	"math"
	"sync"

	"github.com/golang/geo/s2"

	"github.com/veloroute/veloroute/internal/models"
)

// earthRadiusKm is Earth's mean radius.
const earthRadiusKm = 6371.0

// maxCellsPerEntry caps how many cells one bounding box may register in.
// Boxes spanning more cells (a cross-country tour at a small cell size) go
// into an overflow set that every query checks linearly; such entries are
// rare enough that the scan stays cheap.
const maxCellsPerEntry = 256

// cellKey identifies one grid cell.
type cellKey struct {
	X, Y int
}

// Index is a grid-cell spatial index over ActivityBoundsItems.
type Index struct {
	mu       sync.RWMutex
	cellSize float64 // degrees
	cells    map[cellKey][]string
	entries  map[string]*models.ActivityBoundsItem
	large    map[string]bool
}

// NewIndex creates an index with the given cell size in kilometers.
// Smaller cells are more precise per query but cost more per insert.
func NewIndex(cellSizeKm float64) *Index {
	if cellSizeKm <= 0 {
		cellSizeKm = 25
	}
	return &Index{
		cellSize: cellSizeKm / 111.0, // ~111 km per degree at the equator
		cells:    make(map[cellKey][]string),
		entries:  make(map[string]*models.ActivityBoundsItem),
		large:    make(map[string]bool),
	}
}

// BuildFromActivities replaces the whole index with the given items.
func (ix *Index) BuildFromActivities(items []*models.ActivityBoundsItem) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.cells = make(map[cellKey][]string, len(items))
	ix.entries = make(map[string]*models.ActivityBoundsItem, len(items))
	ix.large = make(map[string]bool)
	for _, item := range items {
		ix.insertLocked(item)
	}
}

// BulkInsert adds newly synced items incrementally. Existing entries with
// the same ID are replaced.
func (ix *Index) BulkInsert(items []*models.ActivityBoundsItem) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, item := range items {
		ix.insertLocked(item)
	}
}

// Clear empties the index. Paired with a full cache clear.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.cells = make(map[cellKey][]string)
	ix.entries = make(map[string]*models.ActivityBoundsItem)
	ix.large = make(map[string]bool)
}

// Size returns the number of indexed activities.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// QueryRegion returns all activities whose bounds intersect the query box.
func (ix *Index) QueryRegion(region models.Bounds) []*models.ActivityBoundsItem {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.collect(region, func(item *models.ActivityBoundsItem) bool {
		return item.Bounds.Intersects(region)
	})
}

// QueryNearby returns activities whose bounding-box center lies within
// radiusKm of the given point.
func (ix *Index) QueryNearby(lat, lng, radiusKm float64) []*models.ActivityBoundsItem {
	// Expand the point into a box so the cell walk covers the radius;
	// exact distance is checked per entry.
	radiusDeg := radiusKm / 111.0
	lngStretch := math.Max(math.Cos(lat*math.Pi/180), 0.01)
	region := models.Bounds{
		MinLat: lat - radiusDeg,
		MaxLat: lat + radiusDeg,
		MinLng: lng - radiusDeg/lngStretch,
		MaxLng: lng + radiusDeg/lngStretch,
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.collect(region, func(item *models.ActivityBoundsItem) bool {
		c := item.Bounds.Center()
		return DistanceKm(lat, lng, c.Lat, c.Lng) <= radiusKm
	})
}

// collect walks the cells covering region plus the overflow set, applying
// keep to deduplicated candidates. Caller holds at least the read lock.
func (ix *Index) collect(region models.Bounds, keep func(*models.ActivityBoundsItem) bool) []*models.ActivityBoundsItem {
	seen := make(map[string]bool)
	var results []*models.ActivityBoundsItem

	consider := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		entry := ix.entries[id]
		if entry != nil && keep(entry) {
			cp := *entry
			results = append(results, &cp)
		}
	}

	keys, overflow := ix.coverKeys(region)
	if !overflow {
		for _, key := range keys {
			for _, id := range ix.cells[key] {
				consider(id)
			}
		}
	} else {
		// The query box itself spans too many cells; scanning all
		// entries beats materializing the cell walk.
		for id := range ix.entries {
			consider(id)
		}
		return results
	}
	for id := range ix.large {
		consider(id)
	}
	return results
}

// insertLocked registers an item in every cell its bounds cover, or in the
// overflow set when the box is too large. Caller holds the write lock.
func (ix *Index) insertLocked(item *models.ActivityBoundsItem) {
	if item == nil || item.ID == "" || !item.Bounds.IsNormalized() {
		return
	}
	if _, exists := ix.entries[item.ID]; exists {
		ix.removeLocked(item.ID)
	}

	cp := *item
	ix.entries[item.ID] = &cp

	keys, overflow := ix.coverKeys(item.Bounds)
	if overflow {
		ix.large[item.ID] = true
		return
	}
	for _, key := range keys {
		ix.cells[key] = append(ix.cells[key], item.ID)
	}
}

// removeLocked drops an item from its cells or the overflow set. Caller
// holds the write lock.
func (ix *Index) removeLocked(id string) {
	entry, ok := ix.entries[id]
	if !ok {
		return
	}
	if ix.large[id] {
		delete(ix.large, id)
		delete(ix.entries, id)
		return
	}
	keys, _ := ix.coverKeys(entry.Bounds)
	for _, key := range keys {
		ids := ix.cells[key]
		for i, candidate := range ids {
			if candidate == id {
				ids[i] = ids[len(ids)-1]
				ix.cells[key] = ids[:len(ids)-1]
				break
			}
		}
		if len(ix.cells[key]) == 0 {
			delete(ix.cells, key)
		}
	}
	delete(ix.entries, id)
}

// coverKeys returns the cell keys covering a bounding box, or overflow
// when the box spans more than maxCellsPerEntry cells.
func (ix *Index) coverKeys(b models.Bounds) ([]cellKey, bool) {
	minX := int(math.Floor(normalizeLng(b.MinLng) / ix.cellSize))
	maxX := int(math.Floor(normalizeLng(b.MaxLng) / ix.cellSize))
	minY := int(math.Floor(b.MinLat / ix.cellSize))
	maxY := int(math.Floor(b.MaxLat / ix.cellSize))
	if maxX < minX {
		// Box crosses the antimeridian; treat as overflow rather than
		// wrapping the walk around the globe.
		return nil, true
	}

	span := (maxX - minX + 1) * (maxY - minY + 1)
	if span > maxCellsPerEntry {
		return nil, true
	}

	keys := make([]cellKey, 0, span)
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			keys = append(keys, cellKey{X: x, Y: y})
		}
	}
	return keys, false
}

func normalizeLng(lng float64) float64 {
	for lng > 180 {
		lng -= 360
	}
	for lng < -180 {
		lng += 360
	}
	return lng
}

// DistanceKm returns the great-circle distance between two points in
// kilometers.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * earthRadiusKm
}

// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package spatial

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloroute/veloroute/internal/models"
)

func item(id string, minLat, minLng, maxLat, maxLng float64) *models.ActivityBoundsItem {
	return &models.ActivityBoundsItem{
		ID:     id,
		Bounds: models.NormalizeBounds(minLat, minLng, maxLat, maxLng),
		Type:   models.SportRide,
	}
}

func TestBuildAndQueryRegion(t *testing.T) {
	ix := NewIndex(25)
	ix.BuildFromActivities([]*models.ActivityBoundsItem{
		item("zurich", 47.3, 8.4, 47.5, 8.7),
		item("bern", 46.9, 7.3, 47.0, 7.5),
		item("sydney", -33.9, 151.1, -33.8, 151.3),
	})
	require.Equal(t, 3, ix.Size())

	got := ix.QueryRegion(models.NormalizeBounds(47.0, 8.0, 48.0, 9.0))
	require.Len(t, got, 1)
	assert.Equal(t, "zurich", got[0].ID)

	got = ix.QueryRegion(models.NormalizeBounds(46.0, 7.0, 48.0, 9.0))
	assert.Len(t, got, 2)

	got = ix.QueryRegion(models.NormalizeBounds(0, 0, 1, 1))
	assert.Empty(t, got)
}

func TestBulkInsertReplacesByID(t *testing.T) {
	ix := NewIndex(25)
	ix.BulkInsert([]*models.ActivityBoundsItem{item("a", 47.0, 8.0, 47.1, 8.1)})
	ix.BulkInsert([]*models.ActivityBoundsItem{item("a", 10.0, 10.0, 10.1, 10.1)})

	assert.Equal(t, 1, ix.Size())
	assert.Empty(t, ix.QueryRegion(models.NormalizeBounds(46, 7, 48, 9)))
	assert.Len(t, ix.QueryRegion(models.NormalizeBounds(9, 9, 11, 11)), 1)
}

func TestClearEmptiesIndex(t *testing.T) {
	ix := NewIndex(25)
	ix.BulkInsert([]*models.ActivityBoundsItem{item("a", 47.0, 8.0, 47.1, 8.1)})
	ix.Clear()

	assert.Equal(t, 0, ix.Size())
	assert.Empty(t, ix.QueryRegion(models.NormalizeBounds(46, 7, 48, 9)))
}

func TestLargeBoundsStillFound(t *testing.T) {
	ix := NewIndex(5)
	// A box spanning half a continent lands in the overflow set.
	ix.BulkInsert([]*models.ActivityBoundsItem{item("tour", 40.0, -5.0, 55.0, 15.0)})

	got := ix.QueryRegion(models.NormalizeBounds(47.0, 8.0, 47.5, 8.5))
	require.Len(t, got, 1)
	assert.Equal(t, "tour", got[0].ID)
}

func TestQueryNearby(t *testing.T) {
	ix := NewIndex(25)
	ix.BulkInsert([]*models.ActivityBoundsItem{
		item("close", 47.30, 8.40, 47.32, 8.42),
		item("far", 46.0, 6.0, 46.02, 6.02),
	})

	got := ix.QueryNearby(47.31, 8.41, 20)
	require.Len(t, got, 1)
	assert.Equal(t, "close", got[0].ID)
}

func TestQueryReturnsCopies(t *testing.T) {
	ix := NewIndex(25)
	ix.BulkInsert([]*models.ActivityBoundsItem{item("a", 47.0, 8.0, 47.1, 8.1)})

	got := ix.QueryRegion(models.NormalizeBounds(46, 7, 48, 9))
	require.Len(t, got, 1)
	got[0].Name = "mutated"

	again := ix.QueryRegion(models.NormalizeBounds(46, 7, 48, 9))
	assert.Empty(t, again[0].Name)
}

func TestManyEntriesNoDuplicates(t *testing.T) {
	ix := NewIndex(25)
	var items []*models.ActivityBoundsItem
	for i := 0; i < 50; i++ {
		lat := 47.0 + float64(i)*0.01
		items = append(items, item(fmt.Sprintf("a%d", i), lat, 8.0, lat+0.3, 8.6))
	}
	ix.BuildFromActivities(items)

	got := ix.QueryRegion(models.NormalizeBounds(47.0, 8.0, 48.0, 9.0))
	assert.Len(t, got, 50, "overlapping entries must be deduplicated, not repeated per cell")
}

func TestDistanceKm(t *testing.T) {
	// Zurich HB to Bern, roughly 95 km.
	d := DistanceKm(47.3779, 8.5403, 46.9490, 7.4386)
	assert.InDelta(t, 95, d, 5)
}

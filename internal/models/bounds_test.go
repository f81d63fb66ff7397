// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBounds(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
	}{
		{"northern hemisphere ordered", 47.1, 8.2, 47.9, 8.9},
		{"southern hemisphere swapped lat", -33.1, 151.0, -33.9, 151.3},
		{"western hemisphere swapped lng", 40.1, -73.5, 40.9, -74.2},
		{"both swapped", -33.1, -70.2, -33.9, -70.9},
		{"degenerate point", 47.5, 8.5, 47.5, 8.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NormalizeBounds(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			assert.True(t, b.IsNormalized(), "bounds %+v not normalized", b)
			assert.LessOrEqual(t, b.MinLat, b.MaxLat)
			assert.LessOrEqual(t, b.MinLng, b.MaxLng)
		})
	}
}

func TestBoundsIntersects(t *testing.T) {
	a := NormalizeBounds(47.0, 8.0, 48.0, 9.0)

	assert.True(t, a.Intersects(NormalizeBounds(47.5, 8.5, 48.5, 9.5)))
	assert.True(t, a.Intersects(NormalizeBounds(48.0, 9.0, 49.0, 10.0)), "touching edges count")
	assert.False(t, a.Intersects(NormalizeBounds(50.0, 8.0, 51.0, 9.0)))
	assert.False(t, a.Intersects(NormalizeBounds(47.0, 10.0, 48.0, 11.0)))
}

func TestMergeEntriesIdempotent(t *testing.T) {
	now := time.Now()
	items := []*ActivityBoundsItem{
		{ID: "a1", Bounds: NormalizeBounds(47, 8, 48, 9), Type: SportRide},
		{ID: "a2", Bounds: NormalizeBounds(46, 7, 47, 8), Type: SportRun},
	}

	once := NewActivityBoundsCache()
	once.MergeEntries(items, now)

	twice := NewActivityBoundsCache()
	twice.MergeEntries(items, now)
	twice.MergeEntries(items, now)

	assert.Equal(t, once.Activities, twice.Activities)
	assert.Equal(t, once.LastSync, twice.LastSync)
	assert.Len(t, twice.Activities, 2)
}

func TestMergeEntriesAdditive(t *testing.T) {
	c := NewActivityBoundsCache()
	c.MergeEntries([]*ActivityBoundsItem{{ID: "a1"}}, time.Now())
	c.MergeEntries([]*ActivityBoundsItem{{ID: "a2"}}, time.Now())

	assert.True(t, c.Has("a1"), "earlier entries survive later merges")
	assert.True(t, c.Has("a2"))
}

func TestMergeEntriesMonotonicLastSync(t *testing.T) {
	c := NewActivityBoundsCache()
	later := time.Now()
	earlier := later.Add(-time.Hour)

	c.MergeEntries([]*ActivityBoundsItem{{ID: "a1"}}, later)
	c.MergeEntries([]*ActivityBoundsItem{{ID: "a2"}}, earlier)

	assert.Equal(t, later, c.LastSync, "an older partial sync must not rewind lastSync")
}

func TestMergeEntriesSkipsInvalid(t *testing.T) {
	c := NewActivityBoundsCache()
	c.MergeEntries([]*ActivityBoundsItem{nil, {ID: ""}, {ID: "ok"}}, time.Now())
	assert.Len(t, c.Activities, 1)
}

func TestCloneIsDeep(t *testing.T) {
	c := NewActivityBoundsCache()
	c.MergeEntries([]*ActivityBoundsItem{{ID: "a1", Name: "morning ride"}}, time.Now())

	snap := c.Clone()
	require.NotNil(t, snap)
	snap.Activities["a1"].Name = "mutated"

	assert.Equal(t, "morning ride", c.Activities["a1"].Name)
}

func TestCheckpointShrink(t *testing.T) {
	cp := &SyncCheckpoint{
		Oldest:     time.Now().Add(-30 * 24 * time.Hour),
		Newest:     time.Now(),
		PendingIDs: []string{"a", "b", "c", "d"},
	}

	next := cp.Shrink([]string{"b", "d"})
	assert.Equal(t, []string{"a", "c"}, next.PendingIDs)
	assert.True(t, next.NeedsResume())

	final := next.Shrink([]string{"a", "c"})
	assert.Empty(t, final.PendingIDs)
	assert.False(t, final.NeedsResume())
}

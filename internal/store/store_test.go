// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloroute/veloroute/internal/models"
)

func openTestDB(t *testing.T) *BadgerBoundsStore {
	t.Helper()
	db, err := Open(t.TempDir(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerBoundsStore(db)
}

func TestBoundsCacheRoundTrip(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "empty store loads as nil, not an empty cache")

	cache := models.NewActivityBoundsCache()
	cache.MergeEntries([]*models.ActivityBoundsItem{
		{ID: "a1", Bounds: models.NormalizeBounds(47, 8, 48, 9), Type: models.SportRide, Name: "loop"},
	}, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	require.NoError(t, s.Store(ctx, cache))

	loaded, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.Has("a1"))
	assert.Equal(t, cache.LastSync.Unix(), loaded.LastSync.Unix())

	require.NoError(t, s.Clear(ctx))
	loaded, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestGPSTrackChannelSeparateFromCache(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	tracks := map[string]models.Track{
		"a1": {{Lat: 47.1, Lng: 8.1}, {Lat: 47.2, Lng: 8.2}},
		"a2": {{Lat: 46.1, Lng: 7.1}},
	}
	require.NoError(t, s.StoreGPSTracks(ctx, tracks))

	// Clearing the metadata cache must not touch the GPS channel.
	require.NoError(t, s.Clear(ctx))

	track, err := s.LoadGPSTrack(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, track, 2)

	require.NoError(t, s.ClearAllGPSTracks(ctx))
	track, err = s.LoadGPSTrack(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, track)
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	cp, err := s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)

	want := &models.SyncCheckpoint{
		Oldest:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Newest:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		PendingIDs: []string{"a1", "a2", "a3"},
		Timestamp:  time.Now().UTC(),
	}
	require.NoError(t, s.StoreCheckpoint(ctx, want))

	cp, err = s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, want.PendingIDs, cp.PendingIDs)
	assert.True(t, cp.NeedsResume())

	require.NoError(t, s.ClearCheckpoint(ctx))
	cp, err = s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestOldestDateMarker(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	date, err := s.LoadOldestDate(ctx)
	require.NoError(t, err)
	assert.True(t, date.IsZero())

	want := time.Date(2014, 5, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.StoreOldestDate(ctx, want))

	date, err = s.LoadOldestDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, date.UTC())
}

func TestRouteCacheVersionMismatchDiscards(t *testing.T) {
	db, err := Open(t.TempDir(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := NewBadgerRouteCacheStore(db)
	ctx := context.Background()

	stale := models.NewRouteMatchCache()
	stale.Version = models.RouteMatchCacheVersion - 1
	require.NoError(t, s.Store(ctx, stale))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "stale schema version must be discarded")

	current := models.NewRouteMatchCache()
	current.ProcessedActivityIDs["a1"] = true
	require.NoError(t, s.Store(ctx, current))

	loaded, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.IsProcessed("a1"))
}

func TestCanceledContextIsObserved(t *testing.T) {
	s := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Store(ctx, models.NewActivityBoundsCache()), context.Canceled)
}

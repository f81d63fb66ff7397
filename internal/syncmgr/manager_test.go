// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package syncmgr

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloroute/veloroute/internal/config"
	"github.com/veloroute/veloroute/internal/events"
	"github.com/veloroute/veloroute/internal/models"
	"github.com/veloroute/veloroute/internal/spatial"
	"github.com/veloroute/veloroute/internal/store"
	"github.com/veloroute/veloroute/internal/trainingapi"
)

// fakeAPI is an in-memory stand-in for the remote training-data API.
type fakeAPI struct {
	mu          sync.Mutex
	activities  []models.Activity
	listErr     error
	listCalls   [][2]time.Time
	boundsCalls []string
	boundsHook  func(id string) error
	oldest      time.Time
}

func (f *fakeAPI) ListActivities(_ context.Context, oldest, newest time.Time, _ []string) ([]models.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, [2]time.Time{oldest, newest})
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Activity
	for _, a := range f.activities {
		if !a.StartDate.Before(oldest.Truncate(24*time.Hour)) && !a.StartDate.After(newest.Add(24*time.Hour)) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAPI) OldestActivityDate(context.Context) (time.Time, error) {
	if f.oldest.IsZero() {
		return time.Time{}, trainingapi.ErrNoActivities
	}
	return f.oldest, nil
}

func (f *fakeAPI) ActivityBounds(ctx context.Context, id string) (*trainingapi.ActivityBounds, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	hook := f.boundsHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(id); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	f.boundsCalls = append(f.boundsCalls, id)
	f.mu.Unlock()
	return &trainingapi.ActivityBounds{
		ActivityID: id,
		Normalized: models.NormalizeBounds(47.0, 8.0, 47.1, 8.1),
		Track: models.Track{
			{Lat: 47.0, Lng: 8.0}, {Lat: 47.05, Lng: 8.05}, {Lat: 47.1, Lng: 8.1},
		},
	}, nil
}

func (f *fakeAPI) boundsFetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.boundsCalls...)
}

func (f *fakeAPI) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listCalls)
}

func gpsActivity(id string, daysAgo int) models.Activity {
	return models.Activity{
		ID:          id,
		Name:        "Activity " + id,
		Type:        models.SportRide,
		StartDate:   time.Now().AddDate(0, 0, -daysAgo),
		DurationSec: 3600,
		DistanceM:   30000,
		HasPolyline: true,
	}
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		InitialDays: 90,
		Debounce:    40 * time.Millisecond,
		BatchSize:   2,
		Concurrency: 1,
	}
}

func newTestManager(t *testing.T, api *fakeAPI) (*Manager, *store.MemoryBoundsStore, *events.Bus) {
	t.Helper()
	st := store.NewMemoryBoundsStore()
	bus := events.NewBus(64)
	t.Cleanup(func() { _ = bus.Close() })
	m := New(testSyncConfig(), api, st, spatial.NewIndex(25), bus)
	return m, st, bus
}

func TestInitialSyncWithEmptyStore(t *testing.T) {
	api := &fakeAPI{
		oldest: time.Now().AddDate(-5, 0, 0),
		activities: []models.Activity{
			gpsActivity("a1", 10),
			gpsActivity("a2", 20),
			{ID: "a3", Name: "Gym", Type: models.SportWeightTraining, StartDate: time.Now().AddDate(0, 0, -5)},
		},
	}
	m, st, bus := newTestManager(t, api)

	initialDone := make(chan events.InitialSyncComplete, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, events.Consume(ctx, bus, events.TopicInitialSyncComplete,
		func(_ context.Context, ev events.InitialSyncComplete) error {
			initialDone <- ev
			return nil
		}))

	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, StateIdle, m.State())

	snap := m.CacheSnapshot()
	require.NotNil(t, snap)
	assert.Len(t, snap.Activities, 2, "only GPS-capable activities are cached")
	assert.Contains(t, snap.Activities, "a1")
	assert.Contains(t, snap.Activities, "a2")
	assert.WithinDuration(t, time.Now(), snap.LastSync, 5*time.Second)

	persisted, err := st.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Len(t, persisted.Activities, 2)

	select {
	case ev := <-initialDone:
		assert.ElementsMatch(t, []string{"a1", "a2"}, ev.ActivityIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("initial sync completion event not published")
	}
}

func TestSyncBeforeInitializeIsRejected(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeAPI{oldest: time.Now()})

	err := m.SyncDateRange(time.Now().AddDate(0, -1, 0), time.Now(), false)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateUninitialized, m.State())
}

func TestDebouncedScrubExecutesOnce(t *testing.T) {
	api := &fakeAPI{oldest: time.Now().AddDate(-1, 0, 0)}
	m, _, _ := newTestManager(t, api)
	require.NoError(t, m.Initialize(context.Background()))
	listedBefore := api.listCount()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var finalOldest time.Time
	for i := range 5 {
		finalOldest = base.AddDate(0, 0, i)
		require.NoError(t, m.SyncDateRange(finalOldest, base.AddDate(0, 1, 0), true))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return api.listCount() == listedBefore+1
	}, 2*time.Second, 10*time.Millisecond, "exactly one coalesced sync must run")

	// Enough quiet time to catch a stray second execution.
	time.Sleep(3 * testSyncConfig().Debounce)
	assert.Equal(t, listedBefore+1, api.listCount())

	api.mu.Lock()
	last := api.listCalls[len(api.listCalls)-1]
	api.mu.Unlock()
	assert.True(t, last[0].Equal(finalOldest), "the final call's range wins")
}

func TestCheckpointResumeFetchesExactlyPending(t *testing.T) {
	now := time.Now()
	api := &fakeAPI{
		oldest: now.AddDate(-2, 0, 0),
		activities: []models.Activity{
			gpsActivity("a", 15), gpsActivity("b", 16), gpsActivity("c", 17),
		},
	}
	m, st, bus := newTestManager(t, api)

	// c was already synced; a and b were pending when the app died.
	seeded := models.NewActivityBoundsCache()
	seeded.MergeEntries([]*models.ActivityBoundsItem{{
		ID: "c", Bounds: models.NormalizeBounds(47, 8, 47.1, 8.1), Type: models.SportRide, Date: now.AddDate(0, 0, -17),
	}}, now)
	require.NoError(t, st.Store(context.Background(), seeded))
	require.NoError(t, st.StoreCheckpoint(context.Background(), &models.SyncCheckpoint{
		Oldest:     now.AddDate(0, 0, -30),
		Newest:     now,
		PendingIDs: []string{"a", "b"},
		Timestamp:  now,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	var resumedBatches [][]string
	require.NoError(t, events.Consume(ctx, bus, events.TopicActivitiesSynced,
		func(_ context.Context, ev events.ActivitiesSynced) error {
			if ev.Resumed {
				mu.Lock()
				resumedBatches = append(resumedBatches, ev.ActivityIDs)
				mu.Unlock()
			}
			return nil
		}))

	require.NoError(t, m.Initialize(context.Background()))

	assert.ElementsMatch(t, []string{"a", "b"}, api.boundsFetched(),
		"exactly the pending activities are re-fetched, no duplicates")

	snap := m.CacheSnapshot()
	require.NotNil(t, snap)
	assert.Len(t, snap.Activities, 3)

	cp, err := st.LoadCheckpoint(context.Background())
	require.NoError(t, err)
	assert.False(t, cp.NeedsResume(), "checkpoint cleared after the resume drains")

	// Resumed batches still fire the per-batch signal so route
	// processing stays incremental.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(resumedBatches) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancellationKeepsFetchedResults(t *testing.T) {
	api := &fakeAPI{
		oldest: time.Now().AddDate(-1, 0, 0),
		activities: []models.Activity{
			gpsActivity("n1", 1), gpsActivity("n2", 2), gpsActivity("n3", 3), gpsActivity("n4", 4),
		},
	}
	m, st, _ := newTestManager(t, api)

	var calls int
	api.boundsHook = func(string) error {
		calls++
		if calls == 3 {
			// Third fetch: the first batch of two already landed.
			m.CancelSync()
			return context.Canceled
		}
		return nil
	}

	err := m.Initialize(context.Background())
	require.NoError(t, err, "cancellation is not an initialization failure")
	assert.Equal(t, StateIdle, m.State(), "abort returns to idle, not error")

	snap := m.CacheSnapshot()
	require.NotNil(t, snap)
	assert.Len(t, snap.Activities, 2, "first batch persisted despite cancellation")

	cp, cperr := st.LoadCheckpoint(context.Background())
	require.NoError(t, cperr)
	require.True(t, cp.NeedsResume(), "unfetched activities stay pending")
	assert.Len(t, cp.PendingIDs, 2)
}

func TestErrorStateIsRetryable(t *testing.T) {
	api := &fakeAPI{oldest: time.Now().AddDate(-1, 0, 0), listErr: fmt.Errorf("upstream exploded")}
	m, _, _ := newTestManager(t, api)

	err := m.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, m.State())

	api.mu.Lock()
	api.listErr = nil
	api.mu.Unlock()

	require.NoError(t, m.SyncDateRange(time.Now().AddDate(0, -1, 0), time.Now(), false))
	assert.Equal(t, StateIdle, m.State())
}

func TestClearCacheResetsEverything(t *testing.T) {
	api := &fakeAPI{
		oldest:     time.Now().AddDate(-1, 0, 0),
		activities: []models.Activity{gpsActivity("x1", 3)},
	}
	m, st, _ := newTestManager(t, api)
	require.NoError(t, m.Initialize(context.Background()))
	require.NotNil(t, m.CacheSnapshot())

	var gotNil bool
	unsub := m.OnCacheUpdate(func(c *models.ActivityBoundsCache) {
		if c == nil {
			gotNil = true
		}
	})
	defer unsub()

	require.NoError(t, m.ClearCache(context.Background()))
	assert.Nil(t, m.CacheSnapshot())
	assert.True(t, gotNil, "observers see the cleared cache")

	persisted, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, persisted)
}

func TestDeltaSyncStartsFromLastSync(t *testing.T) {
	now := time.Now()
	lastSync := now.AddDate(0, 0, -7)
	api := &fakeAPI{oldest: now.AddDate(-1, 0, 0)}
	m, st, _ := newTestManager(t, api)

	seeded := models.NewActivityBoundsCache()
	seeded.MergeEntries([]*models.ActivityBoundsItem{{
		ID: "old", Bounds: models.NormalizeBounds(1, 2, 3, 4), Type: models.SportRun, Date: lastSync,
	}}, lastSync)
	require.NoError(t, st.Store(context.Background(), seeded))

	require.NoError(t, m.Initialize(context.Background()))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.NotEmpty(t, api.listCalls)
	delta := api.listCalls[len(api.listCalls)-1]
	assert.WithinDuration(t, lastSync, delta[0], time.Second, "delta window starts at lastSync")
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateUninitialized, StateInitializing, true},
		{StateUninitialized, StateSyncing, false},
		{StateInitializing, StateIdle, true},
		{StateInitializing, StateSyncing, false},
		{StateIdle, StateSyncing, true},
		{StateIdle, StateError, false},
		{StateSyncing, StateSyncing, true},
		{StateSyncing, StateIdle, true},
		{StateSyncing, StateError, true},
		{StateError, StateSyncing, true},
		{StateError, StateUninitialized, true},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.ok, canTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestMonotonicLastSyncAcrossRuns(t *testing.T) {
	api := &fakeAPI{
		oldest:     time.Now().AddDate(-1, 0, 0),
		activities: []models.Activity{gpsActivity("m1", 2)},
	}
	m, _, _ := newTestManager(t, api)
	require.NoError(t, m.Initialize(context.Background()))

	first := m.CacheSnapshot().LastSync
	require.NoError(t, m.Sync90Days())
	second := m.CacheSnapshot().LastSync
	assert.False(t, second.Before(first))
}

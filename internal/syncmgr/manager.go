// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

// Package syncmgr owns the activity bounds cache and the incremental sync
// lifecycle: an explicit state machine, checkpoint-before-fetch durability,
// debounced date-range syncs, cooperative cancellation and the two outgoing
// signals route processing is driven by.
package syncmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veloroute/veloroute/internal/config"
	"github.com/veloroute/veloroute/internal/events"
	"github.com/veloroute/veloroute/internal/logging"
	"github.com/veloroute/veloroute/internal/metrics"
	"github.com/veloroute/veloroute/internal/models"
	"github.com/veloroute/veloroute/internal/spatial"
	"github.com/veloroute/veloroute/internal/store"
	"github.com/veloroute/veloroute/internal/trainingapi"
)

// dateRange is a pending debounced sync request.
type dateRange struct {
	oldest, newest time.Time
}

// Manager is the activity sync manager. It is constructed explicitly and
// owned by the composition root; Initialize and Shutdown are paired.
//
// The bounds cache is owned exclusively by the Manager. Observers receive
// deep-copied snapshots and never a reference to the live cache.
type Manager struct {
	cfg   config.SyncConfig
	api   trainingapi.Client
	store store.BoundsStore
	index *spatial.Index
	bus   *events.Bus

	mu        sync.Mutex
	state     State
	cache     *models.ActivityBoundsCache
	oldest    time.Time
	announced bool // initial-sync-complete already published

	// gen is the sync generation counter. A newer syncDateRange call
	// bumps it, making every continuation of an older run a no-op.
	gen       atomic.Uint64
	runCancel context.CancelFunc

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	pendingRange  dateRange

	progress *events.Subject[models.SyncProgress]
	cacheSub *events.Subject[*models.ActivityBoundsCache]
}

// New constructs a sync manager. Initialize must be called before any sync
// command.
func New(cfg config.SyncConfig, api trainingapi.Client, st store.BoundsStore, index *spatial.Index, bus *events.Bus) *Manager {
	return &Manager{
		cfg:      cfg,
		api:      api,
		store:    st,
		index:    index,
		bus:      bus,
		state:    StateUninitialized,
		cache:    models.NewActivityBoundsCache(),
		progress: events.NewSubject[models.SyncProgress](),
		cacheSub: events.NewSubject[*models.ActivityBoundsCache](),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CacheSnapshot returns a deep copy of the current bounds cache, or nil if
// nothing has been synced or loaded yet.
func (m *Manager) CacheSnapshot() *models.ActivityBoundsCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.cache.Activities) == 0 && m.cache.LastSync.IsZero() {
		return nil
	}
	return m.cache.Clone()
}

// OldestDate returns the cached oldest-activity date, zero if unknown.
func (m *Manager) OldestDate() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oldest
}

// Progress returns the latest progress snapshot.
func (m *Manager) Progress() models.SyncProgress {
	last, ok := m.progress.Last()
	if !ok {
		return models.SyncProgress{Status: models.SyncIdle}
	}
	return last
}

// OnProgress subscribes to sync progress. The latest progress snapshot is
// replayed immediately. The returned function unsubscribes.
func (m *Manager) OnProgress(fn func(models.SyncProgress)) func() {
	return m.progress.Subscribe(fn)
}

// OnCacheUpdate subscribes to bounds cache snapshots. The current snapshot
// is replayed immediately; nil means the cache was cleared.
func (m *Manager) OnCacheUpdate(fn func(*models.ActivityBoundsCache)) func() {
	return m.cacheSub.Subscribe(fn)
}

// transition attempts a state change, rejecting anything outside the
// transition table. State is unchanged on rejection.
func (m *Manager) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

func (m *Manager) transitionLocked(to State) error {
	if !canTransition(m.state, to) {
		logging.Warn().
			Str("from", string(m.state)).
			Str("to", string(to)).
			Msg("Rejected sync manager state transition")
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	logging.Debug().
		Str("from", string(m.state)).
		Str("to", string(to)).
		Msg("Sync manager state transition")
	m.state = to
	return nil
}

// Initialize brings the manager from uninitialized to idle: it loads the
// oldest-activity date (probing the API once and caching it if absent),
// loads the persisted bounds cache and rebuilds the spatial index from it,
// resumes an interrupted sync if a checkpoint demands it, and finally runs
// either a delta sync since the last run or the first-time lookback sync.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.transition(StateInitializing); err != nil {
		return err
	}

	if err := m.loadOldestDate(ctx); err != nil {
		m.enterError(fmt.Sprintf("load oldest activity date: %v", err))
		return fmt.Errorf("initialize: %w", err)
	}

	cached, err := m.store.Load(ctx)
	if err != nil {
		m.enterError(fmt.Sprintf("load bounds cache: %v", err))
		return fmt.Errorf("initialize: load bounds cache: %w", err)
	}

	m.mu.Lock()
	hadCache := cached != nil
	if hadCache {
		m.cache = cached
		m.index.BuildFromActivities(cached.Items())
		metrics.BoundsCacheSize.Set(float64(len(cached.Activities)))
	}
	lastSync := m.cache.LastSync
	if err := m.transitionLocked(StateIdle); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	if hadCache {
		m.cacheSub.Emit(m.CacheSnapshot())
	}
	m.emitProgress(0, 0, models.SyncIdle, "")

	if err := m.resumeCheckpoint(ctx); err != nil {
		// Resume failures are not fatal to initialization; the
		// checkpoint stays on disk for the next attempt.
		logging.Error().Err(err).Msg("Checkpoint resume failed")
	}

	now := time.Now()
	var syncErr error
	if hadCache && !lastSync.IsZero() {
		syncErr = m.SyncDateRange(lastSync, now, false)
	} else {
		syncErr = m.SyncDateRange(now.AddDate(0, 0, -m.cfg.InitialDays), now, false)
	}
	if syncErr != nil && !errors.Is(syncErr, ErrSuperseded) && !errors.Is(syncErr, context.Canceled) {
		return fmt.Errorf("initialize: %w", syncErr)
	}

	m.announceInitialSync()
	return nil
}

// announceInitialSync publishes the one-time initial-sync-complete event
// with the full set of cached activity IDs. Later syncs never re-publish
// it; late consumers catch up via set difference against the cache.
func (m *Manager) announceInitialSync() {
	m.mu.Lock()
	if m.announced {
		m.mu.Unlock()
		return
	}
	m.announced = true
	ids := m.cache.IDs()
	m.mu.Unlock()

	if err := m.bus.Publish(events.TopicInitialSyncComplete, events.InitialSyncComplete{
		ActivityIDs: ids,
		SyncedAt:    time.Now(),
	}); err != nil {
		logging.Error().Err(err).Msg("Publish initial sync completion failed")
	}
}

// loadOldestDate loads the oldest-activity marker, probing the remote API
// once and persisting the answer if the marker is absent.
func (m *Manager) loadOldestDate(ctx context.Context) error {
	date, err := m.store.LoadOldestDate(ctx)
	if err != nil {
		return err
	}
	if date.IsZero() {
		date, err = m.api.OldestActivityDate(ctx)
		if errors.Is(err, trainingapi.ErrNoActivities) {
			date = time.Now()
		} else if err != nil {
			return err
		}
		if err := m.store.StoreOldestDate(ctx, date); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.oldest = date
	m.mu.Unlock()
	return nil
}

// SyncDateRange syncs the inclusive date range. With debounce true the
// call is coalesced: timeline scrubbing fires many of these, and only the
// last one within the quiescence window executes. With debounce false the
// sync runs synchronously and its outcome is returned.
func (m *Manager) SyncDateRange(oldest, newest time.Time, debounce bool) error {
	if !debounce {
		return m.syncNow(oldest, newest, false)
	}

	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()
	m.pendingRange = dateRange{oldest: oldest, newest: newest}
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
	}
	m.debounceTimer = time.AfterFunc(m.cfg.Debounce, func() {
		m.debounceMu.Lock()
		r := m.pendingRange
		m.debounceMu.Unlock()
		if err := m.syncNow(r.oldest, r.newest, false); err != nil &&
			!errors.Is(err, ErrSuperseded) && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Debounced sync failed")
		}
	})
	return nil
}

// SyncAllHistory syncs from the oldest known activity to now.
func (m *Manager) SyncAllHistory() error {
	return m.SyncDateRange(m.OldestDate(), time.Now(), false)
}

// SyncOneYear syncs the last 365 days.
func (m *Manager) SyncOneYear() error {
	now := time.Now()
	return m.SyncDateRange(now.AddDate(-1, 0, 0), now, false)
}

// Sync90Days syncs the last 90 days.
func (m *Manager) Sync90Days() error {
	now := time.Now()
	return m.SyncDateRange(now.AddDate(0, 0, -90), now, false)
}

// CancelSync cancels the in-flight sync, if any. Results already fetched
// are kept; the checkpoint stays on disk so the remainder resumes later.
func (m *Manager) CancelSync() {
	m.debounceMu.Lock()
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
		m.debounceTimer = nil
	}
	m.debounceMu.Unlock()

	m.mu.Lock()
	cancel := m.runCancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ClearCache cancels any running sync and removes the bounds cache, all
// GPS track blobs and the checkpoint, then clears the spatial index. The
// oldest-date marker is kept; it does not depend on synced data.
func (m *Manager) ClearCache(ctx context.Context) error {
	m.CancelSync()

	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear bounds cache: %w", err)
	}
	if err := m.store.ClearAllGPSTracks(ctx); err != nil {
		return fmt.Errorf("clear gps tracks: %w", err)
	}
	if err := m.store.ClearCheckpoint(ctx); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}

	m.mu.Lock()
	m.cache = models.NewActivityBoundsCache()
	m.index.Clear()
	m.mu.Unlock()

	metrics.BoundsCacheSize.Set(0)
	m.cacheSub.Emit(nil)
	m.emitProgress(0, 0, models.SyncIdle, "")
	return nil
}

// Shutdown cancels outstanding work. The manager can be re-initialized.
func (m *Manager) Shutdown() {
	m.CancelSync()
	m.mu.Lock()
	m.state = StateUninitialized
	m.mu.Unlock()
}

// enterError moves to the error state and reports it through progress.
// Used for recoverable-but-reported failures; a later explicit retry is
// always permitted by the transition table.
func (m *Manager) enterError(msg string) {
	if err := m.transition(StateError); err != nil {
		logging.Error().Str("message", msg).Msg("Sync failed outside an error-capable state")
		return
	}
	m.emitProgress(0, 0, models.SyncError, msg)
}

func (m *Manager) emitProgress(completed, total int, status models.SyncStatus, msg string) {
	m.progress.Emit(models.SyncProgress{
		Completed: completed,
		Total:     total,
		Status:    status,
		Message:   msg,
	})
}

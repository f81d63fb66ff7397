// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package syncmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veloroute/veloroute/internal/events"
	"github.com/veloroute/veloroute/internal/logging"
	"github.com/veloroute/veloroute/internal/metrics"
	"github.com/veloroute/veloroute/internal/models"
	"github.com/veloroute/veloroute/internal/trainingapi"
)

// ErrSuperseded means a newer sync request took over before this one
// finished. Not a failure: the newer run owns the manager state.
var ErrSuperseded = errors.New("sync superseded by a newer request")

// syncNow runs a sync for the range immediately, superseding any sync
// already in flight.
func (m *Manager) syncNow(oldest, newest time.Time, resumed bool) error {
	gen, ctx, err := m.beginRun()
	if err != nil {
		return err
	}
	return m.runSync(ctx, gen, oldest, newest, nil, resumed)
}

// beginRun transitions to syncing, cancels the previous run's context and
// allocates a new generation. Continuations of older runs check their
// generation at every suspension point and become no-ops once stale.
func (m *Manager) beginRun() (uint64, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(StateSyncing); err != nil {
		return 0, nil, err
	}
	if m.runCancel != nil {
		m.runCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.runCancel = cancel
	return m.gen.Add(1), ctx, nil
}

// current reports whether gen is still the active sync generation.
func (m *Manager) current(gen uint64) bool {
	return m.gen.Load() == gen
}

// resumeCheckpoint replays an interrupted sync. It re-fetches metadata for
// the checkpoint's original date range, filters to exactly the still
// pending IDs and feeds them through the same batch path as a live sync.
func (m *Manager) resumeCheckpoint(ctx context.Context) error {
	cp, err := m.store.LoadCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if !cp.NeedsResume() {
		if cp != nil {
			// Empty pending list: stale leftover, nothing to redo.
			return m.store.ClearCheckpoint(ctx)
		}
		return nil
	}

	logging.Info().
		Int("pending", len(cp.PendingIDs)).
		Time("oldest", cp.Oldest).
		Time("newest", cp.Newest).
		Msg("Resuming interrupted sync from checkpoint")
	metrics.SyncCheckpointResumes.Inc()

	gen, runCtx, err := m.beginRun()
	if err != nil {
		return err
	}
	return m.runSync(runCtx, gen, cp.Oldest, cp.Newest, cp.PendingIDs, true)
}

// runSync executes one full sync pass. only, when non-nil, restricts the
// pass to that ID set (checkpoint resume). The pass persists partial
// results batch by batch, so cancellation keeps everything already
// fetched.
func (m *Manager) runSync(ctx context.Context, gen uint64, oldest, newest time.Time, only []string, resumed bool) error {
	start := time.Now()
	m.emitProgress(0, 0, models.SyncLoading, "")

	activities, err := m.api.ListActivities(ctx, oldest, newest, trainingapi.MetadataFields)
	if err != nil {
		return m.finishRun(gen, start, 0, err)
	}
	if !m.current(gen) {
		return m.finishRun(gen, start, 0, ErrSuperseded)
	}

	pending, byID := m.selectPending(activities, only)
	if len(pending) == 0 {
		// Nothing new; still advance lastSync so delta windows shrink.
		m.mergeBatch(nil, nil)
		if resumed {
			if err := m.store.ClearCheckpoint(context.Background()); err != nil {
				logging.Error().Err(err).Msg("Clear drained checkpoint failed")
			}
		}
		m.emitProgress(0, 0, models.SyncComplete, "")
		return m.finishRun(gen, start, 0, nil)
	}

	cp := &models.SyncCheckpoint{
		Oldest:     oldest,
		Newest:     newest,
		PendingIDs: pending,
		Timestamp:  time.Now(),
	}
	// Durability before risk: the checkpoint describing everything still
	// missing is on disk before the first bounds fetch starts.
	if err := m.store.StoreCheckpoint(ctx, cp); err != nil {
		return m.finishRun(gen, start, 0, fmt.Errorf("store checkpoint: %w", err))
	}

	merged, err := m.processBatches(ctx, gen, cp, byID, resumed)
	return m.finishRun(gen, start, merged, err)
}

// selectPending filters fetched metadata down to the IDs that need a
// bounds fetch: GPS-capable, carrying a polyline, not yet cached and (for
// resumes) restricted to the checkpoint's pending set. The result is
// sorted newest-first so an interrupted sync still yields the most recent
// activities, which matter most to users.
func (m *Manager) selectPending(activities []models.Activity, only []string) ([]string, map[string]models.Activity) {
	var onlySet map[string]bool
	if only != nil {
		onlySet = make(map[string]bool, len(only))
		for _, id := range only {
			onlySet[id] = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byID := make(map[string]models.Activity)
	candidates := make([]models.Activity, 0, len(activities))
	for _, a := range activities {
		if !a.Type.HasGPS() || !a.HasPolyline {
			continue
		}
		if onlySet != nil && !onlySet[a.ID] {
			continue
		}
		if m.cache.Has(a.ID) {
			continue
		}
		byID[a.ID] = a
		candidates = append(candidates, a)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].StartDate.After(candidates[j].StartDate)
	})
	ids := make([]string, len(candidates))
	for i, a := range candidates {
		ids[i] = a.ID
	}
	return ids, byID
}

// processBatches fetches bounds for the pending IDs in batches with
// bounded concurrency, merging each batch into the cache and shrinking the
// checkpoint as it lands. Returns how many activities were merged.
func (m *Manager) processBatches(ctx context.Context, gen uint64, cp *models.SyncCheckpoint, byID map[string]models.Activity, resumed bool) (int, error) {
	pending := cp.PendingIDs
	total := len(pending)
	completed := 0
	merged := 0
	m.emitProgress(0, total, models.SyncSyncing, "")

	remaining := cp
	for offset := 0; offset < total; offset += m.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return merged, err
		}
		if !m.current(gen) {
			return merged, ErrSuperseded
		}

		end := offset + m.cfg.BatchSize
		if end > total {
			end = total
		}
		batch := pending[offset:end]

		items, tracks := m.fetchBatch(ctx, batch, byID)
		if err := ctx.Err(); err != nil && len(items) == 0 {
			return merged, err
		}

		succeeded := make([]string, 0, len(items))
		for _, item := range items {
			succeeded = append(succeeded, item.ID)
		}

		// Merge and persist even when cancellation arrived mid-batch:
		// abort means stop fetching more, never discard obtained work.
		m.mergeBatch(items, tracks)
		merged += len(items)
		metrics.SyncBatches.Inc()

		// Failed IDs stay in the checkpoint for a future pass rather
		// than being silently marked complete.
		remaining = remaining.Shrink(succeeded)
		if err := m.store.StoreCheckpoint(context.Background(), remaining); err != nil {
			logging.Error().Err(err).Msg("Shrink checkpoint failed")
		}

		completed = end
		m.emitProgress(completed, total, models.SyncSyncing, "")

		if len(succeeded) > 0 {
			if err := m.bus.Publish(events.TopicActivitiesSynced, events.ActivitiesSynced{
				ActivityIDs: succeeded,
				SyncedAt:    time.Now(),
				Resumed:     resumed,
			}); err != nil {
				logging.Error().Err(err).Msg("Publish synced activities failed")
			}
		}

		if err := ctx.Err(); err != nil {
			return merged, err
		}
	}

	msg := ""
	if deferred := len(remaining.PendingIDs); deferred > 0 {
		msg = fmt.Sprintf("%d activities deferred to a later sync", deferred)
	} else if err := m.store.ClearCheckpoint(context.Background()); err != nil {
		logging.Error().Err(err).Msg("Clear completed checkpoint failed")
	}
	m.emitProgress(completed, total, models.SyncComplete, msg)
	return merged, nil
}

// fetchBatch fans the batch's bounds fetches out with bounded concurrency
// and reduces the results back to a single slice. An individual fetch
// failing is logged and skipped; it never aborts the batch.
func (m *Manager) fetchBatch(ctx context.Context, batch []string, byID map[string]models.Activity) ([]*models.ActivityBoundsItem, map[string]models.Track) {
	var (
		mu     sync.Mutex
		items  []*models.ActivityBoundsItem
		tracks = make(map[string]models.Track)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for _, id := range batch {
		g.Go(func() error {
			bounds, err := m.api.ActivityBounds(gctx, id)
			if err != nil {
				if gctx.Err() == nil {
					logging.Warn().Err(err).Str("activity_id", id).Msg("Bounds fetch failed, deferring activity")
				}
				return nil
			}
			a := byID[id]
			item := &models.ActivityBoundsItem{
				ID:          id,
				Bounds:      bounds.Normalized,
				Type:        a.Type,
				Name:        a.Name,
				Date:        a.StartDate,
				DistanceM:   a.DistanceM,
				DurationSec: a.DurationSec,
			}
			mu.Lock()
			items = append(items, item)
			if len(bounds.Track) > 0 {
				tracks[id] = bounds.Track
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck
	return items, tracks
}

// mergeBatch merges fetched items into the cache, updates the spatial
// index atomically with respect to observers, persists both the metadata
// blob and the bulk GPS channel, and only then notifies subscribers.
// Persistence uses a background context so cancellation cannot lose
// already fetched results.
func (m *Manager) mergeBatch(items []*models.ActivityBoundsItem, tracks map[string]models.Track) {
	m.mu.Lock()
	m.cache.MergeEntries(items, time.Now())
	if len(items) > 0 {
		m.index.BulkInsert(items)
	}
	snapshot := m.cache.Clone()
	m.mu.Unlock()

	persistCtx := context.Background()
	if err := m.store.Store(persistCtx, snapshot); err != nil {
		logging.Error().Err(err).Msg("Persist bounds cache failed")
	}
	if len(tracks) > 0 {
		if err := m.store.StoreGPSTracks(persistCtx, tracks); err != nil {
			logging.Error().Err(err).Msg("Persist gps tracks failed")
		}
	}

	metrics.BoundsCacheSize.Set(float64(len(snapshot.Activities)))
	m.cacheSub.Emit(snapshot)
}

// finishRun translates a run's outcome into manager state. Aborts return
// to idle without a user-visible alarm; anything else enters the error
// state with a message and remains retryable.
func (m *Manager) finishRun(gen uint64, start time.Time, merged int, err error) error {
	duration := time.Since(start)

	switch {
	case err == nil:
		if m.current(gen) {
			if terr := m.transition(StateIdle); terr != nil {
				logging.Error().Err(terr).Msg("Completed sync could not return to idle")
			}
		}
		metrics.RecordSyncRun("complete", duration, merged)
		return nil

	case errors.Is(err, ErrSuperseded):
		// The newer run owns the state now.
		metrics.RecordSyncRun("superseded", duration, merged)
		return ErrSuperseded

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if m.current(gen) {
			if terr := m.transition(StateIdle); terr != nil {
				logging.Error().Err(terr).Msg("Cancelled sync could not return to idle")
			}
			m.emitProgress(0, 0, models.SyncIdle, "")
		}
		metrics.RecordSyncRun("cancelled", duration, merged)
		return err

	default:
		if m.current(gen) {
			m.enterError(err.Error())
		}
		metrics.RecordSyncRun("error", duration, merged)
		return err
	}
}

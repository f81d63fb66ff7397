// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

// Package routeproc is the route processing queue: it turns synced GPS
// tracks into route signatures, clusters activities into route groups,
// records per-activity matches and detects frequently ridden sections.
//
// It is driven by the sync manager's two signals. Initial-sync-complete
// triggers a bulk catch-up pass over every bounds-cached activity that was
// never route-processed (a set difference, recomputed on every start).
// New-activities-synced triggers an incremental pass over just the new
// batch. Queueing is idempotent, so overlapping signals never double-process
// an activity.
package routeproc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/veloroute/veloroute/internal/config"
	"github.com/veloroute/veloroute/internal/events"
	"github.com/veloroute/veloroute/internal/geokit"
	"github.com/veloroute/veloroute/internal/logging"
	"github.com/veloroute/veloroute/internal/metrics"
	"github.com/veloroute/veloroute/internal/models"
	"github.com/veloroute/veloroute/internal/store"
)

// Processor owns the route match cache. Like the sync manager it is
// constructed explicitly; observers get deep-copied snapshots only.
type Processor struct {
	cfg    config.RouteConfig
	store  store.RouteCacheStore
	bounds store.BoundsStore
	kernel geokit.Kernel
	bus    *events.Bus

	mu    sync.Mutex
	cache *models.RouteMatchCache
	queue map[string]bool

	// epoch is bumped by Cancel and ClearCache. A running pass carries
	// the epoch it started under and stops once it goes stale, which
	// replaces any shared am-I-still-active flag with a local check.
	epoch     atomic.Uint64
	runCancel context.CancelFunc

	// passMu serializes processing passes; the two bus signals can
	// arrive concurrently but the cache has exactly one writer.
	passMu sync.Mutex

	progress *events.Subject[models.RouteProgress]
	cacheSub *events.Subject[*models.RouteMatchCache]
}

// New constructs a route processor.
func New(cfg config.RouteConfig, st store.RouteCacheStore, bounds store.BoundsStore, kernel geokit.Kernel, bus *events.Bus) *Processor {
	return &Processor{
		cfg:      cfg,
		store:    st,
		bounds:   bounds,
		kernel:   kernel,
		bus:      bus,
		cache:    models.NewRouteMatchCache(),
		queue:    make(map[string]bool),
		progress: events.NewSubject[models.RouteProgress](),
		cacheSub: events.NewSubject[*models.RouteMatchCache](),
	}
}

// Start loads the persisted route cache, attaches the processor to the
// sync manager's signals and runs one catch-up pass over the bounds cache.
// The eager pass covers the startup race where initial-sync-complete is
// published before the subscription exists; the gochannel bus does not
// persist, so a missed edge would otherwise never be replayed. ctx
// cancellation detaches the subscriptions.
func (p *Processor) Start(ctx context.Context) error {
	cached, err := p.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load route cache: %w", err)
	}
	if cached != nil {
		p.mu.Lock()
		p.cache = cached
		p.mu.Unlock()
		p.publishGauges(cached)
		p.cacheSub.Emit(cached.Clone())
	}
	p.emitProgress(models.RouteProgress{Status: models.RouteIdle})

	if err := events.Consume(ctx, p.bus, events.TopicInitialSyncComplete,
		func(cctx context.Context, _ events.InitialSyncComplete) error {
			return p.catchUp(cctx)
		}); err != nil {
		return err
	}
	if err := events.Consume(ctx, p.bus, events.TopicActivitiesSynced,
		func(cctx context.Context, ev events.ActivitiesSynced) error {
			p.QueueActivities(ev.ActivityIDs)
			return p.process(cctx)
		}); err != nil {
		return err
	}

	return p.catchUp(ctx)
}

// catchUp queues every bounds-cached activity that has never been route
// processed and runs a pass. The delta is a set difference against
// ProcessedActivityIDs, so restarts pick up exactly what was missed.
func (p *Processor) catchUp(ctx context.Context) error {
	boundsCache, err := p.bounds.Load(ctx)
	if err != nil {
		return fmt.Errorf("load bounds cache for catch-up: %w", err)
	}
	if boundsCache == nil {
		return nil
	}

	p.mu.Lock()
	queued := 0
	for id := range boundsCache.Activities {
		if !p.cache.IsProcessed(id) && !p.queue[id] {
			p.queue[id] = true
			queued++
		}
	}
	p.mu.Unlock()

	if queued > 0 {
		logging.Info().Int("activities", queued).Msg("Route processing catch-up queued")
	}
	return p.process(ctx)
}

// QueueActivities adds activities to the processing queue. Idempotent:
// already processed activities are skipped unless the cache was cleared.
func (p *Processor) QueueActivities(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		if id == "" || p.cache.IsProcessed(id) || p.queue[id] {
			continue
		}
		p.queue[id] = true
	}
	metrics.RouteQueueDepth.Set(float64(len(p.queue)))
}

// GetCache returns a deep copy of the route match cache, or nil when no
// pass has run and nothing was persisted.
func (p *Processor) GetCache() *models.RouteMatchCache {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cache.ProcessedActivityIDs) == 0 && p.cache.UpdatedAt.IsZero() {
		return nil
	}
	return p.cache.Clone()
}

// GetProgress returns the latest progress snapshot.
func (p *Processor) GetProgress() models.RouteProgress {
	last, ok := p.progress.Last()
	if !ok {
		return models.RouteProgress{Status: models.RouteIdle}
	}
	return last
}

// OnCacheUpdate subscribes to route cache snapshots, replaying the current
// one immediately. Nil means the cache was cleared.
func (p *Processor) OnCacheUpdate(fn func(*models.RouteMatchCache)) func() {
	return p.cacheSub.Subscribe(fn)
}

// OnProgress subscribes to processing progress with immediate replay.
func (p *Processor) OnProgress(fn func(models.RouteProgress)) func() {
	return p.progress.Subscribe(fn)
}

// Cancel stops the running pass, if any. Signatures and matches already
// computed in this pass are kept and persisted.
func (p *Processor) Cancel() {
	p.epoch.Add(1)
	p.mu.Lock()
	cancel := p.runCancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ClearCache cancels any running pass, wipes the persisted route cache and
// triggers exactly one full reprocessing pass over the bounds cache. The
// epoch bump makes sure passes started under the old cache generation stop
// instead of racing the rebuild.
func (p *Processor) ClearCache(ctx context.Context) error {
	p.Cancel()

	if err := p.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear route cache: %w", err)
	}

	p.mu.Lock()
	p.cache = models.NewRouteMatchCache()
	p.queue = make(map[string]bool)
	p.mu.Unlock()

	metrics.RouteGroups.Set(0)
	metrics.RouteSections.Set(0)
	metrics.RouteQueueDepth.Set(0)
	p.cacheSub.Emit(nil)
	p.emitProgress(models.RouteProgress{Status: models.RouteIdle})

	return p.catchUp(ctx)
}

// persist writes the cache and notifies observers. Persistence uses a
// background context so a cancelled pass still keeps its finished work.
func (p *Processor) persist(snapshot *models.RouteMatchCache) {
	if err := p.store.Store(context.Background(), snapshot); err != nil {
		logging.Error().Err(err).Msg("Persist route cache failed")
	}
	p.publishGauges(snapshot)
	p.cacheSub.Emit(snapshot)
}

func (p *Processor) publishGauges(c *models.RouteMatchCache) {
	metrics.RouteGroups.Set(float64(len(c.Groups)))
	metrics.RouteSections.Set(float64(len(c.Sections)))
}

func (p *Processor) emitProgress(pr models.RouteProgress) {
	p.progress.Emit(pr)
}

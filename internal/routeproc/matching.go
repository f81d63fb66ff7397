// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package routeproc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veloroute/veloroute/internal/geokit"
	"github.com/veloroute/veloroute/internal/logging"
	"github.com/veloroute/veloroute/internal/metrics"
	"github.com/veloroute/veloroute/internal/models"
)

// process runs passes until the queue drains. Passes are serialized; the
// queue can refill while one runs (new sync batches) and the loop picks
// the additions up before returning.
func (p *Processor) process(ctx context.Context) error {
	p.passMu.Lock()
	defer p.passMu.Unlock()

	for {
		epoch := p.epoch.Load()
		ids := p.drainQueue()
		if len(ids) == 0 {
			return nil
		}

		runCtx, cancel := context.WithCancel(ctx)
		p.mu.Lock()
		p.runCancel = cancel
		p.mu.Unlock()

		cancelled, err := p.runPass(runCtx, epoch, ids)
		cancel()
		if err != nil || cancelled {
			// Requeued IDs wait for the next trigger instead of being
			// drained again right away, otherwise Cancel would be a
			// no-op.
			return err
		}
	}
}

func (p *Processor) drainQueue() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.queue))
	for id := range p.queue {
		ids = append(ids, id)
	}
	p.queue = make(map[string]bool)
	metrics.RouteQueueDepth.Set(0)
	return ids
}

// stale reports whether the pass should stop: its epoch was superseded by
// Cancel/ClearCache or its context was cancelled.
func (p *Processor) stale(ctx context.Context, epoch uint64) bool {
	return ctx.Err() != nil || p.epoch.Load() != epoch
}

// runPass processes one drained batch: build signatures, match each new
// signature against the known route groups, then re-detect frequent
// sections over all signatures. Work finished before a cancellation is
// persisted; unprocessed IDs go back on the queue and cancelled reports
// that the pass stopped early.
func (p *Processor) runPass(ctx context.Context, epoch uint64, ids []string) (cancelled bool, err error) {
	start := time.Now()
	total := len(ids)

	p.emitProgress(models.RouteProgress{Total: total, Status: models.RouteFiltering})

	boundsCache, err := p.bounds.Load(ctx)
	if err != nil {
		p.emitProgress(models.RouteProgress{Status: models.RouteError, Message: err.Error()})
		metrics.RecordRoutePass("error", time.Since(start))
		return false, fmt.Errorf("load bounds metadata: %w", err)
	}
	meta := map[string]*models.ActivityBoundsItem{}
	if boundsCache != nil {
		meta = boundsCache.Activities
	}

	for i, id := range ids {
		if p.stale(ctx, epoch) {
			p.requeue(ids[i:])
			p.finishPass(start, "cancelled")
			return true, nil
		}

		item := meta[id]
		name := id
		if item != nil {
			name = item.Name
		}
		p.emitProgress(models.RouteProgress{
			Completed:       i,
			Total:           total,
			Status:          models.RouteFetching,
			CurrentActivity: name,
		})

		sig, ok := p.buildSignature(ctx, id, item)

		p.mu.Lock()
		p.cache.ProcessedActivityIDs[id] = true
		if ok {
			p.cache.Signatures[id] = sig
			p.matchSignatureLocked(sig, name)
		}
		groups := len(p.cache.Groups)
		matches := len(p.cache.Matches)
		p.mu.Unlock()

		p.emitProgress(models.RouteProgress{
			Completed:       i + 1,
			Total:           total,
			Status:          models.RouteMatching,
			CurrentActivity: name,
			RoutesFound:     groups,
			MatchesFound:    matches,
		})
	}

	p.emitProgress(models.RouteProgress{
		Completed: total,
		Total:     total,
		Status:    models.RouteDetectingSections,
	})

	p.mu.Lock()
	if !p.stale(ctx, epoch) {
		p.cache.Sections = p.detectSectionsLocked()
	}
	sections := len(p.cache.Sections)
	p.mu.Unlock()

	p.finishPass(start, "complete")
	p.emitProgress(models.RouteProgress{
		Completed:     total,
		Total:         total,
		Status:        models.RouteComplete,
		SectionsFound: sections,
	})
	return false, nil
}

// finishPass stamps, persists and publishes the cache.
func (p *Processor) finishPass(start time.Time, outcome string) {
	p.mu.Lock()
	p.cache.UpdatedAt = time.Now()
	snapshot := p.cache.Clone()
	p.mu.Unlock()

	p.persist(snapshot)
	metrics.RecordRoutePass(outcome, time.Since(start))
	if outcome == "cancelled" {
		p.emitProgress(models.RouteProgress{Status: models.RouteIdle})
	}
}

func (p *Processor) requeue(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		if !p.cache.IsProcessed(id) {
			p.queue[id] = true
		}
	}
	metrics.RouteQueueDepth.Set(float64(len(p.queue)))
}

// buildSignature loads the activity's GPS track and runs the geometry
// kernel. A missing or too-short track is not an error; the activity is
// simply marked processed with no signature.
func (p *Processor) buildSignature(ctx context.Context, id string, item *models.ActivityBoundsItem) (*models.RouteSignature, bool) {
	track, err := p.bounds.LoadGPSTrack(ctx, id)
	if err != nil {
		logging.Warn().Err(err).Str("activity_id", id).Msg("GPS track load failed, skipping activity")
		return nil, false
	}
	if len(track) == 0 {
		return nil, false
	}

	sport := models.SportRide
	date := time.Now()
	if item != nil {
		sport = item.Type
		date = item.Date
	}

	sig, err := p.kernel.BuildSignature(id, sport, date, track, 0)
	if err != nil {
		if !errors.Is(err, geokit.ErrTrackTooShort) {
			logging.Warn().Err(err).Str("activity_id", id).Msg("Signature build failed")
		}
		return nil, false
	}
	return sig, true
}

// sharesEndpointRegion reports whether two signatures share a start or end
// region cell in either orientation. Traversals of the same route begin or
// end at the same trailhead, so routes that merely cross paths mid-track
// are skipped before the geometric comparison. Signatures without cell
// tokens are never filtered out.
func sharesEndpointRegion(a, b *models.RouteSignature) bool {
	if a.StartCell == "" || b.StartCell == "" {
		return true
	}
	return a.StartCell == b.StartCell || a.EndCell == b.EndCell ||
		a.StartCell == b.EndCell || a.EndCell == b.StartCell
}

// matchSignatureLocked matches one new signature against every compatible
// group representative and applies the two-threshold policy. Candidates
// are prefiltered by sport, bounding-box overlap and endpoint region
// cells before the geometric comparison runs. Caller holds p.mu.
func (p *Processor) matchSignatureLocked(sig *models.RouteSignature, name string) {
	var (
		bestGroup *models.RouteGroup
		best      geokit.Comparison
	)
	for _, g := range p.cache.Groups {
		if g.Sport != sig.Sport {
			continue
		}
		rep := p.cache.Signatures[g.RepresentativeID]
		if rep == nil || !sig.Bounds.Intersects(rep.Bounds) || !sharesEndpointRegion(sig, rep) {
			continue
		}
		cmp := p.kernel.Compare(sig, rep)
		if cmp.MatchPercent > best.MatchPercent {
			best = cmp
			bestGroup = g
		}
	}

	if bestGroup != nil && best.MatchPercent >= p.cfg.MinMatchPercent {
		// Membership needs the stricter grouping threshold and a full
		// traversal; a strong partial overlap is told to the user but
		// not counted as the same trip.
		grouped := best.MatchPercent >= p.cfg.MinGroupingPercent &&
			best.Direction != models.DirectionPartial

		p.cache.Matches[sig.ActivityID] = &models.RouteMatch{
			ActivityID:   sig.ActivityID,
			GroupID:      bestGroup.ID,
			MatchPercent: best.MatchPercent,
			Direction:    best.Direction,
			Overlap:      best.Overlap,
			Confidence:   best.Confidence,
			Grouped:      grouped,
		}

		if grouped {
			p.addMemberLocked(bestGroup, sig, best.MatchPercent)
			return
		}
	}

	// No group claims the activity as a member: it founds its own route.
	p.createGroupLocked(sig, name)
}

func (p *Processor) addMemberLocked(g *models.RouteGroup, sig *models.RouteSignature, matchPercent float64) {
	prior := float64(len(g.ActivityIDs))
	g.ActivityIDs = append(g.ActivityIDs, sig.ActivityID)
	g.AvgMatchPercent = (g.AvgMatchPercent*prior + matchPercent) / (prior + 1)
	if sig.Date.Before(g.FirstDate) {
		g.FirstDate = sig.Date
	}
	if sig.Date.After(g.LastDate) {
		g.LastDate = sig.Date
	}
	p.cache.ActivityToGroup[sig.ActivityID] = g.ID
}

func (p *Processor) createGroupLocked(sig *models.RouteSignature, name string) {
	g := &models.RouteGroup{
		ID:                   uuid.NewString(),
		Name:                 name,
		RepresentativeID:     sig.ActivityID,
		ActivityIDs:          []string{sig.ActivityID},
		Sport:                sig.Sport,
		FirstDate:            sig.Date,
		LastDate:             sig.Date,
		AvgMatchPercent:      100,
		TotalDistanceM:       sig.DistanceM,
		RepresentativeIsLoop: sig.IsLoop,
	}
	p.cache.Groups[g.ID] = g
	p.cache.ActivityToGroup[sig.ActivityID] = g.ID
}

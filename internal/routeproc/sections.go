// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package routeproc

import (
	"sort"

	"github.com/google/uuid"

	"github.com/veloroute/veloroute/internal/geokit"
	"github.com/veloroute/veloroute/internal/models"
)

// overlapCandidate is a contiguous stretch of one activity's signature
// that runs within the proximity threshold of another activity's track.
type overlapCandidate struct {
	activityID string
	sport      models.SportType
	start, end int // inclusive indices into the activity's signature points
	distM      float64
	startPt    models.LatLng
	endPt      models.LatLng
}

// sectionCluster collects near-duplicate overlaps of the same physical
// stretch of path across activities.
type sectionCluster struct {
	sport   models.SportType
	startPt models.LatLng
	endPt   models.LatLng
	members []overlapCandidate
}

// detectSectionsLocked recomputes frequent sections from scratch over all
// signatures. It runs over the full set, not just new arrivals, because a
// new activity can retroactively push an existing two-activity overlap
// over the minimum visit count. Caller holds p.mu.
func (p *Processor) detectSectionsLocked() map[string]*models.FrequentSection {
	sections := make(map[string]*models.FrequentSection)

	ids := make([]string, 0, len(p.cache.Signatures))
	for id := range p.cache.Signatures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	candidates := p.findOverlaps(ids)
	clusters := p.clusterOverlaps(candidates)

	for _, cl := range clusters {
		section := p.buildSection(cl)
		if section != nil {
			sections[section.ID] = section
		}
	}
	return sections
}

// findOverlaps scans every compatible ordered signature pair for
// contiguous sub-paths of the first that stay within the proximity
// threshold of the second.
func (p *Processor) findOverlaps(ids []string) []overlapCandidate {
	var out []overlapCandidate
	for _, aID := range ids {
		a := p.cache.Signatures[aID]
		for _, bID := range ids {
			if aID == bID {
				continue
			}
			b := p.cache.Signatures[bID]
			if a.Sport != b.Sport || !a.Bounds.Intersects(b.Bounds) {
				continue
			}
			out = append(out, p.overlapRuns(a, b)...)
		}
	}
	return out
}

// overlapRuns returns the maximal runs of a's points lying within the
// proximity threshold of b's polyline, keeping only runs long enough to
// ever become a section.
func (p *Processor) overlapRuns(a, b *models.RouteSignature) []overlapCandidate {
	var runs []overlapCandidate
	runStart := -1

	flush := func(endIdx int) {
		if runStart < 0 || endIdx-runStart < 1 {
			runStart = -1
			return
		}
		portion := a.Points[runStart : endIdx+1]
		dist := geokit.TrackDistanceM(portion)
		if dist >= p.cfg.MinSectionLengthM {
			runs = append(runs, overlapCandidate{
				activityID: a.ActivityID,
				sport:      a.Sport,
				start:      runStart,
				end:        endIdx,
				distM:      dist,
				startPt:    a.Points[runStart],
				endPt:      a.Points[endIdx],
			})
		}
		runStart = -1
	}

	for i, pt := range a.Points {
		_, _, d := geokit.NearestOnTrack(pt, b.Points)
		if d <= p.cfg.ProximityThresholdM {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i - 1)
	}
	flush(len(a.Points) - 1)
	return runs
}

// clusterOverlaps merges near-duplicate overlaps. Two overlaps cover the
// same stretch when their endpoints coincide in either orientation within
// the cluster tolerance; the tolerance is widened by the proximity
// threshold because overlap endpoints jitter by up to that much between
// traces of the same path.
func (p *Processor) clusterOverlaps(candidates []overlapCandidate) []*sectionCluster {
	tol := p.cfg.ClusterToleranceM + p.cfg.ProximityThresholdM
	var clusters []*sectionCluster

next:
	for _, c := range candidates {
		for _, cl := range clusters {
			if cl.sport != c.sport {
				continue
			}
			forward := geokit.DistanceM(c.startPt, cl.startPt) <= tol &&
				geokit.DistanceM(c.endPt, cl.endPt) <= tol
			backward := geokit.DistanceM(c.startPt, cl.endPt) <= tol &&
				geokit.DistanceM(c.endPt, cl.startPt) <= tol
			if forward || backward {
				cl.members = append(cl.members, c)
				continue next
			}
		}
		clusters = append(clusters, &sectionCluster{
			sport:   c.sport,
			startPt: c.startPt,
			endPt:   c.endPt,
			members: []overlapCandidate{c},
		})
	}
	return clusters
}

// buildSection turns a cluster into a FrequentSection, or nil when the
// cluster fails the visit-count or length requirements. The representative
// polyline is the medoid member's recorded points verbatim; averaging
// traces would produce a line nobody ever rode.
func (p *Processor) buildSection(cl *sectionCluster) *models.FrequentSection {
	// One portion per distinct activity: keep each activity's longest
	// overlap in this cluster.
	byActivity := make(map[string]overlapCandidate)
	for _, c := range cl.members {
		if prev, ok := byActivity[c.activityID]; !ok || c.distM > prev.distM {
			byActivity[c.activityID] = c
		}
	}
	if len(byActivity) < p.cfg.MinActivities {
		return nil
	}

	actIDs := make([]string, 0, len(byActivity))
	for id := range byActivity {
		actIDs = append(actIDs, id)
	}
	sort.Strings(actIDs)

	medoidID := p.pickMedoid(actIDs, byActivity)
	medoid := byActivity[medoidID]
	if medoid.distM < p.cfg.MinSectionLengthM || medoid.distM > p.cfg.MaxSectionLengthM {
		// The length cap keeps a section from degenerating into the
		// whole route.
		return nil
	}
	medoidTrack := p.portionTrack(medoid)

	portions := make(map[string]*models.SectionPortion, len(byActivity))
	for _, id := range actIDs {
		c := byActivity[id]
		portions[id] = &models.SectionPortion{
			ActivityID: id,
			StartIndex: c.start,
			EndIndex:   c.end,
			DistanceM:  c.distM,
			Direction:  portionDirection(p.portionTrack(c), medoidTrack),
		}
	}

	return &models.FrequentSection{
		ID:               uuid.NewString(),
		Sport:            cl.sport,
		Polyline:         append(models.Track(nil), medoidTrack...),
		RepresentativeID: medoidID,
		ActivityIDs:      actIDs,
		Portions:         portions,
		VisitCount:       len(actIDs),
		DistanceM:        medoid.distM,
	}
}

// pickMedoid selects the member whose portion trace has the lowest total
// distance to every other member's portion trace.
func (p *Processor) pickMedoid(ids []string, byActivity map[string]overlapCandidate) string {
	if len(ids) == 1 {
		return ids[0]
	}
	bestID := ids[0]
	bestTotal := -1.0
	for _, id := range ids {
		mine := p.portionTrack(byActivity[id])
		total := 0.0
		for _, other := range ids {
			if other == id {
				continue
			}
			total += traceDistanceM(mine, p.portionTrack(byActivity[other]))
		}
		if bestTotal < 0 || total < bestTotal {
			bestTotal = total
			bestID = id
		}
	}
	return bestID
}

func (p *Processor) portionTrack(c overlapCandidate) models.Track {
	sig := p.cache.Signatures[c.activityID]
	if sig == nil || c.end >= len(sig.Points) {
		return nil
	}
	return sig.Points[c.start : c.end+1]
}

// traceDistanceM is the mean distance from a's points to b's polyline,
// used as the dissimilarity measure for medoid selection.
func traceDistanceM(a, b models.Track) float64 {
	if len(a) == 0 || len(b) < 2 {
		return 0
	}
	total := 0.0
	for _, pt := range a {
		_, _, d := geokit.NearestOnTrack(pt, b)
		total += d
	}
	return total / float64(len(a))
}

// portionDirection classifies how a portion runs relative to the medoid
// polyline by the progression of its endpoints projected onto it.
func portionDirection(portion, ref models.Track) models.MatchDirection {
	if len(portion) < 2 || len(ref) < 2 {
		return models.DirectionSame
	}
	si, st, _ := geokit.NearestOnTrack(portion[0], ref)
	ei, et, _ := geokit.NearestOnTrack(portion[len(portion)-1], ref)
	startPos := float64(si) + st
	endPos := float64(ei) + et
	if endPos >= startPos {
		return models.DirectionSame
	}
	return models.DirectionReverse
}

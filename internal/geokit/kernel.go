// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package geokit

import (
	"errors"
	"time"

	"github.com/veloroute/veloroute/internal/models"
)

// ErrTrackTooShort is returned when a track has too few points to produce
// a meaningful signature.
var ErrTrackTooShort = errors.New("track too short for signature")

// minTrackPoints is the minimum raw point count for a signature.
const minTrackPoints = 4

// Options tunes signature building and comparison. Zero values are
// replaced with the documented defaults.
type Options struct {
	// SimplifyToleranceM is the Douglas-Peucker tolerance. Default 25.
	SimplifyToleranceM float64
	// MaxSignaturePoints caps the simplified sequence. Default 100.
	MaxSignaturePoints int
	// LoopThresholdM marks a track a loop when start and end fall
	// within this distance. Default 200.
	LoopThresholdM float64
	// ProximityThresholdM is how close a point must run to another
	// track to count as on-path. Default 40.
	ProximityThresholdM float64
	// DistanceTolerancePercent bounds the relative length difference
	// for full (same/reverse) matches. Default 15.
	DistanceTolerancePercent float64
}

func (o Options) withDefaults() Options {
	if o.SimplifyToleranceM <= 0 {
		o.SimplifyToleranceM = 25
	}
	if o.MaxSignaturePoints <= 0 {
		o.MaxSignaturePoints = 100
	}
	if o.LoopThresholdM <= 0 {
		o.LoopThresholdM = 200
	}
	if o.ProximityThresholdM <= 0 {
		o.ProximityThresholdM = 40
	}
	if o.DistanceTolerancePercent <= 0 {
		o.DistanceTolerancePercent = 15
	}
	return o
}

// Comparison is the outcome of matching a candidate signature against a
// reference route signature.
type Comparison struct {
	// MatchPercent is how much of the reference route the candidate
	// covers, 0-100.
	MatchPercent float64
	Direction    models.MatchDirection
	// Overlap is set for partial matches: the contiguous window along
	// the reference route covered by the candidate.
	Overlap *models.OverlapWindow
	// Confidence in [0,1], derived from the candidate's GPS point
	// density.
	Confidence float64
}

// Kernel builds signatures from raw tracks and compares them. The route
// processing queue consumes it as an opaque collaborator, which keeps the
// geometry swappable in tests.
type Kernel interface {
	BuildSignature(activityID string, sport models.SportType, date time.Time, track models.Track, elevationGain float64) (*models.RouteSignature, error)
	Compare(candidate, reference *models.RouteSignature) Comparison
}

// DefaultKernel is the built-in Kernel implementation.
type DefaultKernel struct {
	opts Options
}

// NewKernel creates a kernel with the given options.
func NewKernel(opts Options) *DefaultKernel {
	return &DefaultKernel{opts: opts.withDefaults()}
}

// BuildSignature simplifies a raw GPS track into a compact signature.
func (k *DefaultKernel) BuildSignature(activityID string, sport models.SportType, date time.Time, track models.Track, elevationGain float64) (*models.RouteSignature, error) {
	if len(track) < minTrackPoints {
		return nil, ErrTrackTooShort
	}

	simplified := SimplifyToCount(track, k.opts.SimplifyToleranceM, k.opts.MaxSignaturePoints)
	distance := TrackDistanceM(track)
	start := track[0]
	end := track[len(track)-1]

	return &models.RouteSignature{
		ActivityID:    activityID,
		Points:        simplified,
		DistanceM:     distance,
		Bounds:        TrackBounds(track),
		StartCell:     RegionCell(start),
		EndCell:       RegionCell(end),
		IsLoop:        DistanceM(start, end) <= k.opts.LoopThresholdM,
		ElevationGain: elevationGain,
		PointCount:    len(track),
		Sport:         sport,
		Date:          date,
	}, nil
}

// Compare classifies how the candidate's path relates to the reference
// route: a full traversal (same or reverse) within the distance
// tolerance, a bounded partial overlap, or no match.
func (k *DefaultKernel) Compare(candidate, reference *models.RouteSignature) Comparison {
	none := Comparison{Direction: models.DirectionPartial}
	if candidate == nil || reference == nil ||
		len(candidate.Points) < 2 || len(reference.Points) < 2 {
		return none
	}
	if !candidate.Bounds.Intersects(reference.Bounds) {
		return none
	}

	prox := k.opts.ProximityThresholdM
	coverage, window := coverageAlong(reference, candidate, prox)
	if coverage <= 0 {
		return none
	}

	confidence := pointDensityConfidence(candidate)
	matchPercent := coverage * 100

	// Full-traversal classification requires near-total mutual coverage
	// and comparable total distance.
	reverseCoverage, _ := coverageAlong(candidate, reference, prox)
	distDiff := relativeDistanceDiff(candidate.DistanceM, reference.DistanceM)
	if coverage >= 0.9 && reverseCoverage >= 0.9 && distDiff <= k.opts.DistanceTolerancePercent/100 {
		dir := traversalDirection(candidate, reference, prox)
		return Comparison{
			MatchPercent: matchPercent,
			Direction:    dir,
			Confidence:   confidence,
		}
	}

	return Comparison{
		MatchPercent: matchPercent,
		Direction:    models.DirectionPartial,
		Overlap:      window,
		Confidence:   confidence,
	}
}

// Coverage sampling interval and cap. Simplification keeps only
// shape-defining vertices, so a long straight road collapses to its two
// endpoints; measuring coverage over the raw vertices would quantize a
// half-overlap on that road to zero. Coverage is therefore sampled over a
// distance-resampled rendering of the reference.
const (
	coverageStepM      = 25.0
	maxCoverageSamples = 4096
)

// coverageAlong returns the fraction of ref's path lying within prox of
// cand's polyline, plus the largest contiguous covered window along ref.
func coverageAlong(ref, cand *models.RouteSignature, prox float64) (float64, *models.OverlapWindow) {
	samples, positions := ResampleAlong(ref.Points, coverageStepM, maxCoverageSamples)
	if len(samples) == 0 {
		return 0, nil
	}
	total := positions[len(positions)-1]
	if total <= 0 {
		return 0, nil
	}

	covered := 0
	bestStart, bestEnd := -1, -1
	curStart := -1
	for i, p := range samples {
		_, _, d := NearestOnTrack(p, cand.Points)
		if d <= prox {
			covered++
			if curStart < 0 {
				curStart = i
			}
			if bestStart < 0 || positions[i]-positions[curStart] > positions[bestEnd]-positions[bestStart] {
				bestStart, bestEnd = curStart, i
			}
		} else {
			curStart = -1
		}
	}

	coverage := float64(covered) / float64(len(samples))
	var window *models.OverlapWindow
	if bestStart >= 0 && bestEnd > bestStart {
		window = &models.OverlapWindow{
			StartPercent: positions[bestStart] / total * 100,
			EndPercent:   positions[bestEnd] / total * 100,
			DistanceM:    positions[bestEnd] - positions[bestStart],
		}
	}
	return coverage, window
}

// traversalDirection decides same vs reverse by checking whether the
// candidate's progression along the reference route is increasing or
// decreasing.
func traversalDirection(cand, ref *models.RouteSignature, prox float64) models.MatchDirection {
	cum := CumulativeDistancesM(ref.Points)

	increasing, decreasing := 0, 0
	prev := -1.0
	for _, p := range cand.Points {
		seg, t, d := NearestOnTrack(p, ref.Points)
		if d > prox {
			continue
		}
		// Position along the reference in meters.
		pos := cum[seg]
		if seg+1 < len(cum) {
			pos += t * (cum[seg+1] - cum[seg])
		}
		if prev >= 0 {
			switch {
			case pos > prev:
				increasing++
			case pos < prev:
				decreasing++
			}
		}
		prev = pos
	}

	if decreasing > increasing {
		return models.DirectionReverse
	}
	return models.DirectionSame
}

func relativeDistanceDiff(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 1
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if a > b {
		return diff / a
	}
	return diff / b
}

// pointDensityConfidence maps raw GPS point density to [0,1]. A recording
// at one point per 50 m or better gets full confidence; sparser tracks
// degrade linearly.
func pointDensityConfidence(sig *models.RouteSignature) float64 {
	if sig.DistanceM <= 0 || sig.PointCount <= 0 {
		return 0
	}
	metersPerPoint := sig.DistanceM / float64(sig.PointCount)
	if metersPerPoint <= 50 {
		return 1
	}
	conf := 50 / metersPerPoint
	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}

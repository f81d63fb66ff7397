// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

// Package geokit is the geometry and matching kernel: it turns raw GPS
// tracks into compact route signatures and compares signatures for
// route-match classification. It is consumed as a pure library; nothing
// here has side effects.
package geokit

import (
	"math"

	"github.com/golang/geo/s2"

	"github.com/veloroute/veloroute/internal/models"
)

// EarthRadiusM is Earth's mean radius in meters.
const EarthRadiusM = 6371000.0

// regionCellLevel is the s2 cell level used for the start/end region
// tokens. Level 14 cells average roughly 500 m across, coarse enough for
// cheap prefiltering and fine enough to separate distinct trailheads.
const regionCellLevel = 14

// DistanceM returns the great-circle distance between two points in
// meters.
func DistanceM(a, b models.LatLng) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lng)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return p1.Distance(p2).Radians() * EarthRadiusM
}

// RegionCell returns the s2 cell token for the ~500 m grid cell containing
// the point.
func RegionCell(p models.LatLng) string {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lng)).Parent(regionCellLevel).ToToken()
}

// TrackDistanceM returns the total length of a track in meters.
func TrackDistanceM(track models.Track) float64 {
	var total float64
	for i := 1; i < len(track); i++ {
		total += DistanceM(track[i-1], track[i])
	}
	return total
}

// CumulativeDistancesM returns the running distance in meters at each
// track point. The first entry is always 0.
func CumulativeDistancesM(track models.Track) []float64 {
	if len(track) == 0 {
		return nil
	}
	cum := make([]float64, len(track))
	for i := 1; i < len(track); i++ {
		cum[i] = cum[i-1] + DistanceM(track[i-1], track[i])
	}
	return cum
}

// TrackBounds returns the normalized bounding box of a track.
func TrackBounds(track models.Track) models.Bounds {
	if len(track) == 0 {
		return models.Bounds{}
	}
	b := models.Bounds{
		MinLat: track[0].Lat, MaxLat: track[0].Lat,
		MinLng: track[0].Lng, MaxLng: track[0].Lng,
	}
	for _, p := range track[1:] {
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
		b.MinLng = math.Min(b.MinLng, p.Lng)
		b.MaxLng = math.Max(b.MaxLng, p.Lng)
	}
	return b
}

func interpolateOnSegment(a, b models.LatLng, t float64) models.LatLng {
	return models.LatLng{
		Lat: a.Lat + (b.Lat-a.Lat)*t,
		Lng: a.Lng + (b.Lng-a.Lng)*t,
	}
}

// ResampleAlong returns points spaced stepM apart along the polyline,
// always ending on the final vertex, plus each sample's running distance
// in meters. maxSamples bounds the output; the step widens when the
// polyline is longer than stepM*(maxSamples-1).
func ResampleAlong(track models.Track, stepM float64, maxSamples int) (models.Track, []float64) {
	cum := CumulativeDistancesM(track)
	if len(track) < 2 {
		return track, cum
	}
	total := cum[len(cum)-1]
	if total <= 0 || stepM <= 0 {
		return track, cum
	}
	if maxSamples > 1 && total/stepM > float64(maxSamples-1) {
		stepM = total / float64(maxSamples-1)
	}

	samples := make(models.Track, 0, int(total/stepM)+2)
	positions := make([]float64, 0, int(total/stepM)+2)
	seg := 0
	for pos := 0.0; pos < total; pos += stepM {
		for cum[seg+1] < pos {
			seg++
		}
		t := 0.0
		if span := cum[seg+1] - cum[seg]; span > 0 {
			t = (pos - cum[seg]) / span
		}
		samples = append(samples, interpolateOnSegment(track[seg], track[seg+1], t))
		positions = append(positions, pos)
	}
	samples = append(samples, track[len(track)-1])
	positions = append(positions, total)
	return samples, positions
}

// pointSegmentDistanceM returns the distance from p to the segment a-b in
// meters, and the clamped projection parameter t in [0,1].
//
// Segments in GPS tracks are short enough that an equirectangular local
// projection is accurate to well under a meter.
func pointSegmentDistanceM(p, a, b models.LatLng) (float64, float64) {
	latScale := EarthRadiusM * math.Pi / 180
	lngScale := latScale * math.Cos(a.Lat*math.Pi/180)

	ax, ay := 0.0, 0.0
	bx := (b.Lng - a.Lng) * lngScale
	by := (b.Lat - a.Lat) * latScale
	px := (p.Lng - a.Lng) * lngScale
	py := (p.Lat - a.Lat) * latScale

	segLenSq := bx*bx + by*by
	if segLenSq == 0 {
		return math.Hypot(px-ax, py-ay), 0
	}
	t := (px*bx + py*by) / segLenSq
	t = math.Max(0, math.Min(1, t))
	dx := px - t*bx
	dy := py - t*by
	return math.Hypot(dx, dy), t
}

// NearestOnTrack finds the point on the polyline closest to p. It returns
// the index of the segment start, the fractional position within that
// segment, and the distance in meters.
func NearestOnTrack(p models.LatLng, track models.Track) (segIndex int, segT, distM float64) {
	if len(track) == 0 {
		return 0, 0, math.Inf(1)
	}
	if len(track) == 1 {
		return 0, 0, DistanceM(p, track[0])
	}
	best := math.Inf(1)
	for i := 0; i < len(track)-1; i++ {
		d, t := pointSegmentDistanceM(p, track[i], track[i+1])
		if d < best {
			best = d
			segIndex = i
			segT = t
		}
	}
	return segIndex, segT, best
}

// perpendicularDistanceM returns the distance from p to the infinite line
// through a and b, in meters. Used by the simplifier.
func perpendicularDistanceM(p, a, b models.LatLng) float64 {
	latScale := EarthRadiusM * math.Pi / 180
	lngScale := latScale * math.Cos(a.Lat*math.Pi/180)

	bx := (b.Lng - a.Lng) * lngScale
	by := (b.Lat - a.Lat) * latScale
	px := (p.Lng - a.Lng) * lngScale
	py := (p.Lat - a.Lat) * latScale

	segLen := math.Hypot(bx, by)
	if segLen == 0 {
		return math.Hypot(px, py)
	}
	return math.Abs(px*by-py*bx) / segLen
}

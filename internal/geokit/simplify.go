// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package geokit

import "github.com/veloroute/veloroute/internal/models"

// Simplify reduces a track with the Douglas-Peucker algorithm at the given
// tolerance in meters. Endpoints are always kept.
func Simplify(track models.Track, toleranceM float64) models.Track {
	if len(track) <= 2 {
		return append(models.Track(nil), track...)
	}

	keep := make([]bool, len(track))
	keep[0] = true
	keep[len(track)-1] = true
	simplifyRange(track, 0, len(track)-1, toleranceM, keep)

	out := make(models.Track, 0, len(track)/4)
	for i, k := range keep {
		if k {
			out = append(out, track[i])
		}
	}
	return out
}

// simplifyRange marks the points to keep between first and last
// (exclusive), iteratively to avoid deep recursion on long tracks.
func simplifyRange(track models.Track, first, last int, toleranceM float64, keep []bool) {
	type span struct{ first, last int }
	stack := []span{{first, last}}

	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if s.last-s.first < 2 {
			continue
		}

		maxDist := 0.0
		maxIdx := s.first
		for i := s.first + 1; i < s.last; i++ {
			d := perpendicularDistanceM(track[i], track[s.first], track[s.last])
			if d > maxDist {
				maxDist = d
				maxIdx = i
			}
		}

		if maxDist > toleranceM {
			keep[maxIdx] = true
			stack = append(stack, span{s.first, maxIdx}, span{maxIdx, s.last})
		}
	}
}

// SimplifyToCount simplifies with increasing tolerance until the result
// has at most maxPoints points. Used to keep signatures compact on very
// long or noisy tracks.
func SimplifyToCount(track models.Track, toleranceM float64, maxPoints int) models.Track {
	if maxPoints < 2 {
		maxPoints = 2
	}
	simplified := Simplify(track, toleranceM)
	for tol := toleranceM; len(simplified) > maxPoints; tol *= 2 {
		simplified = Simplify(simplified, tol*2)
	}
	return simplified
}

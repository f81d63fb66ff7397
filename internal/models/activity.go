// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package models

import "time"

// SportType identifies the kind of activity as reported by the remote API.
type SportType string

// Sport types recognized by the pipeline. The remote API reports more
// esoteric kinds; unknown values pass through unchanged and are treated as
// non-GPS sports.
const (
	SportRide           SportType = "Ride"
	SportRun            SportType = "Run"
	SportSwim           SportType = "Swim"
	SportHike           SportType = "Hike"
	SportWalk           SportType = "Walk"
	SportGravelRide     SportType = "GravelRide"
	SportMountainBike   SportType = "MountainBikeRide"
	SportVirtualRide    SportType = "VirtualRide"
	SportVirtualRun     SportType = "VirtualRun"
	SportTrailRun       SportType = "TrailRun"
	SportNordicSki      SportType = "NordicSki"
	SportAlpineSki      SportType = "AlpineSki"
	SportBackcountrySki SportType = "BackcountrySki"
	SportSnowboard      SportType = "Snowboard"
	SportKayak          SportType = "Kayaking"
	SportCanoe          SportType = "Canoeing"
	SportRow            SportType = "Rowing"
	SportInlineSkate    SportType = "InlineSkate"
	SportEBikeRide      SportType = "EBikeRide"
	SportWorkout        SportType = "Workout"
	SportWeightTraining SportType = "WeightTraining"
	SportYoga           SportType = "Yoga"
)

// nonGPSSports are sport types that never carry a usable GPS track.
// Virtual activities report synthetic coordinates and are excluded too.
var nonGPSSports = map[SportType]bool{
	SportWorkout:        true,
	SportWeightTraining: true,
	SportYoga:           true,
	SportVirtualRide:    true,
	SportVirtualRun:     true,
	SportSwim:           true,
}

// HasGPS reports whether activities of this sport type are expected to
// carry a recorded GPS track worth syncing bounds for.
func (s SportType) HasGPS() bool {
	return !nonGPSSports[s]
}

// Activity is an immutable activity record fetched from the remote
// training-data API. Activities are never mutated locally; they are cached
// by ID in derived form (ActivityBoundsItem).
type Activity struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Type          SportType `json:"type"`
	StartDate     time.Time `json:"start_date"`
	DurationSec   float64   `json:"duration_sec"`
	DistanceM     float64   `json:"distance_m"`
	ElevationGain float64   `json:"elevation_gain,omitempty"`
	AvgHeartRate  *float64  `json:"avg_heart_rate,omitempty"`
	AvgPower      *float64  `json:"avg_power,omitempty"`
	AvgCadence    *float64  `json:"avg_cadence,omitempty"`
	HasPolyline   bool      `json:"has_polyline"`
}

// LatLng is a single GPS coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Track is a recorded GPS trace, ordered by time.
type Track []LatLng

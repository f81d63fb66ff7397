// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package trainingapi

import (
	"fmt"
	"time"

	"github.com/veloroute/veloroute/internal/models"
)

// Field names accepted by the activities endpoint's field-selection list.
const (
	FieldID        = "id"
	FieldName      = "name"
	FieldType      = "type"
	FieldStartDate = "start_date"
	FieldDuration  = "duration"
	FieldDistance  = "distance"
	FieldElevation = "elevation_gain"
	FieldHeartRate = "avg_heart_rate"
	FieldPower     = "avg_power"
	FieldCadence   = "avg_cadence"
	FieldPolyline  = "has_polyline"
)

// MetadataFields is the selection used for sync: everything needed to
// build an ActivityBoundsItem plus the GPS-capability flag.
var MetadataFields = []string{
	FieldID, FieldName, FieldType, FieldStartDate,
	FieldDuration, FieldDistance, FieldElevation, FieldPolyline,
}

// MinimalFields is the cheapest selection, used for the oldest-date probe.
var MinimalFields = []string{FieldID, FieldStartDate}

// activityRecord is the wire form of one activity row.
type activityRecord struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	StartDate     string   `json:"start_date"`
	DurationSec   float64  `json:"duration_sec"`
	DistanceM     float64  `json:"distance_m"`
	ElevationGain float64  `json:"elevation_gain"`
	AvgHeartRate  *float64 `json:"avg_heart_rate,omitempty"`
	AvgPower      *float64 `json:"avg_power,omitempty"`
	AvgCadence    *float64 `json:"avg_cadence,omitempty"`
	HasPolyline   bool     `json:"has_polyline"`
}

func (r activityRecord) toModel() (models.Activity, error) {
	started, err := time.Parse(time.RFC3339, r.StartDate)
	if err != nil {
		return models.Activity{}, fmt.Errorf("activity %s: parse start_date %q: %w", r.ID, r.StartDate, err)
	}
	return models.Activity{
		ID:            r.ID,
		Name:          r.Name,
		Type:          models.SportType(r.Type),
		StartDate:     started,
		DurationSec:   r.DurationSec,
		DistanceM:     r.DistanceM,
		ElevationGain: r.ElevationGain,
		AvgHeartRate:  r.AvgHeartRate,
		AvgPower:      r.AvgPower,
		AvgCadence:    r.AvgCadence,
		HasPolyline:   r.HasPolyline,
	}, nil
}

// boundsRecord is the wire form of the per-activity bounds endpoint.
// Bounds is a raw [lat1,lng1,lat2,lng2] corner pair in source coordinate
// order; GPS, when present, is a flattened [lat,lng,lat,lng,...] array.
type boundsRecord struct {
	ActivityID string    `json:"activity_id"`
	Bounds     []float64 `json:"bounds"`
	GPS        []float64 `json:"gps,omitempty"`
}

// ActivityBounds is the decoded result of the bounds endpoint. RawBounds
// preserves the source corner order; Normalized is the corrected box.
type ActivityBounds struct {
	ActivityID string
	RawBounds  [4]float64
	Normalized models.Bounds
	Track      models.Track
}

func (r boundsRecord) toModel() (*ActivityBounds, error) {
	if len(r.Bounds) != 4 {
		return nil, fmt.Errorf("activity %s: bounds has %d elements, want 4", r.ActivityID, len(r.Bounds))
	}
	if len(r.GPS)%2 != 0 {
		return nil, fmt.Errorf("activity %s: gps array has odd length %d", r.ActivityID, len(r.GPS))
	}

	out := &ActivityBounds{
		ActivityID: r.ActivityID,
		RawBounds:  [4]float64{r.Bounds[0], r.Bounds[1], r.Bounds[2], r.Bounds[3]},
		Normalized: models.NormalizeBounds(r.Bounds[0], r.Bounds[1], r.Bounds[2], r.Bounds[3]),
	}
	if len(r.GPS) > 0 {
		out.Track = make(models.Track, 0, len(r.GPS)/2)
		for i := 0; i+1 < len(r.GPS); i += 2 {
			out.Track = append(out.Track, models.LatLng{Lat: r.GPS[i], Lng: r.GPS[i+1]})
		}
	}
	return out, nil
}

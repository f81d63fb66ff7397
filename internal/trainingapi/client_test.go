// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package trainingapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloroute/veloroute/internal/config"
)

func testConfig(baseURL string) config.APIConfig {
	return config.APIConfig{
		BaseURL:         baseURL,
		Token:           "test-token",
		Timeout:         5 * time.Second,
		Burst:           100,
		BurstWindow:     time.Second,
		Sustained:       1000,
		SustainedWindow: time.Second,
		MaxRetries:      2,
		RetryInitial:    time.Millisecond,
		RetryMax:        5 * time.Millisecond,
	}
}

func TestListActivities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/activities", r.URL.Path)
		assert.Equal(t, "2025-01-01", r.URL.Query().Get("oldest"))
		assert.Equal(t, "2025-03-31", r.URL.Query().Get("newest"))
		assert.Contains(t, r.URL.Query().Get("fields"), "type")
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"1001","name":"Morning Ride","type":"Ride","start_date":"2025-01-15T07:30:00Z","duration_sec":5400,"distance_m":42000,"elevation_gain":380,"has_polyline":true},
			{"id":"1002","name":"Gym","type":"WeightTraining","start_date":"2025-01-16T18:00:00Z","duration_sec":3600,"distance_m":0,"has_polyline":false}
		]`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	oldest := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newest := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	activities, err := c.ListActivities(context.Background(), oldest, newest, MetadataFields)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	assert.Equal(t, "1001", activities[0].ID)
	assert.True(t, activities[0].Type.HasGPS())
	assert.False(t, activities[1].Type.HasGPS())
}

func TestListActivitiesSkipsMalformedRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"bad","start_date":"not-a-date"},
			{"id":"good","name":"Run","type":"Run","start_date":"2025-02-01T09:00:00Z","duration_sec":1800,"distance_m":5000,"has_polyline":true}
		]`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	activities, err := c.ListActivities(context.Background(), time.Now().AddDate(0, -1, 0), time.Now(), MetadataFields)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "good", activities[0].ID)
}

func TestActivityBoundsNormalizesHemisphereSwap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/activities/2001/bounds", r.URL.Path)
		// Southern hemisphere: raw "min" corner above the "max".
		_, _ = w.Write([]byte(`{"activity_id":"2001","bounds":[-33.1,151.4,-33.9,151.0],"gps":[-33.2,151.1,-33.3,151.2,-33.4,151.3]}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	bounds, err := c.ActivityBounds(context.Background(), "2001")
	require.NoError(t, err)

	assert.True(t, bounds.Normalized.IsNormalized())
	assert.Equal(t, -33.9, bounds.Normalized.MinLat)
	assert.Equal(t, -33.1, bounds.Normalized.MaxLat)
	assert.Equal(t, 151.0, bounds.Normalized.MinLng)
	assert.Equal(t, 151.4, bounds.Normalized.MaxLng)
	assert.Equal(t, [4]float64{-33.1, 151.4, -33.9, 151.0}, bounds.RawBounds)

	require.Len(t, bounds.Track, 3)
	assert.Equal(t, -33.2, bounds.Track[0].Lat)
	assert.Equal(t, 151.1, bounds.Track[0].Lng)
}

func TestActivityBoundsRejectsOddGPSArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"activity_id":"x","bounds":[1,2,3,4],"gps":[1,2,3]}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.ActivityBounds(context.Background(), "x")
	assert.ErrorContains(t, err, "odd length")
}

func TestRetryOn429ThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"activity_id":"r1","bounds":[1,2,3,4]}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	bounds, err := c.ActivityBounds(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", bounds.ActivityID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRateLimitExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.ActivityBounds(context.Background(), "r2")
	require.ErrorIs(t, err, ErrRateLimited)
	// 1 initial attempt + MaxRetries(2) retries.
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.ActivityBounds(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCircuitBreakerOpensOnPersistentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	ctx := context.Background()

	// Each call makes up to 3 attempts; the breaker trips at 5
	// consecutive failures, so the second call must hit the open state.
	_, err := c.ActivityBounds(ctx, "a")
	require.Error(t, err)
	_, err = c.ActivityBounds(ctx, "b")
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestOldestActivityDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1970-01-01", r.URL.Query().Get("oldest"))
		_, _ = w.Write([]byte(`[
			{"id":"1","start_date":"2019-06-01T08:00:00Z"},
			{"id":"2","start_date":"2014-03-12T08:00:00Z"},
			{"id":"3","start_date":"2021-01-01T08:00:00Z"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	oldest, err := c.OldestActivityDate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2014, oldest.Year())
}

func TestOldestActivityDateEmptyAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.OldestActivityDate(context.Background())
	assert.ErrorIs(t, err, ErrNoActivities)
}

func TestContextCancellationStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(testConfig(srv.URL))
	_, err := c.ActivityBounds(ctx, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloroute/veloroute/internal/config"
	"github.com/veloroute/veloroute/internal/events"
	"github.com/veloroute/veloroute/internal/geokit"
	"github.com/veloroute/veloroute/internal/models"
	"github.com/veloroute/veloroute/internal/routeproc"
	"github.com/veloroute/veloroute/internal/spatial"
	"github.com/veloroute/veloroute/internal/store"
	"github.com/veloroute/veloroute/internal/syncmgr"
	"github.com/veloroute/veloroute/internal/trainingapi"
)

// fakeAPI serves a fixed activity set.
type fakeAPI struct {
	activities []models.Activity
}

func (f *fakeAPI) ListActivities(_ context.Context, oldest, newest time.Time, _ []string) ([]models.Activity, error) {
	var out []models.Activity
	for _, a := range f.activities {
		if !a.StartDate.Before(oldest) && !a.StartDate.After(newest) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAPI) OldestActivityDate(context.Context) (time.Time, error) {
	if len(f.activities) == 0 {
		return time.Time{}, trainingapi.ErrNoActivities
	}
	oldest := f.activities[0].StartDate
	for _, a := range f.activities[1:] {
		if a.StartDate.Before(oldest) {
			oldest = a.StartDate
		}
	}
	return oldest, nil
}

func (f *fakeAPI) ActivityBounds(_ context.Context, id string) (*trainingapi.ActivityBounds, error) {
	return &trainingapi.ActivityBounds{
		ActivityID: id,
		Normalized: models.Bounds{MinLat: 47, MinLng: 8, MaxLat: 47.01, MaxLng: 8.01},
		Track: models.Track{
			{Lat: 47, Lng: 8}, {Lat: 47.003, Lng: 8.003},
			{Lat: 47.006, Lng: 8.006}, {Lat: 47.01, Lng: 8.01},
		},
	}, nil
}

type testServer struct {
	srv  *httptest.Server
	sync *syncmgr.Manager
	hub  *Hub
}

func newTestServer(t *testing.T, activities []models.Activity) *testServer {
	t.Helper()

	bus := events.NewBus(16)
	t.Cleanup(func() { _ = bus.Close() })

	index := spatial.NewIndex(25)
	boundsStore := store.NewMemoryBoundsStore()
	manager := syncmgr.New(config.SyncConfig{
		InitialDays: 90,
		Debounce:    20 * time.Millisecond,
		BatchSize:   10,
		Concurrency: 2,
	}, &fakeAPI{activities: activities}, boundsStore, index, bus)

	processor := routeproc.New(config.RouteConfig{
		MinMatchPercent:          20,
		MinGroupingPercent:       70,
		SimplifyToleranceM:       25,
		MaxSignaturePoints:       100,
		LoopThresholdM:           200,
		DistanceTolerancePercent: 15,
		ProximityThresholdM:      40,
		ClusterToleranceM:        25,
		MinActivities:            2,
		MinSectionLengthM:        300,
		MaxSectionLengthM:        30000,
	}, store.NewMemoryRouteCacheStore(), boundsStore, geokit.NewKernel(geokit.Options{}), bus)

	hub := NewHub(manager, processor)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Shutdown(ctx)
	})

	handler := NewHandler(manager, processor, index, hub)
	router := NewRouter(config.ServerConfig{
		Port:          4817,
		RateLimitReqs: 1000,
		CORSOrigins:   []string{"*"},
	}, handler)

	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, sync: manager, hub: hub}
}

func decodeResponse(t *testing.T, resp *http.Response) APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var out APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func dataMap(t *testing.T, resp APIResponse) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.srv.URL + "/healthz")
	require.NoError(t, err)
	body := decodeResponse(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)
	assert.Equal(t, "ok", dataMap(t, body)["status"])
	assert.NotEmpty(t, body.Meta.RequestID)
}

func TestSyncStatusBeforeInitialize(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.srv.URL + "/api/v1/sync/status")
	require.NoError(t, err)
	body := decodeResponse(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := dataMap(t, body)
	assert.Equal(t, "uninitialized", data["state"])
	assert.EqualValues(t, 0, data["activity_count"])
}

func TestSyncCommandBeforeInitializeConflicts(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.srv.URL+"/api/v1/sync/90days", "application/json", nil)
	require.NoError(t, err)
	body := decodeResponse(t, resp)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, body.Error)
	assert.Equal(t, ErrCodeConflict, body.Error.Code)
}

func TestSyncRangeValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	url := ts.srv.URL + "/api/v1/sync/range"

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", "{"},
		{"bad oldest", `{"oldest":"yesterday","newest":"2026-08-01"}`},
		{"bad newest", `{"oldest":"2026-08-01","newest":"soon"}`},
		{"inverted range", `{"oldest":"2026-08-01","newest":"2026-07-01"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(url, "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			body := decodeResponse(t, resp)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.NotNil(t, body.Error)
			assert.Equal(t, ErrCodeBadRequest, body.Error.Code)
		})
	}
}

func TestSyncFlowThroughAPI(t *testing.T) {
	now := time.Now()
	ts := newTestServer(t, []models.Activity{
		{ID: "r1", Name: "Morning Ride", Type: models.SportRide, StartDate: now.Add(-24 * time.Hour), HasPolyline: true},
		{ID: "r2", Name: "Evening Ride", Type: models.SportRide, StartDate: now.Add(-48 * time.Hour), HasPolyline: true},
	})
	require.NoError(t, ts.sync.Initialize(context.Background()))

	resp, err := http.Get(ts.srv.URL + "/api/v1/sync/status")
	require.NoError(t, err)
	data := dataMap(t, decodeResponse(t, resp))
	assert.Equal(t, "idle", data["state"])
	assert.EqualValues(t, 2, data["activity_count"])

	resp, err = http.Get(ts.srv.URL + "/api/v1/activities")
	require.NoError(t, err)
	data = dataMap(t, decodeResponse(t, resp))
	assert.EqualValues(t, 2, data["count"])

	// A range command on an idle manager is accepted.
	resp, err = http.Post(ts.srv.URL+"/api/v1/sync/range", "application/json",
		strings.NewReader(`{"oldest":"2026-07-01","newest":"2026-08-01","debounce":true}`))
	require.NoError(t, err)
	body := decodeResponse(t, resp)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, body.Success)
}

func TestActivitiesRegionQuery(t *testing.T) {
	now := time.Now()
	ts := newTestServer(t, []models.Activity{
		{ID: "r1", Name: "Ride", Type: models.SportRide, StartDate: now.Add(-24 * time.Hour), HasPolyline: true},
	})
	require.NoError(t, ts.sync.Initialize(context.Background()))

	resp, err := http.Get(ts.srv.URL + "/api/v1/activities/region?min_lat=46.9&min_lng=7.9&max_lat=47.1&max_lng=8.1")
	require.NoError(t, err)
	data := dataMap(t, decodeResponse(t, resp))
	assert.EqualValues(t, 1, data["count"])

	// Disjoint box matches nothing.
	resp, err = http.Get(ts.srv.URL + "/api/v1/activities/region?min_lat=50&min_lng=10&max_lat=51&max_lng=11")
	require.NoError(t, err)
	data = dataMap(t, decodeResponse(t, resp))
	assert.EqualValues(t, 0, data["count"])
}

func TestActivitiesRegionValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.srv.URL + "/api/v1/activities/region?min_lat=47")
	require.NoError(t, err)
	body := decodeResponse(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, body.Error)

	resp, err = http.Get(ts.srv.URL + "/api/v1/activities/region?min_lat=48&min_lng=8&max_lat=47&max_lng=9")
	require.NoError(t, err)
	body = decodeResponse(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body.Error.Message, "min must not exceed max")
}

func TestActivitiesNearbyValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.srv.URL + "/api/v1/activities/nearby?lat=47&lng=8&radius_km=0")
	require.NoError(t, err)
	body := decodeResponse(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body.Error.Message, "radius_km")
}

func TestRouteEndpointsEmpty(t *testing.T) {
	ts := newTestServer(t, nil)

	for path, key := range map[string]string{
		"/api/v1/routes/":         "groups",
		"/api/v1/routes/matches":  "matches",
		"/api/v1/routes/sections": "sections",
	} {
		resp, err := http.Get(ts.srv.URL + path)
		require.NoError(t, err)
		data := dataMap(t, decodeResponse(t, resp))
		assert.EqualValues(t, 0, data["count"], path)
		assert.Contains(t, data, key, path)
	}

	resp, err := http.Get(ts.srv.URL + "/api/v1/routes/no-such-group")
	require.NoError(t, err)
	body := decodeResponse(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, ErrCodeNotFound, body.Error.Code)
}

func TestRouteProgressDefaultsIdle(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.srv.URL + "/api/v1/routes/progress")
	require.NoError(t, err)
	data := dataMap(t, decodeResponse(t, resp))
	assert.Equal(t, "idle", data["status"])
}

func TestClearCachesReturnNoContent(t *testing.T) {
	ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodDelete, ts.srv.URL+"/api/v1/sync/cache", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, ts.srv.URL+"/api/v1/routes/cache", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestMetricsEndpointServed(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

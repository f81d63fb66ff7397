// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package store

import (
	"context"
	"sync"
	"time"

	"github.com/veloroute/veloroute/internal/models"
)

// MemoryBoundsStore implements BoundsStore in memory. Useful for tests and
// for running without persistence.
type MemoryBoundsStore struct {
	mu         sync.Mutex
	cache      *models.ActivityBoundsCache
	tracks     map[string]models.Track
	checkpoint *models.SyncCheckpoint
	oldest     time.Time
}

// NewMemoryBoundsStore returns an empty in-memory store.
func NewMemoryBoundsStore() *MemoryBoundsStore {
	return &MemoryBoundsStore{tracks: make(map[string]models.Track)}
}

// Load returns a deep copy of the stored cache, or nil.
func (s *MemoryBoundsStore) Load(_ context.Context) (*models.ActivityBoundsCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Clone(), nil
}

// Store keeps a deep copy so later caller mutations are not observed.
func (s *MemoryBoundsStore) Store(_ context.Context, cache *models.ActivityBoundsCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = cache.Clone()
	return nil
}

// Clear drops the cache.
func (s *MemoryBoundsStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	return nil
}

// StoreGPSTracks stores copies of the given tracks.
func (s *MemoryBoundsStore) StoreGPSTracks(_ context.Context, tracks map[string]models.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, track := range tracks {
		if id == "" || len(track) == 0 {
			continue
		}
		s.tracks[id] = append(models.Track(nil), track...)
	}
	return nil
}

// LoadGPSTrack returns a copy of one track, or nil.
func (s *MemoryBoundsStore) LoadGPSTrack(_ context.Context, activityID string) (models.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	track, ok := s.tracks[activityID]
	if !ok {
		return nil, nil
	}
	return append(models.Track(nil), track...), nil
}

// ClearAllGPSTracks drops all tracks.
func (s *MemoryBoundsStore) ClearAllGPSTracks(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = make(map[string]models.Track)
	return nil
}

// StoreCheckpoint stores a copy of the checkpoint.
func (s *MemoryBoundsStore) StoreCheckpoint(_ context.Context, cp *models.SyncCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cpCopy := *cp
	cpCopy.PendingIDs = append([]string(nil), cp.PendingIDs...)
	s.checkpoint = &cpCopy
	return nil
}

// LoadCheckpoint returns a copy of the checkpoint, or nil.
func (s *MemoryBoundsStore) LoadCheckpoint(_ context.Context) (*models.SyncCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoint == nil {
		return nil, nil
	}
	cpCopy := *s.checkpoint
	cpCopy.PendingIDs = append([]string(nil), s.checkpoint.PendingIDs...)
	return &cpCopy, nil
}

// ClearCheckpoint drops the checkpoint.
func (s *MemoryBoundsStore) ClearCheckpoint(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = nil
	return nil
}

// StoreOldestDate stores the marker.
func (s *MemoryBoundsStore) StoreOldestDate(_ context.Context, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oldest = date
	return nil
}

// LoadOldestDate returns the marker, zero when unset.
func (s *MemoryBoundsStore) LoadOldestDate(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oldest, nil
}

// MemoryRouteCacheStore implements RouteCacheStore in memory.
type MemoryRouteCacheStore struct {
	mu    sync.Mutex
	cache *models.RouteMatchCache
}

// NewMemoryRouteCacheStore returns an empty in-memory route cache store.
func NewMemoryRouteCacheStore() *MemoryRouteCacheStore {
	return &MemoryRouteCacheStore{}
}

// Load returns a deep copy of the stored cache, or nil. Version mismatch
// discards, matching the Badger implementation.
func (s *MemoryRouteCacheStore) Load(_ context.Context) (*models.RouteMatchCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil || s.cache.Version != models.RouteMatchCacheVersion {
		return nil, nil
	}
	return s.cache.Clone(), nil
}

// Store keeps a deep copy.
func (s *MemoryRouteCacheStore) Store(_ context.Context, cache *models.RouteMatchCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = cache.Clone()
	return nil
}

// Clear drops the cache.
func (s *MemoryRouteCacheStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	return nil
}

// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package store

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/veloroute/veloroute/internal/models"
)

// BoundsStore is the persistence contract consumed by the sync manager.
type BoundsStore interface {
	Load(ctx context.Context) (*models.ActivityBoundsCache, error)
	Store(ctx context.Context, cache *models.ActivityBoundsCache) error
	Clear(ctx context.Context) error

	StoreGPSTracks(ctx context.Context, tracks map[string]models.Track) error
	LoadGPSTrack(ctx context.Context, activityID string) (models.Track, error)
	ClearAllGPSTracks(ctx context.Context) error

	StoreCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error
	LoadCheckpoint(ctx context.Context) (*models.SyncCheckpoint, error)
	ClearCheckpoint(ctx context.Context) error

	StoreOldestDate(ctx context.Context, date time.Time) error
	LoadOldestDate(ctx context.Context) (time.Time, error)
}

// BadgerBoundsStore implements BoundsStore on BadgerDB.
type BadgerBoundsStore struct {
	db *badger.DB
}

// NewBadgerBoundsStore wraps an open BadgerDB instance.
func NewBadgerBoundsStore(db *badger.DB) *BadgerBoundsStore {
	return &BadgerBoundsStore{db: db}
}

// Load retrieves the persisted bounds cache. Returns nil, nil when no
// cache (or only a corrupt one) exists.
func (s *BadgerBoundsStore) Load(ctx context.Context) (*models.ActivityBoundsCache, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	cache := models.NewActivityBoundsCache()
	found, err := getJSON(s.db, boundsCacheKey, cache)
	if err != nil || !found {
		return nil, err
	}
	if cache.Activities == nil {
		cache.Activities = make(map[string]*models.ActivityBoundsItem)
	}
	return cache, nil
}

// Store persists the bounds cache as a single blob.
func (s *BadgerBoundsStore) Store(ctx context.Context, cache *models.ActivityBoundsCache) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return setJSON(s.db, boundsCacheKey, cache)
}

// Clear removes the bounds cache blob. GPS tracks, checkpoint, and the
// oldest-date marker are separate channels with their own clears.
func (s *BadgerBoundsStore) Clear(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return del(s.db, boundsCacheKey)
}

// StoreGPSTracks writes each track under its own key, one transaction per
// track, so a bulk store never produces a half-written track.
func (s *BadgerBoundsStore) StoreGPSTracks(ctx context.Context, tracks map[string]models.Track) error {
	for id, track := range tracks {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if id == "" || len(track) == 0 {
			continue
		}
		if err := setJSON(s.db, gpsTrackKeyPrefix+id, track); err != nil {
			return err
		}
	}
	return nil
}

// LoadGPSTrack retrieves one activity's track. Returns nil, nil when
// absent.
func (s *BadgerBoundsStore) LoadGPSTrack(ctx context.Context, activityID string) (models.Track, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var track models.Track
	found, err := getJSON(s.db, gpsTrackKeyPrefix+activityID, &track)
	if err != nil || !found {
		return nil, err
	}
	return track, nil
}

// ClearAllGPSTracks drops the whole GPS channel.
func (s *BadgerBoundsStore) ClearAllGPSTracks(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return dropPrefix(s.db, gpsTrackKeyPrefix)
}

// StoreCheckpoint persists the in-progress sync record.
func (s *BadgerBoundsStore) StoreCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if cp == nil {
		return errors.New("nil checkpoint")
	}
	return setJSON(s.db, checkpointKey, cp)
}

// LoadCheckpoint retrieves the checkpoint, or nil, nil when none exists.
func (s *BadgerBoundsStore) LoadCheckpoint(ctx context.Context) (*models.SyncCheckpoint, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	cp := &models.SyncCheckpoint{}
	found, err := getJSON(s.db, checkpointKey, cp)
	if err != nil || !found {
		return nil, err
	}
	return cp, nil
}

// ClearCheckpoint removes the checkpoint after a completed date range.
func (s *BadgerBoundsStore) ClearCheckpoint(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return del(s.db, checkpointKey)
}

// StoreOldestDate caches the oldest activity date reported by the remote
// API, so the timeline extent query runs once.
func (s *BadgerBoundsStore) StoreOldestDate(ctx context.Context, date time.Time) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return setJSON(s.db, oldestDateKey, date)
}

// LoadOldestDate retrieves the cached oldest date; zero time when absent.
func (s *BadgerBoundsStore) LoadOldestDate(ctx context.Context) (time.Time, error) {
	if err := ctxErr(ctx); err != nil {
		return time.Time{}, err
	}
	var date time.Time
	if _, err := getJSON(s.db, oldestDateKey, &date); err != nil {
		return time.Time{}, err
	}
	return date, nil
}

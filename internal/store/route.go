// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package store

import (
	"context"

	"github.com/dgraph-io/badger/v4"

	"github.com/veloroute/veloroute/internal/logging"
	"github.com/veloroute/veloroute/internal/models"
)

// RouteCacheStore is the persistence contract consumed by the route
// processing queue.
type RouteCacheStore interface {
	Load(ctx context.Context) (*models.RouteMatchCache, error)
	Store(ctx context.Context, cache *models.RouteMatchCache) error
	Clear(ctx context.Context) error
}

// BadgerRouteCacheStore implements RouteCacheStore on BadgerDB.
type BadgerRouteCacheStore struct {
	db *badger.DB
}

// NewBadgerRouteCacheStore wraps an open BadgerDB instance.
func NewBadgerRouteCacheStore(db *badger.DB) *BadgerRouteCacheStore {
	return &BadgerRouteCacheStore{db: db}
}

// Load retrieves the persisted route cache. A missing cache, a corrupt
// blob, or a schema version mismatch all yield nil, nil: the queue starts
// from a clean reprocessing pass instead of migrating.
func (s *BadgerRouteCacheStore) Load(ctx context.Context) (*models.RouteMatchCache, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	cache := &models.RouteMatchCache{}
	found, err := getJSON(s.db, routeCacheKey, cache)
	if err != nil || !found {
		return nil, err
	}
	if cache.Version != models.RouteMatchCacheVersion {
		logging.Warn().
			Int("found", cache.Version).
			Int("want", models.RouteMatchCacheVersion).
			Msg("Route cache schema version mismatch, discarding")
		return nil, nil
	}
	return cache, nil
}

// Store persists the route cache as a single blob.
func (s *BadgerRouteCacheStore) Store(ctx context.Context, cache *models.RouteMatchCache) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return setJSON(s.db, routeCacheKey, cache)
}

// Clear removes the route cache blob.
func (s *BadgerRouteCacheStore) Clear(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return del(s.db, routeCacheKey)
}

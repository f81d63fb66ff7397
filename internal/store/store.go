// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

// Package store persists the pipeline's caches in BadgerDB.
//
// Two storage channels are deliberate: the small, frequently rewritten
// metadata blobs (bounds cache, checkpoint, oldest-date marker, route
// cache) each live under a single key, while bulk GPS tracks are stored
// under one key per activity. Keeping geometry out of the metadata blob
// keeps merge/update of the hot cache cheap and avoids choking
// size-limited backends on bulk data.
//
// Every operation is atomic per call and side-effect-free on failure: a
// failed or corrupt load yields nil, never a partial object.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/veloroute/veloroute/internal/logging"
)

// Key layout. Scoped prefixes keep the channels separable for clear and
// iteration.
const (
	boundsCacheKey    = "bounds:cache"
	checkpointKey     = "bounds:checkpoint"
	oldestDateKey     = "bounds:oldest"
	gpsTrackKeyPrefix = "gps:"
	routeCacheKey     = "route:cache"
)

// Open opens (or creates) the BadgerDB backing store at path. With
// inMemory set, Badger keeps everything in RAM; tests use this.
func Open(path string, inMemory bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithInMemory(inMemory)
	if inMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return db, nil
}

// getJSON loads and unmarshals a single key into out. Returns
// (false, nil) when the key is absent, (false, nil) with a logged warning
// when the stored blob is corrupt, so callers never observe a partial
// object.
func getJSON(db *badger.DB, key string, out any) (bool, error) {
	var raw []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if raw == nil {
		return false, nil
	}
	if err := unmarshal(raw, out); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("Discarding corrupt blob")
		return false, nil
	}
	return true, nil
}

// setJSON marshals and stores a single key.
func setJSON(db *badger.DB, key string, v any) error {
	data, err := marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// del removes a single key. Deleting an absent key is not an error.
func del(db *badger.DB, key string) error {
	err := db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// dropPrefix removes all keys under a prefix in batched transactions.
func dropPrefix(db *badger.DB, prefix string) error {
	if err := db.DropPrefix([]byte(prefix)); err != nil {
		return fmt.Errorf("drop prefix %s: %w", prefix, err)
	}
	return nil
}

// ctxErr returns the context error if the context is already done, so
// storage calls observe cancellation at their suspension point.
func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

// Package events carries the in-process signals between the sync engine
// and its consumers.
//
// Two kinds of primitives live here. The Bus is a Watermill Pub/Sub used
// for the sync lifecycle events (initial sync completion, per-batch
// activity arrival); consumers that miss the initial-sync edge can catch
// up from the cache instead. The Subject is a lighter replay-on-subscribe
// observable used for progress and cache snapshots, where only the latest
// value matters and new subscribers need it immediately.
package events

// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

// Package models defines the shared data types for the sync and route
// matching pipeline: remote activity records, the persisted bounds cache
// with its checkpoint, and the route matching cache (signatures, groups,
// matches, frequent sections).
//
// Types in this package are plain data carriers. Behavior that depends on
// them (merging, matching, persistence) lives with the component that owns
// it; the few helpers here (bounds normalization, cache merge) are kept
// close to the invariants they enforce.
package models

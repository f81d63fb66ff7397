// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

// Package trainingapi is the client for the remote training-data API.
//
// The remote service enforces both a short burst quota and a sustained
// sliding-window quota, and answers HTTP 429 when either is exceeded.
// The client keeps local token buckets matched to those quotas so that
// well-behaved callers rarely see a 429 at all, retries 429/5xx with
// exponential backoff, and trips a circuit breaker when the service is
// persistently down.
//
// Coordinate quirk: the per-activity bounds endpoint reports raw corner
// coordinates in source order, which for southern/western hemispheres can
// put the "min" corner above the "max". Callers receive the raw box and
// are expected to normalize; Bounds.NormalizeBounds in models handles it.
package trainingapi

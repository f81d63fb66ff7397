// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package models

import "time"

// SyncCheckpoint records an in-progress sync so it can be resumed after an
// interruption (crash, app suspension, network loss).
//
// A checkpoint with a non-empty PendingIDs list on disk means the sync for
// its date range was interrupted before all activities were fetched.
// Absence, or an empty list, means no resume is needed.
//
// The checkpoint is written before each batch fetch begins and shrunk after
// each batch completes, so a crash mid-fetch always leaves a checkpoint
// describing exactly what is still missing. It is deleted on successful
// completion of the date range.
type SyncCheckpoint struct {
	Oldest     time.Time `json:"oldest"`
	Newest     time.Time `json:"newest"`
	PendingIDs []string  `json:"pending_ids"`
	Timestamp  time.Time `json:"timestamp"`
}

// NeedsResume reports whether the checkpoint describes interrupted work.
func (c *SyncCheckpoint) NeedsResume() bool {
	return c != nil && len(c.PendingIDs) > 0
}

// Shrink returns a copy of the checkpoint with the given IDs removed from
// the pending list. The stored checkpoint is replaced after each completed
// batch rather than mutated in place.
func (c *SyncCheckpoint) Shrink(done []string) *SyncCheckpoint {
	doneSet := make(map[string]bool, len(done))
	for _, id := range done {
		doneSet[id] = true
	}
	remaining := make([]string, 0, len(c.PendingIDs))
	for _, id := range c.PendingIDs {
		if !doneSet[id] {
			remaining = append(remaining, id)
		}
	}
	return &SyncCheckpoint{
		Oldest:     c.Oldest,
		Newest:     c.Newest,
		PendingIDs: remaining,
		Timestamp:  time.Now(),
	}
}

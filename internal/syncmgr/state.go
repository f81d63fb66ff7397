// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package syncmgr

import "errors"

// State is the lifecycle state of the sync manager.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateIdle          State = "idle"
	StateSyncing       State = "syncing"
	StateError         State = "error"
)

// ErrInvalidTransition is returned when a requested state change is not in
// the transition table. The manager's state is left unchanged.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions is the complete set of allowed state changes. Anything
// not listed is rejected, which prevents, for example, starting a new sync
// while still initializing. Every error state has a recovery transition;
// there is no terminal state while the process runs.
var validTransitions = map[State][]State{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateIdle, StateError},
	StateIdle:          {StateSyncing},
	StateSyncing:       {StateIdle, StateSyncing, StateError},
	StateError:         {StateIdle, StateSyncing, StateInitializing, StateUninitialized},
}

// canTransition reports whether from -> to is in the transition table.
func canTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package events

import (
	"sync"

	"github.com/veloroute/veloroute/internal/logging"
)

// Subject is a replay-on-subscribe observable: new subscribers immediately
// receive the most recent value (if any) before subsequent emissions.
// Listeners run synchronously on the emitting goroutine; a panicking
// listener is logged and dropped rather than taking the emitter down.
type Subject[T any] struct {
	mu        sync.Mutex
	listeners map[int]func(T)
	nextID    int
	last      T
	hasLast   bool
}

// NewSubject creates an empty Subject. The first Emit establishes the
// value replayed to later subscribers.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{listeners: make(map[int]func(T))}
}

// Subscribe registers fn and, if a value was already emitted, invokes it
// with that value before returning. The returned function unsubscribes;
// calling it more than once is harmless.
func (s *Subject[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	replay := s.hasLast
	last := s.last
	s.mu.Unlock()

	if replay {
		s.dispatch(fn, id, last)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Emit stores v as the replay value and delivers it to every subscriber.
func (s *Subject[T]) Emit(v T) {
	s.mu.Lock()
	s.last = v
	s.hasLast = true
	fns := make(map[int]func(T), len(s.listeners))
	for id, fn := range s.listeners {
		fns[id] = fn
	}
	s.mu.Unlock()

	for id, fn := range fns {
		s.dispatch(fn, id, v)
	}
}

// Last returns the replay value and whether one exists.
func (s *Subject[T]) Last() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Reset clears the replay value. Existing subscriptions are kept.
func (s *Subject[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	s.last = zero
	s.hasLast = false
}

func (s *Subject[T]) dispatch(fn func(T), id int, v T) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Interface("panic", r).
				Int("listener_id", id).
				Msg("Subject listener panicked, removing it")
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		}
	}()
	fn(v)
}

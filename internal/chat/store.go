// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "sync"

// =============================================================================
// OBSERVABLE STORE
// =============================================================================

// Store is a value container with change notification. Subscribers are
// called with every value in the order it was set, one at a time, and never
// while the store lock is held, so a subscriber may call Set or Update.
type Store[T any] struct {
	mu        sync.Mutex
	value     T
	subs      map[int]func(T)
	nextID    int
	queue     []T
	notifying bool
}

// NewStore creates a store holding initial.
func NewStore[T any](initial T) *Store[T] {
	return &Store[T]{
		value: initial,
		subs:  make(map[int]func(T)),
	}
}

// Get returns the current value.
func (s *Store[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set replaces the value and notifies subscribers.
func (s *Store[T]) Set(v T) {
	s.mu.Lock()
	s.value = v
	s.enqueueLocked(v)
}

// Update applies fn to the current value as one step and notifies
// subscribers with the result, which it also returns.
func (s *Store[T]) Update(fn func(T) T) T {
	s.mu.Lock()
	v := fn(s.value)
	s.value = v
	s.enqueueLocked(v)
	return v
}

// Subscribe registers fn and immediately calls it with the current value.
// The returned function removes the subscription.
func (s *Store[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	current := s.value
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// enqueueLocked must be called with s.mu held; it releases it.
func (s *Store[T]) enqueueLocked(v T) {
	s.queue = append(s.queue, v)
	if s.notifying {
		// The goroutine already draining will deliver v
		s.mu.Unlock()
		return
	}
	s.notifying = true
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		subs := make([]func(T), 0, len(s.subs))
		for _, fn := range s.subs {
			subs = append(subs, fn)
		}
		s.mu.Unlock()
		for _, fn := range subs {
			fn(next)
		}
		s.mu.Lock()
	}
	s.notifying = false
	s.mu.Unlock()
}

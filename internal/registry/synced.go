// File: internal/registry/synced.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package registry

import "sync"

// Synced is a Registry safe for concurrent use.
type Synced[V any] struct {
	mu  sync.RWMutex
	reg *Registry[V]
}

// NewSynced creates an empty concurrent registry.
func NewSynced[V any]() *Synced[V] {
	return &Synced[V]{reg: New[V]()}
}

func (s *Synced[V]) Add(id int, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.Add(id, v)
}

// AddWithFreeID registers v under preferred, or under the next free id above
// floor, and returns the id used.
func (s *Synced[V]) AddWithFreeID(preferred, floor int, v V) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.reg.NextFreeID(preferred, floor)
	s.reg.entries[id] = v
	return id
}

func (s *Synced[V]) Remove(id int) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.Remove(id)
}

func (s *Synced[V]) Get(id int) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg.Get(id)
}

func (s *Synced[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg.Len()
}

// Snapshot copies the membership under the read lock.
func (s *Synced[V]) Snapshot() []Entry[V] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg.Snapshot()
}

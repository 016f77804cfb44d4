// Package registry tracks the connections that take part in the relay.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry is owned by a single event loop and carries no locking. Synced
// wraps the same operations behind a mutex for the thread-per-connection
// backend. Fan-out always iterates a Snapshot so that removals performed
// while broadcasting never disturb the iteration.

package registry

import (
	"fmt"
	"sort"

	"github.com/momentics/hioload-relay/api"
)

// Entry is one registered connection.
type Entry[V any] struct {
	ID    int
	Value V
}

// Registry maps connection ids to their outbound handles.
type Registry[V any] struct {
	entries map[int]V
}

// New creates an empty single-owner registry.
func New[V any]() *Registry[V] {
	return &Registry[V]{entries: make(map[int]V)}
}

// Add inserts id. An id can be registered only once.
func (r *Registry[V]) Add(id int, v V) error {
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("registry add %d: %w", id, api.ErrAlreadyExists)
	}
	r.entries[id] = v
	return nil
}

// Remove deletes id and returns its value. The second result is false if id
// was not registered, which makes repeated teardown harmless.
func (r *Registry[V]) Remove(id int) (V, bool) {
	v, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	return v, ok
}

// Get looks up id.
func (r *Registry[V]) Get(id int) (V, bool) {
	v, ok := r.entries[id]
	return v, ok
}

// Has reports whether id is registered.
func (r *Registry[V]) Has(id int) bool {
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of registered connections.
func (r *Registry[V]) Len() int {
	return len(r.entries)
}

// Snapshot returns the current membership ordered by id.
func (r *Registry[V]) Snapshot() []Entry[V] {
	out := make([]Entry[V], 0, len(r.entries))
	for id, v := range r.entries {
		out = append(out, Entry[V]{ID: id, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextFreeID returns preferred if unused, otherwise the smallest unused id
// not below floor.
func (r *Registry[V]) NextFreeID(preferred, floor int) int {
	if preferred > 0 && !r.Has(preferred) {
		return preferred
	}
	id := floor
	for r.Has(id) {
		id++
	}
	return id
}

// Package cache provides a small bounded key→value cache with
// oldest-insertion eviction.
//
// It backs the translation chunk cache, the pivot intermediate cache, and the
// glossary normaliser cache. Entries are immutable once inserted and never
// expire except by eviction, so no per-entry locking or transactional
// guarantees are needed.
package cache

import "sync"

// Bounded is a fixed-capacity map that evicts its oldest entry when full.
// Re-inserting an existing key refreshes the value but keeps the key's
// original insertion position.
//
// Bounded is safe for concurrent use.
type Bounded[K comparable, V any] struct {
	mu      sync.RWMutex
	max     int
	entries map[K]V
	order   []K // insertion order, oldest first
}

// NewBounded creates a [Bounded] cache holding at most max entries.
// A max of zero or less is treated as 1.
func NewBounded[K comparable, V any](max int) *Bounded[K, V] {
	if max <= 0 {
		max = 1
	}
	return &Bounded[K, V]{
		max:     max,
		entries: make(map[K]V, max),
	}
}

// Get returns the cached value for key and whether it was present.
func (c *Bounded[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Put inserts value under key, evicting the oldest entry when the cache is at
// capacity and key is not already present.
func (c *Bounded[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = value
		return
	}

	if len(c.entries) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = value
	c.order = append(c.order, key)
}

// Len returns the number of entries currently held.
func (c *Bounded[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *Bounded[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]V, c.max)
	c.order = nil
}

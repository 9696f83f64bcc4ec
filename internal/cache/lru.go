// Package cache provides the bounded caches shared by concurrent message
// formatting: a generic LRU and a short-lived negative cache.
package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is a fixed-capacity key/value store with least-recently-used
// eviction. All methods are safe for concurrent use; every read-promote and
// insert-evict pair is atomic.
type LRU[K comparable, V any] struct {
	entries  *lru.Cache[K, V]
	capacity int
}

// NewLRU creates an LRU holding at most capacity entries.
func NewLRU[K comparable, V any](capacity int) (*LRU[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("new lru: capacity must be > 0, got %d", capacity)
	}

	entries, err := lru.New[K, V](capacity)
	if err != nil {
		return nil, fmt.Errorf("new lru: %w", err)
	}

	return &LRU[K, V]{entries: entries, capacity: capacity}, nil
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	return c.entries.Get(key)
}

// Put inserts or updates key, marks it most recently used, and evicts the
// least recently used entry when capacity is exceeded. It reports whether
// an eviction happened.
func (c *LRU[K, V]) Put(key K, value V) bool {
	return c.entries.Add(key, value)
}

// Contains reports whether key is present without touching recency.
func (c *LRU[K, V]) Contains(key K) bool {
	return c.entries.Contains(key)
}

// Remove deletes key when present.
func (c *LRU[K, V]) Remove(key K) {
	c.entries.Remove(key)
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	return c.entries.Len()
}

// Capacity returns the configured maximum size.
func (c *LRU[K, V]) Capacity() int {
	return c.capacity
}

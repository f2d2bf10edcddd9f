// Package cache provides the bounded TTL caches used for gateway and
// pricing reads. Entries may be stale within the TTL; writers invalidate
// through Remove.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCapacity bounds every process-local cache.
const DefaultCapacity = 10_000

// TTL is a bounded, expiring key value cache.
type TTL[K comparable, V any] struct {
	lru    *expirable.LRU[K, V]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewTTL builds a cache holding up to capacity entries for at most ttl.
func NewTTL[K comparable, V any](capacity int, ttl time.Duration) *TTL[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &TTL[K, V]{lru: expirable.NewLRU[K, V](capacity, nil, ttl)}
}

// Get returns the cached value when present and unexpired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	value, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return value, ok
}

// Put stores a value.
func (c *TTL[K, V]) Put(key K, value V) {
	c.lru.Add(key, value)
}

// Remove invalidates a key after a write through the cache.
func (c *TTL[K, V]) Remove(key K) {
	c.lru.Remove(key)
}

// Len reports the resident entry count.
func (c *TTL[K, V]) Len() int {
	return c.lru.Len()
}

// Stats reports cumulative hits and misses.
func (c *TTL[K, V]) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

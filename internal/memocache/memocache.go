// Package memocache provides a bounded get-or-create store keyed by
// canonical fingerprints. Composition roots own an instance per shared
// resource kind, consumers never construct one themselves.
package memocache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache memoizes values by fingerprint with an LRU size bound and an
// optional ttl. A ttl of zero disables expiry.
type Cache[V any] struct {
	mu  sync.Mutex
	lru *expirable.LRU[uint64, V]
}

func New[V any](size int, ttl time.Duration) *Cache[V] {
	if size <= 0 {
		size = 128
	}
	return &Cache[V]{lru: expirable.NewLRU[uint64, V](size, nil, ttl)}
}

// GetOrCreate returns the value stored under key. On a miss it invokes
// build and retains the result. The builder runs under the cache lock,
// concurrent callers for the same key observe exactly one build.
// Builder errors are returned and nothing is retained.
func (c *Cache[V]) GetOrCreate(key uint64, build func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	v, err := build()
	if err != nil {
		var zero V
		return zero, err
	}
	c.lru.Add(key, v)
	return v, nil
}

// Len reports the number of live entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

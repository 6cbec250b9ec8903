// Package cache provides a small keyed TTL cache with explicit
// get-or-refresh and invalidate operations.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache holds at most one value per key. Concurrent misses for the same
// key share a single refresh call.
type TTLCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
	group   singleflight.Group
	now     func() time.Time

	// gen is bumped by Invalidate so a refresh that started before the
	// invalidation does not write its result back.
	gen map[K]uint64
}

func New[K comparable, V any]() *TTLCache[K, V] {
	return &TTLCache[K, V]{
		entries: make(map[K]entry[V]),
		gen:     make(map[K]uint64),
		now:     time.Now,
	}
}

// GetOrRefresh returns the cached value for key, or calls refresh and
// caches its result for ttl. Errors are not cached.
func (c *TTLCache[K, V]) GetOrRefresh(ctx context.Context, key K, ttl time.Duration, refresh func(context.Context) (V, error)) (V, error) {
	if v, ok := c.get(key); ok {
		return v, nil
	}

	c.mu.RLock()
	startGen := c.gen[key]
	c.mu.RUnlock()

	res, err, _ := c.group.Do(fmt.Sprint(key), func() (any, error) {
		v, err := refresh(ctx)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		if c.gen[key] == startGen {
			c.entries[key] = entry[V]{value: v, expiresAt: c.now().Add(ttl)}
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

func (c *TTLCache[K, V]) get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Invalidate drops key. A refresh already in flight for key will not
// repopulate it.
func (c *TTLCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gen[key]++
	c.mu.Unlock()
	c.group.Forget(fmt.Sprint(key))
}

// Len counts entries, expired ones included.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

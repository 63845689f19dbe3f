package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// LoadFunc fetches the value for key from the backing store. found=false
// means the key does not exist; such results are not cached.
type LoadFunc[K comparable, V any] func(ctx context.Context, key K) (value V, found bool, err error)

type loadingEntry[V any] struct {
	value      V
	lastAccess time.Time
}

// LoadingCache is a read-through in-process cache. Entries are evicted
// after TTL without access. Concurrent misses on one key share a single
// load. Put and Invalidate bump the key's generation so that a load which
// started earlier never overwrites the newer state.
type LoadingCache[K comparable, V any] struct {
	mu       sync.Mutex
	entries  map[K]*loadingEntry[V]
	gens     map[K]uint64
	inflight map[K]int
	seq      uint64

	ttl   time.Duration
	load  LoadFunc[K, V]
	group singleflight.Group
	now   func() time.Time
}

// NewLoadingCache creates a cache with the given idle TTL. ttl <= 0 disables
// idle eviction.
func NewLoadingCache[K comparable, V any](ttl time.Duration, load LoadFunc[K, V]) *LoadingCache[K, V] {
	return &LoadingCache[K, V]{
		entries:  make(map[K]*loadingEntry[V]),
		gens:     make(map[K]uint64),
		inflight: make(map[K]int),
		ttl:      ttl,
		load:     load,
		now:      time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (c *LoadingCache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *LoadingCache[K, V]) idle(e *loadingEntry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.lastAccess) >= c.ttl
}

// lookupLocked returns a live entry and refreshes its access time.
func (c *LoadingCache[K, V]) lookupLocked(key K) (*loadingEntry[V], bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	now := c.now()
	if c.idle(e, now) {
		delete(c.entries, key)
		return nil, false
	}
	e.lastAccess = now
	return e, true
}

// Get returns the cached value, loading it on a miss.
func (c *LoadingCache[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	c.mu.Lock()
	if e, ok := c.lookupLocked(key); ok {
		v := e.value
		c.mu.Unlock()
		return v, true, nil
	}
	gen := c.gens[key]
	c.inflight[key]++
	c.mu.Unlock()

	type result struct {
		value V
		found bool
	}
	sfKey := fmt.Sprintf("%v#%d", key, gen)
	res, err, _ := c.group.Do(sfKey, func() (interface{}, error) {
		v, found, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			c.mu.Lock()
			if c.gens[key] == gen {
				c.entries[key] = &loadingEntry[V]{value: v, lastAccess: c.now()}
			}
			c.mu.Unlock()
		}
		return result{value: v, found: found}, nil
	})

	c.mu.Lock()
	if c.inflight[key]--; c.inflight[key] <= 0 {
		delete(c.inflight, key)
	}
	c.mu.Unlock()

	var zero V
	if err != nil {
		return zero, false, err
	}
	r := res.(result)
	if !r.found {
		return zero, false, nil
	}
	return r.value, true, nil
}

// GetIfPresent returns the cached value without loading.
func (c *LoadingCache[K, V]) GetIfPresent(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lookupLocked(key); ok {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Put stores value for key, superseding any load in flight.
func (c *LoadingCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumpLocked(key)
	c.entries[key] = &loadingEntry[V]{value: value, lastAccess: c.now()}
}

// Invalidate drops key, superseding any load in flight.
func (c *LoadingCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumpLocked(key)
	delete(c.entries, key)
}

func (c *LoadingCache[K, V]) bumpLocked(key K) {
	c.seq++
	c.gens[key] = c.seq
}

// Refresh drops key and reloads it from the store.
func (c *LoadingCache[K, V]) Refresh(ctx context.Context, key K) (V, bool, error) {
	c.Invalidate(key)
	return c.Get(ctx, key)
}

// Snapshot copies the live entries without touching their access time.
func (c *LoadingCache[K, V]) Snapshot() map[K]V {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make(map[K]V, len(c.entries))
	for k, e := range c.entries {
		if !c.idle(e, now) {
			out[k] = e.value
		}
	}
	return out
}

// Len returns the number of stored entries, including idle ones not yet evicted.
func (c *LoadingCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// EvictIdle removes idle entries and forgets generations of keys that are
// neither cached nor loading. Returns the number of evicted entries.
func (c *LoadingCache[K, V]) EvictIdle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if c.idle(e, now) {
			delete(c.entries, k)
			n++
		}
	}
	for k := range c.gens {
		if _, cached := c.entries[k]; cached {
			continue
		}
		if c.inflight[k] > 0 {
			continue
		}
		delete(c.gens, k)
	}
	return n
}

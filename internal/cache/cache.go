package cache

import "sync"

// Cache is a thread-safe LRU cache with a soft limit. When the cache holds
// more than softLimit entries the least recently used one is evicted.
//
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	entries   map[K]*cacheEntry[V]
	softLimit int
	tick      int64 // Monotonic access counter

	hits      uint64
	misses    uint64
	evictions uint64
}

// cacheEntry holds a cached value with its access time.
type cacheEntry[V any] struct {
	value V
	atime int64
}

// New creates a cache with the given soft limit. A softLimit of 0 means
// unlimited.
func New[K comparable, V any](softLimit int) *Cache[K, V] {
	return &Cache[K, V]{
		entries:   make(map[K]*cacheEntry[V]),
		softLimit: softLimit,
	}
}

// Load returns the cached value for key, calling create on a miss. create
// runs under the lock, so concurrent loads of a key create it once. An
// error from create is returned and nothing is stored.
func (c *Cache[K, V]) Load(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	if entry, ok := c.entries[key]; ok {
		c.hits++
		entry.atime = c.tick
		return entry.value, nil
	}
	c.misses++

	value, err := create()
	if err != nil {
		var zero V
		return zero, err
	}
	c.entries[key] = &cacheEntry[V]{value: value, atime: c.tick}
	if c.softLimit > 0 && len(c.entries) > c.softLimit {
		c.evictOldest()
	}
	return value, nil
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Len:       len(c.entries),
		Capacity:  c.softLimit,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// evictOldest removes the least recently used entry. Caller must hold c.mu.
func (c *Cache[K, V]) evictOldest() {
	var (
		oldest K
		atime  int64
		found  bool
	)
	for key, e := range c.entries {
		if !found || e.atime < atime {
			oldest, atime, found = key, e.atime, true
		}
	}
	if found {
		delete(c.entries, oldest)
		c.evictions++
	}
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Capacity is the soft limit, 0 if unlimited.
	Capacity int
	// Hits and Misses count calls to Load.
	Hits   uint64
	Misses uint64
	// Evictions is the number of entries dropped over the soft limit.
	Evictions uint64
}

// HitRate returns hits over lookups, 0 when there were none.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

package cache

import "sync/atomic"

// Stats is a snapshot of the cache counters.
type Stats struct {
	Entries   int    `json:"entries"`
	Bytes     int    `json:"bytes"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Inserts   uint64 `json:"inserts"`
	Evictions uint64 `json:"evictions"`
	Rejected  uint64 `json:"rejected"`
	// Waves is the number of completed reader waves, i.e. promotion passes.
	Waves uint64 `json:"waves"`
}

// counters are updated by concurrent readers, hence atomic.
type counters struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	inserts   atomic.Uint64
	evictions atomic.Uint64
	rejected  atomic.Uint64
	waves     atomic.Uint64
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.guard.RLock()
	entries, size := c.store.len(), c.store.size
	c.guard.RUnlock()
	return Stats{
		Entries:   entries,
		Bytes:     size,
		Capacity:  c.store.capacity,
		Hits:      c.stats.hits.Load(),
		Misses:    c.stats.misses.Load(),
		Inserts:   c.stats.inserts.Load(),
		Evictions: c.stats.evictions.Load(),
		Rejected:  c.stats.rejected.Load(),
		Waves:     c.stats.waves.Load(),
	}
}

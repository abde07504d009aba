// Package cache implements the in-memory object cache of the proxy.
//
// Objects are raw origin responses keyed by the request URI exactly as the client sent it.
// The cache is bounded by the aggregate size of the stored objects and evicts the least
// recently used object first. Recency is tracked lazily: lookups only mark entries, and the
// last reader of a wave of concurrent lookups moves the marked entries to the front.
package cache

import (
	"bytes"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
)

const (
	// MaxCacheSize is the total number of body bytes the cache may hold.
	MaxCacheSize = 1049000
	// MaxObjectSize is the largest single object that is admitted to the cache.
	MaxObjectSize = 102400
)

// ErrObjectTooLarge is returned by Insert for objects that can never be admitted.
var ErrObjectTooLarge = errors.New(errors.CodeInvalidInput, "object too large to cache")

// EntryInfo describes a stored object without exposing its bytes.
type EntryInfo struct {
	Key  string `json:"key"`
	Size int    `json:"size"`
}

// Cache is the object cache shared by all connection handlers.
// All methods are safe for concurrent use.
type Cache struct {
	guard         *Guard
	store         *store
	maxObjectSize int
	log           zerolog.Logger
	stats         counters
}

// New creates an empty cache.
// Without options the capacity is MaxCacheSize and the object limit is MaxObjectSize.
func New(opts ...Option) *Cache {
	c := &Cache{
		maxObjectSize: MaxObjectSize,
		log:           zerolog.Nop(),
	}
	capacity := MaxCacheSize
	for _, opt := range opts {
		opt(c, &capacity)
	}
	c.store = newStore(capacity)
	c.guard = NewGuard(c.drain)
	return c
}

// Find returns a copy of the object stored for uri.
// A hit marks the object as recently used, it is moved to the front when the current reader wave ends.
func (c *Cache) Find(uri string) ([]byte, bool) {
	c.guard.RLock()
	defer c.guard.RUnlock()
	body, ok := c.store.find(uri)
	if !ok {
		c.stats.misses.Add(1)
		return nil, false
	}
	c.stats.hits.Add(1)
	return bytes.Clone(body), true
}

// Peek is like Find but does not count as an access.
func (c *Cache) Peek(uri string) ([]byte, bool) {
	c.guard.RLock()
	defer c.guard.RUnlock()
	body, ok := c.store.peek(uri)
	if !ok {
		return nil, false
	}
	return bytes.Clone(body), true
}

// Insert stores a copy of body under uri as the most recently used object,
// evicting least recently used objects until it fits.
// Objects larger than the object limit or the capacity are rejected before anything is evicted.
func (c *Cache) Insert(uri string, body []byte) error {
	if len(body) > c.maxObjectSize || len(body) > c.store.capacity {
		c.stats.rejected.Add(1)
		c.log.Debug().Str("key", uri).Int("size", len(body)).Msg("Object too large, not caching")
		return errors.Wrapf(ErrObjectTooLarge, errors.CodeInvalidInput,
			"object of %d bytes exceeds limit of %d bytes", len(body), min(c.maxObjectSize, c.store.capacity))
	}
	owned := bytes.Clone(body)
	if owned == nil {
		owned = []byte{}
	}

	c.guard.Lock()
	evicted := c.store.insert(uri, owned)
	size := c.store.size
	c.guard.Unlock()

	c.stats.inserts.Add(1)
	c.stats.evictions.Add(uint64(evicted))
	c.log.Trace().
		Str("key", uri).
		Int("size", len(owned)).
		Int("evicted", evicted).
		Int("total", size).
		Msg("Cache write")
	return nil
}

// Entries lists the stored objects, most recently used first.
func (c *Cache) Entries() []EntryInfo {
	c.guard.RLock()
	defer c.guard.RUnlock()
	return c.store.keys()
}

// Len returns the number of stored objects.
func (c *Cache) Len() int {
	c.guard.RLock()
	defer c.guard.RUnlock()
	return c.store.len()
}

// Bytes returns the aggregate size of the stored objects.
func (c *Cache) Bytes() int {
	c.guard.RLock()
	defer c.guard.RUnlock()
	return c.store.size
}

// Capacity returns the maximum aggregate size.
func (c *Cache) Capacity() int {
	return c.store.capacity
}

// drain is run by the last reader of every wave.
func (c *Cache) drain() {
	c.store.promote()
	c.stats.waves.Add(1)
}

// Package eventcache provides a bounded, LRU-evicted store of raw ledger
// events keyed by their monotonic sequence id.
//
// The cache exists to re-serve recently synced event ranges during retries and
// shallow reorg replays without another round trip to the indexing service.
// Eviction is least-recently-accessed rather than oldest-inserted: the access
// pattern strongly favors the most recently synced range, which is exactly the
// range a retry will ask for again.
//
// All operations are safe for concurrent use, never block indefinitely, and
// report misses through ok/empty results instead of errors.
package eventcache

import (
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxSize is the default maximum number of events held by the cache.
// At a few hundred bytes per raw event this bounds the cache to a few MB.
const DefaultMaxSize = 10_000

// Cache is a bounded LRU store of RawEvent values keyed by event id.
//
// A single logical owner (the sync worker) performs writes; reads may come
// from retry paths. A mutex serializes all operations so range scans never
// observe a half-applied eviction.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[uint64, RawEvent]
}

// New creates a Cache bounded to maxSize entries. If maxSize is not strictly
// positive, DefaultMaxSize is used.
func New(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	// lru.New only fails on a non-positive size, which is guarded above.
	entries, _ := lru.New[uint64, RawEvent](maxSize)

	return &Cache{entries: entries}
}

// Put stores the event under its id, marking it as most recently used.
// Inserting when the cache is full evicts the least-recently-accessed entry.
func (c *Cache) Put(event RawEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(event.ID, event)
}

// Get returns the event stored under id and marks it as most recently used.
// The second return value is false on a miss; Get never fails otherwise.
func (c *Cache) Get(id uint64) (RawEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries.Get(id)
}

// Range returns all cached events with fromID <= id <= toID, ordered by
// ascending id. Every returned event is marked as recently used, so a
// subsequent retry of the same range stays hot. Missing ids are skipped;
// an empty slice is returned when nothing in the range is cached.
func (c *Cache) Range(fromID, toID uint64) []RawEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := make([]RawEvent, 0)
	for _, id := range c.entries.Keys() {
		if id < fromID || id > toID {
			continue
		}

		if event, ok := c.entries.Get(id); ok {
			events = append(events, event)
		}
	}

	slices.SortFunc(events, func(a, b RawEvent) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	return events
}

// EvictBefore removes every cached event whose block height is strictly below
// height. It is used to drop events that have fallen out of the reorg window.
func (c *Cache) EvictBefore(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range c.entries.Keys() {
		if event, ok := c.entries.Peek(id); ok && event.BlockHeight < height {
			c.entries.Remove(id)
		}
	}
}

// EvictAbove removes every cached event whose block height is strictly above
// height. It is the cache half of a shallow reorg rollback: everything derived
// from blocks past the common ancestor must be discarded before replay.
func (c *Cache) EvictAbove(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range c.entries.Keys() {
		if event, ok := c.entries.Peek(id); ok && event.BlockHeight > height {
			c.entries.Remove(id)
		}
	}
}

// MaxIDAtOrBelow returns the highest cached event id whose block height is at
// or below the given height, and whether any such event is cached. After a
// shallow rollback this is the id replay resumes from.
func (c *Cache) MaxIDAtOrBelow(height uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		maxID uint64
		found bool
	)
	for _, id := range c.entries.Keys() {
		event, ok := c.entries.Peek(id)
		if !ok || event.BlockHeight > height {
			continue
		}

		if !found || event.ID > maxID {
			maxID = event.ID
			found = true
		}
	}

	return maxID, found
}

// Purge removes every cached event. It is invoked on deep reorgs, where no
// locally cached state can be trusted.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Purge()
}

// Len returns the number of events currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries.Len()
}

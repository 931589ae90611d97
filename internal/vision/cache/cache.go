// Package cache memoizes match results by frame fingerprint. Negative
// results are cached too: a frame that matched nothing will match nothing
// next time it appears, and repeated idle frames are the dominant case.
package cache

import (
	"container/list"
	"sync"

	apperrors "github.com/framepilot/framepilot/internal/errors"
	"github.com/framepilot/framepilot/internal/vision/fingerprint"
	"github.com/framepilot/framepilot/internal/vision/match"
)

type entry struct {
	print  fingerprint.Fingerprint
	result match.Result
}

// Cache is a fixed-capacity LRU over match results. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	index    map[fingerprint.Fingerprint]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Len       int    `json:"len"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// New creates a cache holding at most capacity results.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "cache capacity must be > 0, got %d", capacity)
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[fingerprint.Fingerprint]*list.Element, capacity),
	}, nil
}

// Get returns the cached result for a fingerprint and marks it most
// recently used.
func (c *Cache) Get(print fingerprint.Fingerprint) (match.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[print]
	if !ok {
		c.misses++
		return match.Result{}, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*entry).result, true
}

// Put stores a result, evicting the least recently used entry at capacity.
// Storing an existing fingerprint refreshes its recency.
func (c *Cache) Put(print fingerprint.Fingerprint, result match.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[print]; ok {
		el.Value.(*entry).result = result
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*entry).print)
		c.evictions++
	}
	c.index[print] = c.order.PushFront(&entry{print: print, result: result})
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops every entry. Called when the template library is swapped,
// since cached results point into the old library.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.index = make(map[fingerprint.Fingerprint]*list.Element, c.capacity)
}

// Stats snapshots the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Len:       c.order.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

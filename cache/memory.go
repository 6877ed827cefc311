package cache

import (
	"bytes"
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryCache is a bounded in-memory cache with per-entry TTL and
// least-recently-used eviction.
//
// Expired entries are removed lazily on access and actively by
// PurgeExpired. Every mutation re-checks the structural invariants; the
// first breach poisons the cache and every later call returns the same
// *CorruptionError.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front is most recently used
	capacity int
	refresh  bool
	now      func() time.Time
	corrupt  error
	stats    Stats
}

type memEntry struct {
	Entry
	ttl time.Duration
}

// Stats contains cache counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	Size        int
	Capacity    int
}

// HitRatio returns Hits / (Hits + Misses), or 0 with no lookups.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock overrides the time source used for TTL bookkeeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache creates a new in-memory cache sized by policy.Capacity.
func NewMemoryCache(policy Policy, opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: policy.EffectiveCapacity(),
		refresh:  policy.RefreshOnHit,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value from the cache. Returns (nil, false, nil) on miss or expiry.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.corrupt != nil {
		return nil, false, c.corrupt
	}

	el, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false, nil
	}

	e := el.Value.(*memEntry)
	if e.Key != key {
		return nil, false, c.poisonLocked(key, "list element holds a different key")
	}

	now := c.now()
	if e.Expired(now) {
		c.removeLocked(el)
		c.stats.Expirations++
		c.stats.Misses++
		return nil, false, nil
	}

	e.LastAccessedAt = now
	if c.refresh {
		e.ExpiresAt = now.Add(e.ttl)
	}
	c.order.MoveToFront(el)
	c.stats.Hits++

	return bytes.Clone(e.Digest), true, nil
}

// Set stores a value with the given TTL. TTL<=0 means no caching.
// Inserting beyond capacity evicts the least recently used entry.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.corrupt != nil {
		return c.corrupt
	}

	now := c.now()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*memEntry)
		e.Digest = bytes.Clone(value)
		e.InsertedAt = now
		e.LastAccessedAt = now
		e.ExpiresAt = now.Add(ttl)
		e.ttl = ttl
		c.order.MoveToFront(el)
		return c.checkLocked(key, e)
	}

	e := &memEntry{
		Entry: Entry{
			Key:            key,
			Digest:         bytes.Clone(value),
			InsertedAt:     now,
			LastAccessedAt: now,
			ExpiresAt:      now.Add(ttl),
		},
		ttl: ttl,
	}
	c.entries[key] = c.order.PushFront(e)

	for c.order.Len() > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.removeLocked(back)
		c.stats.Evictions++
	}

	return c.checkLocked(key, e)
}

// Delete removes a value from the cache. Idempotent - no error on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.corrupt != nil {
		return c.corrupt
	}
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	return c.checkLocked(key, nil)
}

// PurgeExpired removes every expired entry and returns how many were removed.
func (c *MemoryCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.corrupt != nil {
		return 0
	}

	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*memEntry).Expired(now) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	c.stats.Expirations += uint64(removed)
	return removed
}

// Peek is Get without touching LRU order, access time or counters.
func (c *MemoryCache) Peek(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.corrupt != nil {
		return nil, false, c.corrupt
	}
	el, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	e := el.Value.(*memEntry)
	if e.Expired(c.now()) {
		return nil, false, nil
	}
	return bytes.Clone(e.Digest), true, nil
}

// Entry returns a snapshot of the entry for key without touching LRU order
// or counters. Expired entries are reported as absent.
func (c *MemoryCache) Entry(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok || c.corrupt != nil {
		return Entry{}, false
	}
	e := el.Value.(*memEntry)
	if e.Expired(c.now()) {
		return Entry{}, false
	}
	snapshot := e.Entry
	snapshot.Digest = bytes.Clone(e.Digest)
	return snapshot, true
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.order.Len()
	s.Capacity = c.capacity
	return s
}

// Err returns the corruption error, if any.
func (c *MemoryCache) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.corrupt
}

func (c *MemoryCache) removeLocked(el *list.Element) {
	e := c.order.Remove(el).(*memEntry)
	delete(c.entries, e.Key)
}

func (c *MemoryCache) checkLocked(key string, e *memEntry) error {
	if len(c.entries) != c.order.Len() {
		return c.poisonLocked(key, "index and recency list disagree on size")
	}
	if c.order.Len() > c.capacity {
		return c.poisonLocked(key, "size exceeds capacity")
	}
	if e != nil && !e.ExpiresAt.After(e.InsertedAt) {
		return c.poisonLocked(key, "entry expires before it was inserted")
	}
	return nil
}

func (c *MemoryCache) poisonLocked(key, reason string) error {
	if c.corrupt == nil {
		c.corrupt = &CorruptionError{Key: key, Reason: reason}
	}
	return c.corrupt
}

// Ensure MemoryCache implements Cache
var _ Cache = (*MemoryCache)(nil)

package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// entry is immutable once stored; an overwrite replaces the element.
type entry struct {
	key        string
	value      any
	insertedAt time.Time
	ttl        time.Duration
}

func (e *entry) fresh(now time.Time) bool {
	return now.Sub(e.insertedAt) < e.ttl
}

// MemoryConfig configures a MemoryCache.
type MemoryConfig struct {
	Capacity int           // default 100
	TTL      time.Duration // default entry lifetime, default 5m
	// EvictionBatch is how many of the oldest entries are dropped once
	// Capacity is exceeded. Default 10.
	EvictionBatch int
	// CleanupInterval sweeps expired entries in the background. Zero disables it.
	CleanupInterval time.Duration
	Clock           func() time.Time
}

// MemoryCache is a bounded TTL cache. Entries are kept in insertion order
// and overflow evicts the oldest ones in batches.
type MemoryCache struct {
	capacity      int
	ttl           time.Duration
	evictionBatch int
	now           func() time.Time

	items map[string]*list.Element
	order *list.List // front = oldest insertion
	mu    sync.Mutex

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(cfg MemoryConfig) *MemoryCache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.EvictionBatch <= 0 {
		cfg.EvictionBatch = 10
	}
	if cfg.EvictionBatch > cfg.Capacity {
		cfg.EvictionBatch = cfg.Capacity
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	c := &MemoryCache{
		capacity:      cfg.Capacity,
		ttl:           cfg.TTL,
		evictionBatch: cfg.EvictionBatch,
		now:           cfg.Clock,
		items:         make(map[string]*list.Element),
		order:         list.New(),
		stopCh:        make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		go c.cleanup(cfg.CleanupInterval)
	}

	return c
}

// Get returns a value only while it is younger than its TTL. Stale entries
// are removed on the way out.
func (c *MemoryCache) Get(ctx context.Context, key string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		c.misses.Add(1)
		return nil, ErrNotFound
	}

	e := element.Value.(*entry)
	if !e.fresh(c.now()) {
		c.removeElement(element)
		c.expired.Add(1)
		c.misses.Add(1)
		return nil, ErrNotFound
	}

	c.hits.Add(1)
	return e.value, nil
}

// Set stores a value, superseding any previous entry for key.
func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, exists := c.items[key]; exists {
		c.removeElement(element)
	}

	c.items[key] = c.order.PushBack(&entry{
		key:        key,
		value:      value,
		insertedAt: c.now(),
		ttl:        ttl,
	})

	if c.order.Len() > c.capacity {
		c.evictOldest()
	}

	return nil
}

// Delete removes a key from cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, exists := c.items[key]; exists {
		c.removeElement(element)
	}
	return nil
}

// Clear drops every entry. Counters are kept.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

// Close stops the background sweeper, if any
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}

// Len returns the number of resident entries, fresh or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() Stats {
	return Stats{
		Size:      c.Len(),
		Capacity:  c.capacity,
		TTL:       c.ttl,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
}

// removeElement unlinks an entry (caller must hold lock)
func (c *MemoryCache) removeElement(element *list.Element) {
	e := c.order.Remove(element).(*entry)
	delete(c.items, e.key)
}

// evictOldest drops the oldest batch, and at least enough entries to get
// back under capacity (caller must hold lock)
func (c *MemoryCache) evictOldest() {
	n := c.evictionBatch
	if overflow := c.order.Len() - c.capacity; overflow > n {
		n = overflow
	}

	for i := 0; i < n; i++ {
		oldest := c.order.Front()
		if oldest == nil {
			return
		}
		c.removeElement(oldest)
		c.evictions.Add(1)
	}
}

// cleanup periodically removes expired items
func (c *MemoryCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MemoryCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for element := c.order.Front(); element != nil; {
		next := element.Next()
		if !element.Value.(*entry).fresh(now) {
			c.removeElement(element)
			c.expired.Add(1)
		}
		element = next
	}
}

// Package cache holds loaded record sets between requests.
//
// Entries are keyed by source path and carry the SourceVersion they were
// loaded from. Callers compare that version with the source's current one and
// invalidate on mismatch, so a stale set is never served after the file changes.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/TFMV/plantatlas/pkg/models"
)

// Cache defines the interface for caching loaded record sets
type Cache interface {
	// Get retrieves a record set from the cache
	Get(ctx context.Context, key string) (*models.RecordSet, bool)
	// Put stores a record set in the cache
	Put(ctx context.Context, key string, set *models.RecordSet) error
	// Delete removes a record set from the cache
	Delete(ctx context.Context, key string) error
	// Invalidate removes a record set whose source has changed
	Invalidate(ctx context.Context, key string) error
	// Clear removes all entries from the cache
	Clear(ctx context.Context) error
	// Close releases any resources held by the cache
	Close() error
}

// CacheEntry represents a single cache entry with metadata
type CacheEntry struct {
	Set       *models.RecordSet
	CreatedAt time.Time
	LastUsed  time.Time
}

// MemoryCache implements Cache interface using in-memory storage
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
	config  Config
	stats   *StatsCollector
	now     func() time.Time
}

// NewMemoryCache creates a new memory cache. A nil config uses DefaultConfig.
func NewMemoryCache(config *Config) *MemoryCache {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}

	c := &MemoryCache{
		entries: make(map[string]*CacheEntry),
		config:  cfg,
		now:     time.Now,
	}
	if cfg.EnableStats {
		c.stats = NewStatsCollector()
	}
	return c
}

// Get retrieves a record set from the cache. Expired entries are dropped.
func (c *MemoryCache) Get(_ context.Context, key string) (*models.RecordSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.recordMiss()
		return nil, false
	}

	now := c.now()
	if c.config.TTL > 0 && now.Sub(entry.CreatedAt) > c.config.TTL {
		c.remove(key)
		if c.stats != nil {
			c.stats.RecordInvalidation()
		}
		c.recordMiss()
		return nil, false
	}

	entry.LastUsed = now
	if c.stats != nil {
		c.stats.RecordHit()
	}
	return entry.Set, true
}

// Put stores a record set in the cache
func (c *MemoryCache) Put(_ context.Context, key string, set *models.RecordSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.config.MaxEntries {
		c.evictOldest()
	}

	now := c.now()
	c.entries[key] = &CacheEntry{
		Set:       set,
		CreatedAt: now,
		LastUsed:  now,
	}
	c.updateEntries()
	return nil
}

// Delete removes a record set from the cache
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(key)
	return nil
}

// Invalidate removes a record set and counts it as an invalidation
func (c *MemoryCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.remove(key)
		if c.stats != nil {
			c.stats.RecordInvalidation()
		}
	}
	return nil
}

// Clear removes all entries from the cache
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*CacheEntry)
	c.updateEntries()
	return nil
}

// Close releases any resources held by the cache
func (c *MemoryCache) Close() error {
	return c.Clear(context.Background())
}

// Len returns the number of cached record sets.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the collected statistics, or zero values when disabled.
func (c *MemoryCache) Stats() Stats {
	if c.stats == nil {
		return Stats{}
	}
	return c.stats.GetStats()
}

// HitRate returns the cache hit rate, or 0 when statistics are disabled.
func (c *MemoryCache) HitRate() float64 {
	if c.stats == nil {
		return 0
	}
	return c.stats.HitRate()
}

// evictOldest removes the least recently used entry from the cache
func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.LastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.LastUsed
		}
	}

	if oldestKey != "" {
		c.remove(oldestKey)
		if c.stats != nil {
			c.stats.RecordEviction()
		}
	}
}

func (c *MemoryCache) remove(key string) {
	delete(c.entries, key)
	c.updateEntries()
}

func (c *MemoryCache) recordMiss() {
	if c.stats != nil {
		c.stats.RecordMiss()
	}
}

func (c *MemoryCache) updateEntries() {
	if c.stats != nil {
		c.stats.UpdateEntries(int64(len(c.entries)))
	}
}

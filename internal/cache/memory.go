package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is the in-process tier: a thin Cache adapter over
// patrickmn/go-cache, which already provides bucketed TTL expiry and a
// background janitor.
type MemoryCache struct {
	store      *gocache.Cache
	defaultTTL time.Duration
	namespace  string

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// MemoryCacheConfig configures the in-process tier.
type MemoryCacheConfig struct {
	DefaultTTL      time.Duration // default: 5 minutes
	CleanupInterval time.Duration // default: 2x DefaultTTL
	Namespace       string        // key namespace prefix enforced by InvalidatePattern
}

// DefaultMemoryCacheConfig returns sensible defaults.
func DefaultMemoryCacheConfig() MemoryCacheConfig {
	return MemoryCacheConfig{
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: 10 * time.Minute,
	}
}

// NewMemoryCache creates the in-process tier.
func NewMemoryCache(cfg MemoryCacheConfig) *MemoryCache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = cfg.DefaultTTL * 2
	}
	return &MemoryCache{
		store:      gocache.New(cfg.DefaultTTL, cfg.CleanupInterval),
		defaultTTL: cfg.DefaultTTL,
		namespace:  cfg.Namespace,
	}
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, found := c.store.Get(key)
	if !found {
		c.misses.Add(1)
		return nil, nil
	}
	c.hits.Add(1)
	return v.([]byte), nil
}

// Set stores a value with the given TTL (0 uses the configured default).
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.store.Set(key, value, ttl)
	c.sets.Add(1)
	return nil
}

// Delete removes a key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

// SetPipeline writes every entry in sequence; the in-process tier has no
// network round trip to batch.
func (c *MemoryCache) SetPipeline(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := c.Set(ctx, e.Key, e.Value, e.TTL); err != nil {
			return err
		}
	}
	return nil
}

// GetMulti retrieves several keys at once.
func (c *MemoryCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if v, err := c.Get(ctx, key); err == nil && v != nil {
			result[key] = v
		}
	}
	return result, nil
}

// InvalidatePattern deletes every key whose prefix matches pattern up to its
// first '*'. go-cache has no native glob scan, so this walks the full item
// set — acceptable for the bounded size of the in-process tier. pattern must
// satisfy ValidatePattern; a bare wildcard is refused rather than wiping the
// entire store.
func (c *MemoryCache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if err := ValidatePattern(pattern, c.namespace); err != nil {
		return 0, err
	}

	prefix := strings.SplitN(pattern, "*", 2)[0]
	var deleted int
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds for the in-process tier.
func (c *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op; go-cache's janitor goroutine is stopped by the GC
// finalizer it registers internally.
func (c *MemoryCache) Close() error {
	return nil
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    c.sets.Load(),
		HitRate: hitRate,
	}
}

// ItemCount returns the number of items currently stored.
func (c *MemoryCache) ItemCount() int {
	return c.store.ItemCount()
}

// Flush removes all entries.
func (c *MemoryCache) Flush() {
	c.store.Flush()
}

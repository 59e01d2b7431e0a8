package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// DualCache is a two-tier cache: in-process (L1) ahead of Redis (L2).
// Writes go to both; reads check L1 first, then L2 with backfill.
type DualCache struct {
	local     *MemoryCache
	redis     *RedisCache
	cfg       DualCacheConfig
	namespace string

	localHits atomic.Int64
	redisHits atomic.Int64
	misses    atomic.Int64
	backfills atomic.Int64
}

// DualCacheConfig configures the dual-tier cache.
type DualCacheConfig struct {
	LocalTTL  time.Duration // TTL applied to the local backfill copy
	RedisTTL  time.Duration // TTL applied to Redis when the caller doesn't specify one
	Namespace string        // key namespace prefix enforced by InvalidatePattern
}

// DefaultDualCacheConfig returns sensible defaults.
func DefaultDualCacheConfig() DualCacheConfig {
	return DualCacheConfig{
		LocalTTL: 5 * time.Minute,
		RedisTTL: time.Hour,
	}
}

// NewDualCache creates a two-tier cache over the given local and Redis tiers.
func NewDualCache(local *MemoryCache, redis *RedisCache, cfg DualCacheConfig) *DualCache {
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = 5 * time.Minute
	}
	if cfg.RedisTTL <= 0 {
		cfg.RedisTTL = time.Hour
	}
	return &DualCache{local: local, redis: redis, cfg: cfg, namespace: cfg.Namespace}
}

// Get checks the local tier first, then Redis, backfilling local on a Redis hit.
func (c *DualCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, key); err == nil && val != nil {
		c.localHits.Add(1)
		return val, nil
	}

	if c.redis != nil {
		val, err := c.redis.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if val != nil {
			c.redisHits.Add(1)
			_ = c.local.Set(ctx, key, val, c.cfg.LocalTTL)
			c.backfills.Add(1)
			return val, nil
		}
	}

	c.misses.Add(1)
	return nil, nil
}

// Set writes to both tiers.
func (c *DualCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, key, value, c.cfg.LocalTTL); err != nil {
		return err
	}
	if c.redis != nil {
		redisTTL := ttl
		if redisTTL <= 0 {
			redisTTL = c.cfg.RedisTTL
		}
		return c.redis.Set(ctx, key, value, redisTTL)
	}
	return nil
}

// Delete removes a key from both tiers.
func (c *DualCache) Delete(ctx context.Context, key string) error {
	_ = c.local.Delete(ctx, key)
	if c.redis != nil {
		return c.redis.Delete(ctx, key)
	}
	return nil
}

// SetPipeline writes to both tiers.
func (c *DualCache) SetPipeline(ctx context.Context, entries []Entry) error {
	local := make([]Entry, len(entries))
	for i, e := range entries {
		local[i] = Entry{Key: e.Key, Value: e.Value, TTL: c.cfg.LocalTTL}
	}
	if err := c.local.SetPipeline(ctx, local); err != nil {
		return err
	}
	if c.redis != nil {
		return c.redis.SetPipeline(ctx, entries)
	}
	return nil
}

// GetMulti retrieves several keys, checking local then Redis for misses.
func (c *DualCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	result, err := c.local.GetMulti(ctx, keys)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, key := range keys {
		if _, ok := result[key]; !ok {
			missing = append(missing, key)
		}
	}

	if c.redis != nil && len(missing) > 0 {
		redisResults, err := c.redis.GetMulti(ctx, missing)
		if err != nil {
			return result, err
		}
		for key, val := range redisResults {
			result[key] = val
			_ = c.local.Set(ctx, key, val, c.cfg.LocalTTL)
		}
	}

	return result, nil
}

// InvalidatePattern invalidates the Redis tier (the source of truth for
// pattern scans) and mirrors the deletion into the local tier. pattern must
// satisfy ValidatePattern; a bare wildcard is refused before either tier is
// touched.
func (c *DualCache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if err := ValidatePattern(pattern, c.namespace); err != nil {
		return 0, err
	}

	var n int
	var err error
	if c.redis != nil {
		n, err = c.redis.InvalidatePattern(ctx, pattern)
	}
	if localN, localErr := c.local.InvalidatePattern(ctx, pattern); localErr == nil && localN > n {
		n = localN
	}
	return n, err
}

// Ping checks both tiers.
func (c *DualCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return err
	}
	if c.redis != nil {
		return c.redis.Ping(ctx)
	}
	return nil
}

// Close closes both tiers.
func (c *DualCache) Close() error {
	_ = c.local.Close()
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

// Stats returns combined statistics.
func (c *DualCache) Stats() Stats {
	localStats := c.local.Stats()
	var redisStats Stats
	if c.redis != nil {
		redisStats = c.redis.Stats()
	}

	totalHits := c.localHits.Load() + c.redisHits.Load()
	totalMisses := c.misses.Load()
	total := totalHits + totalMisses

	var hitRate float64
	if total > 0 {
		hitRate = float64(totalHits) / float64(total)
	}

	return Stats{
		Hits:    totalHits,
		Misses:  totalMisses,
		Sets:    localStats.Sets + redisStats.Sets,
		Errors:  redisStats.Errors,
		HitRate: hitRate,
	}
}

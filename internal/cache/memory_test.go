package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_BasicOperations(t *testing.T) {
	cfg := MemoryCacheConfig{DefaultTTL: time.Minute, CleanupInterval: time.Hour}
	c := NewMemoryCache(cfg)
	defer c.Close()

	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "key1", []byte("value1"), 0))

		val, err := c.Get(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, []byte("value1"), val)
	})

	t.Run("get non-existent key", func(t *testing.T) {
		val, err := c.Get(ctx, "non-existent")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "key2", []byte("value2"), 0))
		require.NoError(t, c.Delete(ctx, "key2"))

		val, err := c.Get(ctx, "key2")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "key3", []byte("value3"), 0))
		require.NoError(t, c.Set(ctx, "key3", []byte("value3-updated"), 0))

		val, err := c.Get(ctx, "key3")
		require.NoError(t, err)
		assert.Equal(t, []byte("value3-updated"), val)
	})
}

func TestMemoryCache_TTL(t *testing.T) {
	cfg := MemoryCacheConfig{DefaultTTL: 100 * time.Millisecond, CleanupInterval: time.Hour}
	c := NewMemoryCache(cfg)
	defer c.Close()

	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ttl-key", []byte("value"), 0))

	val, err := c.Get(ctx, "ttl-key")
	require.NoError(t, err)
	assert.NotNil(t, val)

	time.Sleep(150 * time.Millisecond)

	val, err = c.Get(ctx, "ttl-key")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestMemoryCache_CustomTTL(t *testing.T) {
	c := NewMemoryCache(DefaultMemoryCacheConfig())
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "custom-ttl", []byte("value"), 50*time.Millisecond))

	val, err := c.Get(ctx, "custom-ttl")
	require.NoError(t, err)
	assert.NotNil(t, val)

	time.Sleep(70 * time.Millisecond)

	val, err = c.Get(ctx, "custom-ttl")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestMemoryCache_GetMulti(t *testing.T) {
	c := NewMemoryCache(DefaultMemoryCacheConfig())
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "k1", []byte("v1"), 0)
	_ = c.Set(ctx, "k2", []byte("v2"), 0)
	_ = c.Set(ctx, "k3", []byte("v3"), 0)

	t.Run("get multiple keys", func(t *testing.T) {
		result, err := c.GetMulti(ctx, []string{"k1", "k2", "k4"})
		require.NoError(t, err)

		assert.Equal(t, []byte("v1"), result["k1"])
		assert.Equal(t, []byte("v2"), result["k2"])
		_, exists := result["k4"]
		assert.False(t, exists)
	})

	t.Run("empty keys", func(t *testing.T) {
		result, err := c.GetMulti(ctx, []string{})
		require.NoError(t, err)
		assert.Empty(t, result)
	})
}

func TestMemoryCache_SetPipeline(t *testing.T) {
	c := NewMemoryCache(DefaultMemoryCacheConfig())
	defer c.Close()
	ctx := context.Background()

	entries := []Entry{
		{Key: "p1", Value: []byte("v1"), TTL: time.Minute},
		{Key: "p2", Value: []byte("v2"), TTL: time.Minute},
		{Key: "p3", Value: []byte("v3"), TTL: time.Minute},
	}

	require.NoError(t, c.SetPipeline(ctx, entries))

	for _, e := range entries {
		val, err := c.Get(ctx, e.Key)
		require.NoError(t, err)
		assert.Equal(t, e.Value, val)
	}
}

func TestMemoryCache_InvalidatePattern(t *testing.T) {
	c := NewMemoryCache(DefaultMemoryCacheConfig())
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "reflex:verdict:abc", []byte("v1"), 0)
	_ = c.Set(ctx, "reflex:verdict:def", []byte("v2"), 0)
	_ = c.Set(ctx, "reflex:other:xyz", []byte("v3"), 0)

	deleted, err := c.InvalidatePattern(ctx, "reflex:verdict:*")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	val, _ := c.Get(ctx, "reflex:verdict:abc")
	assert.Nil(t, val)
	val, _ = c.Get(ctx, "reflex:other:xyz")
	assert.NotNil(t, val)
}

func TestMemoryCache_InvalidatePattern_RejectsBareWildcard(t *testing.T) {
	cfg := DefaultMemoryCacheConfig()
	cfg.Namespace = "reflex"
	c := NewMemoryCache(cfg)
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "reflex:verdict:abc", []byte("v1"), 0)
	_ = c.Set(ctx, "other:namespace:xyz", []byte("v2"), 0)

	_, err := c.InvalidatePattern(ctx, "*")
	require.Error(t, err)

	_, err = c.InvalidatePattern(ctx, "reflex:*")
	require.Error(t, err)

	_, err = c.InvalidatePattern(ctx, "unrelated:verdict:*")
	require.Error(t, err)

	val, _ := c.Get(ctx, "reflex:verdict:abc")
	assert.NotNil(t, val, "a rejected pattern must not delete anything")
	val, _ = c.Get(ctx, "other:namespace:xyz")
	assert.NotNil(t, val, "a rejected pattern must not delete anything outside its namespace")
}

func TestMemoryCache_Stats(t *testing.T) {
	c := NewMemoryCache(DefaultMemoryCacheConfig())
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "stats-key", []byte("value"), 0)
	_, _ = c.Get(ctx, "stats-key")
	_, _ = c.Get(ctx, "stats-key")
	_, _ = c.Get(ctx, "missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.InDelta(t, 0.666, stats.HitRate, 0.01)
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := NewMemoryCache(MemoryCacheConfig{DefaultTTL: time.Minute, CleanupInterval: time.Hour})
	defer c.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + (i % 26)))
			_ = c.Set(ctx, key, []byte("value"), 0)
		}(i)
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + (i % 26)))
			_, _ = c.Get(ctx, key)
		}(i)
	}
	wg.Wait()
}

func TestMemoryCache_Flush(t *testing.T) {
	c := NewMemoryCache(DefaultMemoryCacheConfig())
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "f1", []byte("v1"), 0)
	_ = c.Set(ctx, "f2", []byte("v2"), 0)
	assert.Equal(t, 2, c.ItemCount())

	c.Flush()
	assert.Equal(t, 0, c.ItemCount())

	val, _ := c.Get(ctx, "f1")
	assert.Nil(t, val)
}

package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T) *RedisLimiter {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewRedisLimiter(rdb)
}

func TestRedisLimiter_UnderLimit(t *testing.T) {
	limiter := newTestRedisLimiter(t)
	ctx := context.Background()

	b := Bucket{Key: "user:1", Rate: 1, Burst: 10, Cost: 1}

	results, err := limiter.Allow(ctx, []Bucket{b})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Allowed)
	assert.InDelta(t, 9, results[0].Remaining, 0.01)
}

func TestRedisLimiter_ExceedsBurst(t *testing.T) {
	limiter := newTestRedisLimiter(t)
	ctx := context.Background()
	b := Bucket{Key: "user:2", Rate: 0, Burst: 2, Cost: 1}

	for i := 0; i < 2; i++ {
		results, err := limiter.Allow(ctx, []Bucket{b})
		require.NoError(t, err)
		assert.True(t, results[0].Allowed)
	}

	results, err := limiter.Allow(ctx, []Bucket{b})
	require.NoError(t, err)
	assert.False(t, results[0].Allowed)
	assert.InDelta(t, 0, results[0].Remaining, 0.01)
}

func TestRedisLimiter_BatchIndependentBuckets(t *testing.T) {
	limiter := newTestRedisLimiter(t)
	ctx := context.Background()

	exhausted := Bucket{Key: "user:3", Rate: 0, Burst: 1, Cost: 1}
	fresh := Bucket{Key: "user:4", Rate: 0, Burst: 10, Cost: 1}

	_, err := limiter.Allow(ctx, []Bucket{exhausted})
	require.NoError(t, err)

	results, err := limiter.Allow(ctx, []Bucket{exhausted, fresh})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Allowed)
	assert.True(t, results[1].Allowed)
}

func TestRedisLimiter_RefillOverTime(t *testing.T) {
	limiter := newTestRedisLimiter(t)
	ctx := context.Background()
	b := Bucket{Key: "user:5", Rate: 100, Burst: 1, Cost: 1}

	results, err := limiter.Allow(ctx, []Bucket{b})
	require.NoError(t, err)
	assert.True(t, results[0].Allowed)

	// Bucket is empty immediately after.
	results, err = limiter.Allow(ctx, []Bucket{b})
	require.NoError(t, err)
	assert.False(t, results[0].Allowed)

	time.Sleep(30 * time.Millisecond)

	results, err = limiter.Allow(ctx, []Bucket{b})
	require.NoError(t, err)
	assert.True(t, results[0].Allowed)
}

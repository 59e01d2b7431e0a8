package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/reflexlayer/reflex/internal/resilience"
	"github.com/stretchr/testify/assert"
)

// mockDistributedLimiter is a mock implementation of DistributedLimiter for
// testing code that only depends on the interface.
type mockDistributedLimiter struct {
	AllowFunc func(ctx context.Context, buckets []resilience.Bucket) ([]resilience.BucketResult, error)
}

func (m *mockDistributedLimiter) Allow(ctx context.Context, buckets []resilience.Bucket) ([]resilience.BucketResult, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, buckets)
	}
	return nil, nil
}

func TestDistributedLimiterTypes(t *testing.T) {
	b := resilience.Bucket{
		Key:   "ip:203.0.113.4",
		Rate:  10,
		Burst: 20,
		Cost:  1,
	}
	assert.Equal(t, "ip:203.0.113.4", b.Key)
	assert.Equal(t, 10.0, b.Rate)
	assert.Equal(t, 20.0, b.Burst)

	res := resilience.BucketResult{
		Allowed:    true,
		Remaining:  19,
		RetryAfter: time.Second,
	}
	assert.True(t, res.Allowed)
	assert.Equal(t, 19.0, res.Remaining)
}

func TestDistributedLimiterInterface(t *testing.T) {
	var _ resilience.DistributedLimiter = &mockDistributedLimiter{}
}

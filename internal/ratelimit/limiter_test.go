package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflexlayer/reflex/internal/kv"
	"github.com/reflexlayer/reflex/internal/resilience"
	"github.com/reflexlayer/reflex/pkg/reflex"
)

func newTestKVClient(t *testing.T) *kv.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return kv.NewFromClient(rc, resilience.DefaultCircuitBreakerConfig())
}

func TestLimiter_LocalOnly(t *testing.T) {
	l, err := New(nil, DefaultConfig())
	require.NoError(t, err)

	tier := reflex.Tier{Name: "test", PerHour: 3600, Burst: 2}

	res, err := l.Check(context.Background(), NamespaceIP, "1.2.3.4", tier)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(context.Background(), NamespaceIP, "1.2.3.4", tier)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(context.Background(), NamespaceIP, "1.2.3.4", tier)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestLimiter_UnlimitedTier(t *testing.T) {
	l, err := New(nil, DefaultConfig())
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		res, err := l.Check(context.Background(), NamespaceUser, "u1", reflex.TierUnlimited)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

func TestLimiter_Distributed(t *testing.T) {
	client := newTestKVClient(t)
	l, err := New(client, DefaultConfig())
	require.NoError(t, err)

	tier := reflex.Tier{Name: "test", PerHour: 3600, Burst: 2}

	res, err := l.Check(context.Background(), NamespaceUser, "u1", tier)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(context.Background(), NamespaceUser, "u1", tier)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(context.Background(), NamespaceUser, "u1", tier)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestLimiter_DistinctKeysIsolated(t *testing.T) {
	l, err := New(nil, DefaultConfig())
	require.NoError(t, err)

	tier := reflex.Tier{Name: "test", PerHour: 3600, Burst: 1}

	res, err := l.Check(context.Background(), NamespaceIP, "a", tier)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(context.Background(), NamespaceIP, "b", tier)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiter_ClientIP_NoTrustedProxies(t *testing.T) {
	l, err := New(nil, DefaultConfig())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.5:1234"
	req.Header.Set("X-Forwarded-For", "10.0.0.1")

	assert.Equal(t, "203.0.113.5", l.ClientIP(req))
}

func TestLimiter_ClientIP_TrustedProxy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrustedProxyCIDRs = []string{"10.0.0.0/8"}
	l, err := New(nil, cfg)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "203.0.113.9", l.ClientIP(req))
}

func TestLimiter_LocalBucketCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalBucketCapacity = 1
	l, err := New(nil, cfg)
	require.NoError(t, err)

	tier := reflex.Tier{Name: "test", PerHour: 3600, Burst: 1}

	_, err = l.Check(context.Background(), NamespaceIP, "a", tier)
	require.NoError(t, err)
	// Forces eviction of the "a" bucket; must not panic or error.
	_, err = l.Check(context.Background(), NamespaceIP, "b", tier)
	require.NoError(t, err)
}

func TestLimiter_RefillOverTime(t *testing.T) {
	l, err := New(nil, DefaultConfig())
	require.NoError(t, err)

	tier := reflex.Tier{Name: "test", PerHour: 360000, Burst: 1}

	res, err := l.Check(context.Background(), NamespaceIP, "refill", tier)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(context.Background(), NamespaceIP, "refill", tier)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	time.Sleep(30 * time.Millisecond)

	res, err = l.Check(context.Background(), NamespaceIP, "refill", tier)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

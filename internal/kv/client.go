// Package kv provides the Redis client used by every store-backed stage of
// the pipeline: the distributed rate limiter and the verdict cache each hold
// their own Client. Every round trip is gated by a circuit breaker so that a
// struggling or unreachable store degrades the pipeline predictably — per
// the fail-closed policy, callers see ErrUnavailable instead of hanging
// against a dead backend.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/reflexlayer/reflex/internal/resilience"
)

// ErrUnavailable is returned for any operation attempted while the circuit
// breaker covering the store is open.
var ErrUnavailable = errors.New("kv: store unavailable")

// Config mirrors the connection shapes the pack's Redis cache already
// supports (single node, cluster, sentinel), plus the circuit breaker
// thresholds guarding every call.
type Config struct {
	Addr     string
	Password string
	DB       int

	ClusterAddrs []string

	SentinelAddrs  []string
	SentinelMaster string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	// CircuitBreaker configures the breaker wrapping every call. Zero value
	// uses resilience.DefaultCircuitBreakerConfig().
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Client is the shared, circuit-breaker-gated Redis handle.
type Client struct {
	redis   goredis.UniversalClient
	breaker *resilience.CircuitBreaker
}

// New dials Redis (single node, cluster, or sentinel depending on which
// address fields are populated) and verifies connectivity with a Ping.
func New(cfg Config) (*Client, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	var rc goredis.UniversalClient
	switch {
	case len(cfg.ClusterAddrs) > 0:
		rc = goredis.NewClusterClient(&goredis.ClusterOptions{
			Addrs:        cfg.ClusterAddrs,
			Password:     cfg.Password,
			DialTimeout:  dialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	case len(cfg.SentinelAddrs) > 0:
		rc = goredis.NewFailoverClient(&goredis.FailoverOptions{
			MasterName:    cfg.SentinelMaster,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			DialTimeout:   dialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
		})
	default:
		rc = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  dialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("kv: ping failed: %w", err)
	}

	cbCfg := cfg.CircuitBreaker
	if cbCfg == (resilience.CircuitBreakerConfig{}) {
		cbCfg = resilience.DefaultCircuitBreakerConfig()
	}

	return &Client{
		redis:   rc,
		breaker: resilience.NewCircuitBreaker("kv", cbCfg),
	}, nil
}

// NewFromClient wraps an already-constructed goredis client (used by tests
// against miniredis) with a circuit breaker.
func NewFromClient(rc goredis.UniversalClient, cbCfg resilience.CircuitBreakerConfig) *Client {
	if cbCfg == (resilience.CircuitBreakerConfig{}) {
		cbCfg = resilience.DefaultCircuitBreakerConfig()
	}
	return &Client{redis: rc, breaker: resilience.NewCircuitBreaker("kv", cbCfg)}
}

// guard runs fn if the breaker allows it, recording the outcome. Redis-side
// "not found" results are not failures and must be classified by the caller
// before reaching guard — guard only sees genuine store errors.
func (c *Client) guard(fn func() error) error {
	return c.Guard(fn)
}

// Guard runs fn gated by the shared circuit breaker, recording the outcome.
// Exported so other store-backed components (the distributed rate limiter)
// can share this client's breaker instead of tracking Redis health twice.
func (c *Client) Guard(fn func() error) error {
	if !c.breaker.Allow() {
		return ErrUnavailable
	}
	err := fn()
	if err != nil {
		c.breaker.RecordFailure()
		return err
	}
	c.breaker.RecordSuccess()
	return nil
}

// Get returns the raw value for key, or (nil, nil) on a cache miss.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := c.guard(func() error {
		v, err := c.redis.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	if errors.Is(err, ErrUnavailable) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("kv: get: %w", err)
	}
	return val, nil
}

// Set stores value under key with the given TTL (0 means no expiry).
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.guard(func() error {
		return c.redis.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return fmt.Errorf("kv: set: %w", err)
	}
	return nil
}

// Del removes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := c.guard(func() error {
		return c.redis.Del(ctx, keys...).Err()
	})
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return fmt.Errorf("kv: del: %w", err)
	}
	return nil
}

// Eval runs a Lua script, gated by the circuit breaker. Used by the
// distributed rate limiter for its atomic check-and-refill operation.
func (c *Client) Eval(ctx context.Context, script *goredis.Script, keys []string, args ...interface{}) (interface{}, error) {
	var result interface{}
	err := c.guard(func() error {
		v, err := script.Run(ctx, c.redis, keys, args...).Result()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("kv: eval: %w", err)
	}
	return result, nil
}

// ScanDeletePattern deletes every key matching pattern using a cursor-based
// SCAN (never KEYS, which blocks the server on large keyspaces). Returns the
// number of keys deleted.
func (c *Client) ScanDeletePattern(ctx context.Context, pattern string) (int, error) {
	var deleted int
	err := c.guard(func() error {
		var cursor uint64
		for {
			keys, next, err := c.redis.Scan(ctx, cursor, pattern, 200).Result()
			if err != nil {
				return err
			}
			if len(keys) > 0 {
				if err := c.redis.Del(ctx, keys...).Err(); err != nil {
					return err
				}
				deleted += len(keys)
			}
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return deleted, err
		}
		return deleted, fmt.Errorf("kv: scan delete: %w", err)
	}
	return deleted, nil
}

// Ping checks connectivity directly, bypassing the breaker — used by health
// checks that need the live status rather than the breaker's cached view.
func (c *Client) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.redis.Close()
}

// CircuitState reports the current breaker state, for health/status endpoints.
func (c *Client) CircuitState() resilience.CircuitState {
	return c.breaker.State()
}

// Raw exposes the underlying client for components that need Redis features
// with no Client wrapper yet (e.g. a one-off pipeline).
func (c *Client) Raw() goredis.UniversalClient {
	return c.redis
}

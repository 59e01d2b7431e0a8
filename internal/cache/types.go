// Package cache provides the verdict cache: a namespaced, TTL-tiered store
// for idempotent pipeline verdicts, backed by an in-process TTL store, Redis,
// or both tiers at once.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Type names a cache backend.
type Type string

const (
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
	TypeDual   Type = "dual"
)

// Entry is a single batched write.
type Entry struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Stats holds cache statistics for monitoring.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is the interface every backend (memory, Redis, dual) implements.
type Cache interface {
	// Get retrieves a value. Returns nil, nil on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. TTL of 0 uses the backend's default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// SetPipeline performs batched writes.
	SetPipeline(ctx context.Context, entries []Entry) error

	// GetMulti retrieves several keys at once; missing keys are omitted.
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)

	// InvalidatePattern deletes every key matching a glob pattern, scoped to
	// the cache's namespace. See ValidatePattern for the safety rules a
	// pattern must satisfy.
	InvalidatePattern(ctx context.Context, pattern string) (int, error)

	// Ping checks backend health.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error

	// Stats returns cumulative statistics.
	Stats() Stats
}

// KeyGenerator derives a cache key from normalized request content.
type KeyGenerator interface {
	Generate(namespace, content string) string
}

// ValidatePattern enforces the safety rules an InvalidatePattern caller must
// satisfy before any backend may act on pattern: a bare wildcard is always
// rejected, and whatever remains after the configured namespace prefix must
// contain at least one literal character before the first '*'. Without this,
// a caller passing "*" would compute an empty delete-prefix and wipe every
// key in the store, not just its own namespace.
func ValidatePattern(pattern, namespace string) error {
	if pattern == "" || pattern == "*" {
		return fmt.Errorf("cache: pattern %q is a bare wildcard, refusing to invalidate", pattern)
	}

	prefix := namespace
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	if prefix != "" && !strings.HasPrefix(pattern, prefix) {
		return fmt.Errorf("cache: pattern %q must start with namespace prefix %q", pattern, prefix)
	}

	literal := strings.SplitN(strings.TrimPrefix(pattern, prefix), "*", 2)[0]
	if literal == "" {
		return fmt.Errorf("cache: pattern %q must contain a literal segment after namespace prefix %q", pattern, prefix)
	}
	return nil
}

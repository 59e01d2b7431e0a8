package resilience

import (
	"context"
	"time"
)

// Bucket identifies one continuous-refill token bucket to check and, if
// allowed, consume from. Key is the fully-qualified bucket identity (e.g.
// "ip:203.0.113.4" or "user:alice"), scoped by namespace at the caller.
type Bucket struct {
	Key   string  // bucket identity
	Rate  float64 // tokens refilled per second
	Burst float64 // bucket capacity
	Cost  float64 // tokens to consume for this check; 0 defaults to 1
}

// BucketResult is the outcome of checking one Bucket.
type BucketResult struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// DistributedLimiter atomically checks and consumes tokens from one or more
// continuous-refill buckets shared across every process hitting the same
// store, so a single logical identity is rate limited consistently
// regardless of which instance handles a given request.
type DistributedLimiter interface {
	Allow(ctx context.Context, buckets []Bucket) ([]BucketResult, error)
}

package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-key continuous-refill token bucket. It wraps
// golang.org/x/time/rate so the refill math (and its edge cases around
// fractional tokens and clock jumps) comes from that package, not ours.
type RateLimiter struct {
	mu  sync.Mutex
	lim *rate.Limiter
}

// NewRateLimiter creates a rate limiter. ratePerSec is the continuous refill
// rate in tokens/second; burst is the bucket capacity.
func NewRateLimiter(ratePerSec float64, burst int) *RateLimiter {
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow checks if a single request should be allowed.
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN checks if n requests should be allowed, consuming n tokens if so.
func (rl *RateLimiter) AllowN(n int) bool {
	return rl.lim.AllowN(time.Now(), n)
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	return rl.lim.TokensAt(time.Now())
}

// Rate returns the refill rate (tokens per second).
func (rl *RateLimiter) Rate() float64 {
	return float64(rl.lim.Limit())
}

// Burst returns the burst size.
func (rl *RateLimiter) Burst() int {
	return rl.lim.Burst()
}

// SetRate updates the refill rate.
func (rl *RateLimiter) SetRate(ratePerSec float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.lim.SetLimit(rate.Limit(ratePerSec))
}

// SetBurst updates the burst size.
func (rl *RateLimiter) SetBurst(burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.lim.SetBurst(burst)
}

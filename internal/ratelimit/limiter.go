// Package ratelimit implements the reflex layer's two-stage rate limiter:
// a per-key local token bucket (a strictly more-restrictive secondary gate,
// bounded by an LRU so the resident key set never grows unbounded) checked
// after a distributed token bucket held in Redis. Both stages share the
// continuous-refill semantics of internal/resilience; the distributed stage
// is the source of truth, the local stage only ever tightens it.
package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/reflexlayer/reflex/internal/kv"
	"github.com/reflexlayer/reflex/internal/resilience"
	"github.com/reflexlayer/reflex/pkg/reflex"
)

// Namespace identifies which principal axis a check is keyed on.
type Namespace string

const (
	NamespaceIP   Namespace = "ip"
	NamespaceUser Namespace = "user"
)

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed    bool
	Namespace  Namespace
	Key        string
	Remaining  float64
	RetryAfter time.Duration
}

// Config configures the Limiter.
type Config struct {
	// LocalBucketCapacity bounds the number of distinct (namespace,key)
	// local buckets kept resident at once.
	LocalBucketCapacity int
	// TrustedProxyCIDRs lists proxies allowed to set X-Forwarded-For/Forwarded/X-Real-IP.
	TrustedProxyCIDRs []string
	Logger            *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LocalBucketCapacity: 10000,
		Logger:              slog.Default(),
	}
}

type localKey struct {
	ns  Namespace
	key string
}

// Limiter is the reflex layer's two-stage rate limiter.
type Limiter struct {
	local          *lru.Cache[localKey, *resilience.RateLimiter]
	distributed    *resilience.RedisLimiter
	kvClient       *kv.Client
	trustedProxies []*net.IPNet
	logger         *slog.Logger
}

// New creates a Limiter. kvClient may be nil, in which case only the local
// stage runs (used for tests and for deployments with rate limiting
// explicitly scoped to a single instance).
func New(kvClient *kv.Client, cfg Config) (*Limiter, error) {
	if cfg.LocalBucketCapacity <= 0 {
		cfg.LocalBucketCapacity = 10000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	local, err := lru.New[localKey, *resilience.RateLimiter](cfg.LocalBucketCapacity)
	if err != nil {
		return nil, err
	}

	trusted, invalid := parseTrustedProxyCIDRs(cfg.TrustedProxyCIDRs)
	for _, v := range invalid {
		cfg.Logger.Warn("ratelimit: invalid trusted proxy cidr ignored", "value", v)
	}

	l := &Limiter{
		local:          local,
		trustedProxies: trusted,
		logger:         cfg.Logger,
	}
	if kvClient != nil {
		l.kvClient = kvClient
		l.distributed = resilience.NewRedisLimiter(kvClient.Raw())
	}
	return l, nil
}

// Check runs both stages for (namespace, key) against the given tier. The
// distributed stage is authoritative; the local stage is a secondary,
// strictly more-restrictive gate derived from the same tier. A KV-unavailable
// condition fails closed: spec.md's trust model treats a reachable KV as
// part of the trust base, so an open circuit breaker denies rather than
// silently falling back to local-only enforcement.
func (l *Limiter) Check(ctx context.Context, ns Namespace, key string, tier reflex.Tier) (Result, error) {
	res := Result{Namespace: ns, Key: key}

	if tier.Unlimited {
		res.Allowed = true
		return res, nil
	}

	if l.distributed != nil {
		bucketKey := string(ns) + ":" + key
		var results []resilience.BucketResult
		err := l.kvClient.Guard(func() error {
			var guardErr error
			results, guardErr = l.distributed.Allow(ctx, []resilience.Bucket{
				{Key: bucketKey, Rate: tier.RefillPerSecond(), Burst: tier.Burst, Cost: 1},
			})
			return guardErr
		})
		if err != nil {
			l.logger.Warn("ratelimit: distributed check failed, failing closed",
				"namespace", ns, "key", key, "error", err)
			res.Allowed = false
			res.RetryAfter = time.Second
			return res, err
		}
		if len(results) > 0 {
			res.Allowed = results[0].Allowed
			res.Remaining = results[0].Remaining
			res.RetryAfter = results[0].RetryAfter
			if !res.Allowed {
				return res, nil
			}
		}
	}

	// Local stage: same tier, checked after the distributed stage allows.
	// It always runs; when no distributed stage exists (pure local-mode
	// deployments) it is the sole gate.
	limiter := l.getLocalLimiter(ns, key, tier)
	if !limiter.Allow() {
		res.Allowed = false
		res.RetryAfter = time.Second
		return res, nil
	}

	res.Allowed = true
	return res, nil
}

func (l *Limiter) getLocalLimiter(ns Namespace, key string, tier reflex.Tier) *resilience.RateLimiter {
	lk := localKey{ns: ns, key: key}
	if rl, ok := l.local.Get(lk); ok {
		return rl
	}
	rl := resilience.NewRateLimiter(tier.RefillPerSecond(), int(tier.Burst))
	l.local.Add(lk, rl)
	return rl
}

// ClientIP derives the rate-limiting key for an unauthenticated request,
// honoring X-Forwarded-For/Forwarded/X-Real-IP only when the immediate peer
// is a trusted proxy.
func (l *Limiter) ClientIP(r *http.Request) string {
	return clientIP(r, l.trustedProxies)
}

func clientIP(r *http.Request, trustedProxies []*net.IPNet) string {
	if r == nil {
		return ""
	}
	remoteHost := remoteAddrHost(r.RemoteAddr)
	if remoteHost == "" {
		return ""
	}
	if len(trustedProxies) == 0 {
		return remoteHost
	}
	remoteIP := parseIP(remoteHost)
	if remoteIP == nil || !ipInNets(remoteIP, trustedProxies) {
		return remoteHost
	}
	if ip := forwardedClientIP(r.Header.Get("Forwarded"), trustedProxies); ip != "" {
		return ip
	}
	if ip := xForwardedForClientIP(r.Header.Get("X-Forwarded-For"), trustedProxies); ip != "" {
		return ip
	}
	if ip := headerClientIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return remoteHost
}

func remoteAddrHost(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err == nil && host != "" {
		return host
	}
	return addr
}

func forwardedClientIP(header string, trustedProxies []*net.IPNet) string {
	return selectClientIP(parseForwardedFor(header), trustedProxies)
}

func xForwardedForClientIP(header string, trustedProxies []*net.IPNet) string {
	return selectClientIP(parseXForwardedFor(header), trustedProxies)
}

func headerClientIP(value string) string {
	ip := parseIP(value)
	if ip == nil {
		return ""
	}
	return ip.String()
}

func selectClientIP(ips []net.IP, trustedProxies []*net.IPNet) string {
	if len(ips) == 0 {
		return ""
	}
	for i := len(ips) - 1; i >= 0; i-- {
		ip := normalizeIP(ips[i])
		if ip == nil {
			continue
		}
		if !ipInNets(ip, trustedProxies) {
			return ip.String()
		}
	}
	for _, ip := range ips {
		ip = normalizeIP(ip)
		if ip != nil {
			return ip.String()
		}
	}
	return ""
}

func parseForwardedFor(header string) []net.IP {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	ips := make([]net.IP, 0, len(parts))
	for _, part := range parts {
		for _, param := range strings.Split(part, ";") {
			param = strings.TrimSpace(param)
			if len(param) < 4 || !strings.EqualFold(param[:4], "for=") {
				continue
			}
			value := strings.TrimSpace(param[4:])
			if ip := parseForwardedForValue(value); ip != nil {
				ips = append(ips, ip)
			}
		}
	}
	return ips
}

func parseXForwardedFor(header string) []net.IP {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	ips := make([]net.IP, 0, len(parts))
	for _, part := range parts {
		if ip := parseIP(part); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}

func parseForwardedForValue(value string) net.IP {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "\"")
	if value == "" || strings.EqualFold(value, "unknown") {
		return nil
	}
	if strings.HasPrefix(value, "[") {
		if idx := strings.Index(value, "]"); idx != -1 {
			return parseIP(value[1:idx])
		}
	}
	if host, _, err := net.SplitHostPort(value); err == nil {
		return parseIP(host)
	}
	return parseIP(value)
}

func parseIP(value string) net.IP {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if idx := strings.IndexByte(value, '%'); idx != -1 {
		value = value[:idx]
	}
	return normalizeIP(net.ParseIP(value))
}

func normalizeIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}

func ipInNets(ip net.IP, nets []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	for _, ipNet := range nets {
		if ipNet != nil && ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

func parseTrustedProxyCIDRs(values []string) ([]*net.IPNet, []string) {
	if len(values) == 0 {
		return nil, nil
	}
	trusted := make([]*net.IPNet, 0, len(values))
	var invalid []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			invalid = append(invalid, value)
			continue
		}
		if strings.Contains(value, "/") {
			_, ipNet, err := net.ParseCIDR(value)
			if err != nil {
				invalid = append(invalid, value)
				continue
			}
			trusted = append(trusted, ipNet)
			continue
		}
		ip := normalizeIP(net.ParseIP(value))
		if ip == nil {
			invalid = append(invalid, value)
			continue
		}
		maskBits := 128
		if ip.To4() != nil {
			maskBits = 32
		}
		trusted = append(trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(maskBits, maskBits)})
	}
	return trusted, invalid
}

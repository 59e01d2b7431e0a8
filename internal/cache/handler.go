package cache

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/reflexlayer/reflex/internal/metrics"
	"github.com/reflexlayer/reflex/pkg/reflex"
)

// VerdictNamespace is the key namespace used for cached verdicts.
const VerdictNamespace = "verdict"

// VersionedKeyGenerator is implemented by key generators that fold an engine
// configuration version into generated keys (see DefaultKeyGenerator).
type VersionedKeyGenerator interface {
	KeyGenerator
	SetConfigVersion(version string)
}

// Handler provides verdict caching on top of a Cache implementation: key
// derivation from request text, TTL-class-aware writes, and (de)serialization
// of the cached reflex.Verdict.
type Handler struct {
	cache   Cache
	keyGen  KeyGenerator
	config  HandlerConfig
	enabled bool
}

// HandlerConfig holds configuration for the cache handler.
type HandlerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// DefaultHandlerConfig returns sensible defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Enabled:    true,
		DefaultTTL: reflex.TTLMedium.Duration(),
	}
}

// NewHandler creates a new cache handler.
func NewHandler(cache Cache, keyGen KeyGenerator, cfg HandlerConfig) *Handler {
	if keyGen == nil {
		keyGen = NewKeyGenerator("reflex")
	}
	return &Handler{
		cache:   cache,
		keyGen:  keyGen,
		config:  cfg,
		enabled: cfg.Enabled,
	}
}

// cachedVerdict is the on-disk envelope for a cached verdict: the verdict
// itself plus the timestamp it was written, so callers can judge staleness
// independent of the backing store's own TTL bookkeeping.
type cachedVerdict struct {
	Timestamp int64          `json:"timestamp"`
	Verdict   reflex.Verdict `json:"verdict"`
}

// Lookup retrieves a cached verdict for the given request text, if present.
// Returns nil, nil on a cache miss or when caching is disabled.
func (h *Handler) Lookup(ctx context.Context, text string) (*reflex.Verdict, error) {
	if !h.enabled || h.cache == nil {
		return nil, nil
	}

	key := h.keyGen.Generate(VerdictNamespace, text)

	opStart := time.Now()
	data, err := h.cache.Get(ctx, key)
	metrics.CacheOperationDuration.WithLabelValues("lookup").Observe(time.Since(opStart).Seconds())
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var cached cachedVerdict
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupt entry: treat as a miss rather than surfacing an error.
		return nil, nil
	}

	v := cached.Verdict
	v.CacheHit = true
	return &v, nil
}

// Store writes a verdict to the cache, keyed by request text, with TTL
// selected by class (TTLCustom uses ttl). TTLPersistent passes a zero TTL,
// which every backend replaces with its own default TTL, so persistent
// entries still expire.
func (h *Handler) Store(ctx context.Context, text string, verdict reflex.Verdict, class reflex.TTLClass, ttl time.Duration) error {
	if !h.enabled || h.cache == nil {
		return nil
	}

	key := h.keyGen.Generate(VerdictNamespace, text)

	cached := cachedVerdict{
		Timestamp: time.Now().Unix(),
		Verdict:   verdict,
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return err
	}

	switch class {
	case reflex.TTLCustom:
		if ttl <= 0 {
			ttl = h.config.DefaultTTL
		}
	case reflex.TTLPersistent:
		ttl = 0
	default:
		ttl = class.Duration()
	}

	opStart := time.Now()
	err = h.cache.Set(ctx, key, data, ttl)
	metrics.CacheOperationDuration.WithLabelValues("store").Observe(time.Since(opStart).Seconds())
	return err
}

// Invalidate removes a cached verdict for the given request text.
func (h *Handler) Invalidate(ctx context.Context, text string) error {
	if !h.enabled || h.cache == nil {
		return nil
	}
	key := h.keyGen.Generate(VerdictNamespace, text)
	return h.cache.Delete(ctx, key)
}

// SetConfigVersion updates the engine configuration version mixed into
// every cache key, if the underlying key generator supports it. It is a
// no-op otherwise, so callers can wire it unconditionally regardless of the
// KeyGenerator implementation in use.
func (h *Handler) SetConfigVersion(version string) {
	if vkg, ok := h.keyGen.(VersionedKeyGenerator); ok {
		vkg.SetConfigVersion(version)
	}
}

// Stats returns cache statistics.
func (h *Handler) Stats() Stats {
	if h.cache == nil {
		return Stats{}
	}
	return h.cache.Stats()
}

// IsEnabled returns whether caching is enabled.
func (h *Handler) IsEnabled() bool {
	return h.enabled
}

// SetEnabled enables or disables caching at runtime.
func (h *Handler) SetEnabled(enabled bool) {
	h.enabled = enabled
}

// Ping checks cache health.
func (h *Handler) Ping(ctx context.Context) error {
	if h.cache == nil {
		return nil
	}
	return h.cache.Ping(ctx)
}

// Close releases cache resources.
func (h *Handler) Close() error {
	if h.cache == nil {
		return nil
	}
	return h.cache.Close()
}

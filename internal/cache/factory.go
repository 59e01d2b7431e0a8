package cache

import (
	"fmt"
	"time"

	"github.com/reflexlayer/reflex/internal/kv"
)

// Config holds the complete cache configuration.
type Config struct {
	Type      Type              `yaml:"type"` // memory, redis, or dual
	Enabled   bool              `yaml:"enabled"`
	Namespace string            `yaml:"namespace"`
	TTL       time.Duration     `yaml:"ttl"`
	Memory    MemoryCacheConfig `yaml:"memory"`
	Redis     RedisCacheConfig  `yaml:"redis"`
	Dual      DualCacheConfig   `yaml:"dual"`
	KV        kv.Config         `yaml:"kv"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Type:      TypeMemory,
		Enabled:   true,
		Namespace: "reflex",
		TTL:       0, // caller selects TTL by reflex.TTLClass
		Memory:    DefaultMemoryCacheConfig(),
		Redis:     DefaultRedisCacheConfig(),
		Dual:      DefaultDualCacheConfig(),
	}
}

// NewCache builds a Cache implementation from configuration. For TypeRedis
// and TypeDual it dials a new kv.Client from cfg.KV; that client is not
// shared with the rate limiter and is not closed by the cache's Close.
func NewCache(cfg Config) (Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Type {
	case TypeMemory:
		memCfg := cfg.Memory
		memCfg.Namespace = cfg.Namespace
		return NewMemoryCache(memCfg), nil

	case TypeRedis:
		client, err := kv.New(cfg.KV)
		if err != nil {
			return nil, fmt.Errorf("cache: connect kv store: %w", err)
		}
		redisCfg := cfg.Redis
		redisCfg.Namespace = cfg.Namespace
		if cfg.TTL > 0 {
			redisCfg.DefaultTTL = cfg.TTL
		}
		return NewRedisCache(client, redisCfg), nil

	case TypeDual:
		memCfg := cfg.Memory
		memCfg.Namespace = cfg.Namespace
		local := NewMemoryCache(memCfg)

		client, err := kv.New(cfg.KV)
		if err != nil {
			return nil, fmt.Errorf("cache: connect kv store: %w", err)
		}
		redisCfg := cfg.Redis
		redisCfg.Namespace = cfg.Namespace
		if cfg.TTL > 0 {
			redisCfg.DefaultTTL = cfg.TTL
		}
		redis := NewRedisCache(client, redisCfg)

		dualCfg := cfg.Dual
		dualCfg.Namespace = cfg.Namespace
		if cfg.TTL > 0 {
			dualCfg.RedisTTL = cfg.TTL
		}
		return NewDualCache(local, redis, dualCfg), nil

	default:
		return nil, fmt.Errorf("cache: unsupported type: %s", cfg.Type)
	}
}

// NewCacheHandler creates a complete cache handler with the given configuration.
func NewCacheHandler(cfg Config) (*Handler, error) {
	cache, err := NewCache(cfg)
	if err != nil {
		return nil, err
	}

	keyGen := NewKeyGenerator(cfg.Namespace)

	handlerCfg := HandlerConfig{
		Enabled:    cfg.Enabled,
		DefaultTTL: cfg.TTL,
	}
	if handlerCfg.DefaultTTL <= 0 {
		handlerCfg.DefaultTTL = DefaultHandlerConfig().DefaultTTL
	}

	return NewHandler(cache, keyGen, handlerCfg), nil
}

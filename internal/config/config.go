// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete reflex layer configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	CORS       CORSConfig       `yaml:"cors"`
	Cache      CacheConfig      `yaml:"cache"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	PII        PIIConfig        `yaml:"pii"`
	Injection  InjectionConfig  `yaml:"injection"`
	Vault      VaultConfig      `yaml:"vault"`
	Identity   IdentityConfig   `yaml:"identity"`
	Audit      AuditConfig      `yaml:"audit"`
	EventSink  EventSinkConfig  `yaml:"event_sink"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"` // bind address; empty binds all interfaces
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestBudget  time.Duration `yaml:"request_budget"` // validated on load; not applied to requests
	MaxRequestBody int64         `yaml:"max_request_body"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP HTTP endpoint (e.g., "localhost:4318")
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
	Logs        struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"logs"`
	Metrics struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"metrics"`
}

// CORSConfig defines cross-origin settings for the ingress HTTP API.
type CORSConfig struct {
	Enabled          bool          `yaml:"enabled"`
	AllowAllOrigins  bool          `yaml:"allow_all_origins"`
	AllowCredentials bool          `yaml:"allow_credentials"`
	AllowMethods     []string      `yaml:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers"`
	MaxAge           time.Duration `yaml:"max_age"`
	Allowlist        []string      `yaml:"allowlist"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	Enabled   bool              `yaml:"enabled"`
	Type      string            `yaml:"type"`      // memory, redis, dual
	Namespace string            `yaml:"namespace"` // key namespace prefix, e.g. "reflex:process"
	Memory    MemoryCacheConfig `yaml:"memory"`
	Redis     RedisConfig       `yaml:"redis"`
}

// MemoryCacheConfig contains in-memory cache settings.
type MemoryCacheConfig struct {
	MaxSize         int           `yaml:"max_size"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// RedisConfig contains Redis connection settings, shared by the cache and the
// distributed rate limiter.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	ClusterAddrs   []string      `yaml:"cluster_addrs"`
	SentinelAddrs  []string      `yaml:"sentinel_addrs"`
	SentinelMaster string        `yaml:"sentinel_master"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PoolSize       int           `yaml:"pool_size"`
	MinIdleConns   int           `yaml:"min_idle_conns"`
	MaxRetries     int           `yaml:"max_retries"`
}

// RateLimitConfig defines admission-control parameters.
type RateLimitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Distributed bool   `yaml:"distributed"` // use the shared KV script instead of the local limiter
	IPTier      string `yaml:"ip_tier"`      // tier applied to the IP dimension
	UserTier    string `yaml:"user_tier"`    // tier applied to the user dimension
	LocalBucketCapacity int      `yaml:"local_bucket_capacity"` // bounded LRU size for the local limiter's bucket map
	TrustedProxyCIDRs   []string `yaml:"trusted_proxy_cidrs"`   // proxies allowed to set X-Forwarded-For/Forwarded/X-Real-IP
}

// PIIConfig controls the PII detection engine.
type PIIConfig struct {
	Enabled          bool   `yaml:"enabled"`
	PatternSet       string `yaml:"pattern_set"` // strict, standard, relaxed
	EnableValidation bool   `yaml:"enable_validation"`
}

// InjectionConfig controls the prompt-injection detection engine.
type InjectionConfig struct {
	Enabled               bool    `yaml:"enabled"`
	Mode                  string  `yaml:"mode"` // strict, standard, relaxed
	EnableContextAnalysis bool    `yaml:"enable_context_analysis"`
	EnableEntropyCheck    bool    `yaml:"enable_entropy_check"`
	EntropyThreshold      float64 `yaml:"entropy_threshold"`
	SeverityThreshold     string  `yaml:"severity_threshold"` // drop matches below this severity
}

// VaultConfig contains HashiCorp Vault settings for the secret manager.
type VaultConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	AuthMethod string `yaml:"auth_method"` // "approle", "cert"
	RoleID     string `yaml:"role_id"`
	SecretID   string `yaml:"secret_id"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// IdentityConfig controls optional bearer-token identity resolution.
type IdentityConfig struct {
	Enabled        bool   `yaml:"enabled"`
	JWTSecretPath  string `yaml:"jwt_secret_path"` // scheme://path resolved via the secret manager
	JWTAudience    string `yaml:"jwt_audience"`
	JWTIssuer      string `yaml:"jwt_issuer"`
	UserIDClaim    string `yaml:"user_id_claim"`
}

// AuditConfig controls the S3 archiver for blocked/flagged verdicts.
type AuditConfig struct {
	Enabled         bool   `yaml:"enabled"`
	BucketName      string `yaml:"bucket_name"`
	Region          string `yaml:"region"`
	KeyPrefix       string `yaml:"key_prefix"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	ArchiveSuccessWithMatches bool `yaml:"archive_success_with_matches"` // debug-level archiving of clean-but-flagged verdicts
}

// EventSinkConfig controls the security event fan-out on Blocked verdicts.
type EventSinkConfig struct {
	Slack struct {
		Enabled    bool   `yaml:"enabled"`
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"slack"`
	Datadog struct {
		Enabled bool   `yaml:"enabled"`
		APIKey  string `yaml:"api_key"`
		Site    string `yaml:"site"`
	} `yaml:"datadog"`
	OTelLogs bool `yaml:"otel_logs"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   5 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestBudget:  60 * time.Second,
			MaxRequestBody: 1024 * 1024, // text is bounded to 100k code units, JSON envelope adds headroom
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "reflex",
			SampleRate:  1.0,
			Insecure:    true,
		},
		CORS: CORSConfig{
			Enabled:      false,
			AllowMethods: []string{"POST", "GET", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
			MaxAge:       10 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Type:      "redis",
			Namespace: "reflex:process",
			Memory: MemoryCacheConfig{
				MaxSize:         10000,
				CleanupInterval: time.Minute,
			},
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				DB:           0,
				DialTimeout:  2 * time.Second,
				ReadTimeout:  50 * time.Millisecond,
				WriteTimeout: 50 * time.Millisecond,
				PoolSize:     32,
				MinIdleConns: 4,
				MaxRetries:   1,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:             true,
			Distributed:         true,
			IPTier:              "free",
			UserTier:            "basic",
			LocalBucketCapacity: 100000,
		},
		PII: PIIConfig{
			Enabled:          true,
			PatternSet:       "standard",
			EnableValidation: true,
		},
		Injection: InjectionConfig{
			Enabled:               true,
			Mode:                  "standard",
			EnableContextAnalysis: true,
			EnableEntropyCheck:    true,
			EntropyThreshold:      4.0,
			SeverityThreshold:     "Low",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file, applies
// ${VAR_NAME} interpolation inside it, then applies the named environment
// variable overrides documented for the service (see applyEnvOverrides) on
// top of whatever the file set.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides binds the service's recognized environment variable
// surface directly onto cfg, taking precedence over both DefaultConfig()
// and whatever the YAML file set. This is what lets an operator run the
// gateway from a clean checkout with no hand-authored config file at all.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("HOST"); ok {
		cfg.Server.Host = v
	}
	if v, ok := os.LookupEnv("PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v, ok := os.LookupEnv("KV_URL"); ok {
		cfg.Cache.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("KV_POOL_MAX"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Redis.PoolSize = n
		}
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := os.LookupEnv("PII_PATTERN_SET"); ok {
		cfg.PII.PatternSet = v
	}
	if v, ok := os.LookupEnv("INJECTION_MODE"); ok {
		cfg.Injection.Mode = v
	}
	if v, ok := os.LookupEnv("INJECTION_SEVERITY_THRESHOLD"); ok {
		cfg.Injection.SeverityThreshold = v
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_DEFAULT_IP_TIER"); ok {
		cfg.RateLimit.IPTier = v
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_DEFAULT_USER_TIER"); ok {
		cfg.RateLimit.UserTier = v
	}
	if v, ok := os.LookupEnv("REQUEST_BODY_MAX_BYTES"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Server.MaxRequestBody = n
		}
	}
	if v, ok := os.LookupEnv("REQUEST_TIMEOUT_MS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RequestBudget = time.Duration(n) * time.Millisecond
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RequestBudget <= 0 {
		return fmt.Errorf("server.request_budget must be positive")
	}

	switch strings.ToLower(c.PII.PatternSet) {
	case "strict", "standard", "relaxed":
	default:
		return fmt.Errorf("pii.pattern_set must be one of: strict, standard, relaxed")
	}

	switch strings.ToLower(c.Injection.Mode) {
	case "strict", "standard", "relaxed":
	default:
		return fmt.Errorf("injection.mode must be one of: strict, standard, relaxed")
	}

	if c.RateLimit.Enabled {
		if _, ok := tierExists(c.RateLimit.IPTier); !ok {
			return fmt.Errorf("rate_limit.ip_tier %q is not a known tier", c.RateLimit.IPTier)
		}
		if _, ok := tierExists(c.RateLimit.UserTier); !ok {
			return fmt.Errorf("rate_limit.user_tier %q is not a known tier", c.RateLimit.UserTier)
		}
		if c.RateLimit.Distributed && !hasRedisConfig(c.Cache.Redis) {
			return fmt.Errorf("rate_limit.distributed=true requires cache.redis.addr or cluster_addrs")
		}
		for _, cidr := range c.RateLimit.TrustedProxyCIDRs {
			if !isValidIPOrCIDR(cidr) {
				return fmt.Errorf("rate_limit.trusted_proxy_cidrs contains invalid entry %q", cidr)
			}
		}
	}

	if c.Cache.Enabled && strings.EqualFold(c.Cache.Type, "redis") && !hasRedisConfig(c.Cache.Redis) {
		return fmt.Errorf("cache.type=redis requires cache.redis.addr or cluster_addrs")
	}

	if c.CORS.MaxAge < 0 {
		return fmt.Errorf("cors.max_age cannot be negative")
	}
	if !c.CORS.AllowAllOrigins && containsWildcard(c.CORS.Allowlist) {
		return fmt.Errorf("cors.allowlist cannot include wildcard when allow_all_origins is false")
	}

	if c.Identity.Enabled && c.Identity.JWTSecretPath == "" {
		return fmt.Errorf("identity.jwt_secret_path is required when identity.enabled")
	}

	if c.Audit.Enabled && c.Audit.BucketName == "" {
		return fmt.Errorf("audit.bucket_name is required when audit.enabled")
	}

	return nil
}

func tierExists(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "free", "basic", "pro", "enterprise", "unlimited":
		return name, true
	default:
		return "", false
	}
}

func hasRedisConfig(cfg RedisConfig) bool {
	return cfg.Addr != "" || len(cfg.ClusterAddrs) > 0
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}

func isValidIPOrCIDR(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	if strings.Contains(value, "/") {
		_, _, err := net.ParseCIDR(value)
		return err == nil
	}
	return net.ParseIP(value) != nil
}

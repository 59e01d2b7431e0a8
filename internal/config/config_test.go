package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(1024*1024), cfg.Server.MaxRequestBody)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "reflex", cfg.Tracing.ServiceName)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "reflex:process", cfg.Cache.Namespace)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.True(t, cfg.RateLimit.Distributed)
	assert.Equal(t, "free", cfg.RateLimit.IPTier)
	assert.Equal(t, "basic", cfg.RateLimit.UserTier)
	assert.Equal(t, "standard", cfg.PII.PatternSet)
	assert.Equal(t, "standard", cfg.Injection.Mode)

	require.NoError(t, cfg.Validate())
}

func TestConfigValidation_Port(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg.Server.Port = 8080
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidation_RequestBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.RequestBudget = 0
	assert.Error(t, cfg.Validate())
}

func TestConfigValidation_PIIPatternSet(t *testing.T) {
	cfg := DefaultConfig()

	for _, valid := range []string{"strict", "standard", "relaxed", "STRICT"} {
		cfg.PII.PatternSet = valid
		assert.NoError(t, cfg.Validate(), "pattern set %q should be valid", valid)
	}

	cfg.PII.PatternSet = "paranoid"
	assert.Error(t, cfg.Validate())
}

func TestConfigValidation_InjectionMode(t *testing.T) {
	cfg := DefaultConfig()

	for _, valid := range []string{"strict", "standard", "relaxed"} {
		cfg.Injection.Mode = valid
		assert.NoError(t, cfg.Validate(), "mode %q should be valid", valid)
	}

	cfg.Injection.Mode = "paranoid"
	assert.Error(t, cfg.Validate())
}

func TestConfigValidation_RateLimitTiers(t *testing.T) {
	cfg := DefaultConfig()

	cfg.RateLimit.IPTier = "bogus"
	assert.Error(t, cfg.Validate())
	cfg.RateLimit.IPTier = "free"

	cfg.RateLimit.UserTier = "bogus"
	assert.Error(t, cfg.Validate())
	cfg.RateLimit.UserTier = "basic"

	assert.NoError(t, cfg.Validate())
}

func TestConfigValidation_DistributedRequiresRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Distributed = true
	cfg.Cache.Redis.Addr = ""
	cfg.Cache.Redis.ClusterAddrs = nil
	assert.Error(t, cfg.Validate())

	cfg.Cache.Redis.ClusterAddrs = []string{"redis-0:6379", "redis-1:6379"}
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidation_CacheTypeRedisRequiresRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Enabled = false
	cfg.Cache.Type = "redis"
	cfg.Cache.Redis.Addr = ""
	cfg.Cache.Redis.ClusterAddrs = nil
	assert.Error(t, cfg.Validate())

	cfg.Cache.Type = "local"
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidation_TrustedProxyCIDRs(t *testing.T) {
	cfg := DefaultConfig()

	cfg.RateLimit.TrustedProxyCIDRs = []string{"10.0.0.0/8", "192.168.1.1"}
	assert.NoError(t, cfg.Validate())

	cfg.RateLimit.TrustedProxyCIDRs = []string{"not-an-ip"}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidation_CORSWildcard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CORS.AllowAllOrigins = false
	cfg.CORS.Allowlist = []string{"*"}
	assert.Error(t, cfg.Validate())

	cfg.CORS.Allowlist = []string{"https://example.com"}
	assert.NoError(t, cfg.Validate())

	cfg.CORS.AllowAllOrigins = true
	cfg.CORS.Allowlist = []string{"*"}
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidation_CORSMaxAge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CORS.MaxAge = -1
	assert.Error(t, cfg.Validate())
}

func TestConfigValidation_IdentityRequiresSecretPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Identity.Enabled = true
	cfg.Identity.JWTSecretPath = ""
	assert.Error(t, cfg.Validate())

	cfg.Identity.JWTSecretPath = "env://JWT_SIGNING_SECRET"
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidation_AuditRequiresBucket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BucketName = ""
	assert.Error(t, cfg.Validate())

	cfg.Audit.BucketName = "reflex-audit-logs"
	assert.NoError(t, cfg.Validate())
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 9090
cache:
  type: redis
  redis:
    addr: "localhost:6380"
rate_limit:
  ip_tier: pro
  user_tier: enterprise
pii:
  pattern_set: strict
injection:
  mode: relaxed
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost:6380", cfg.Cache.Redis.Addr)
	assert.Equal(t, "pro", cfg.RateLimit.IPTier)
	assert.Equal(t, "enterprise", cfg.RateLimit.UserTier)
	assert.Equal(t, "strict", cfg.PII.PatternSet)
	assert.Equal(t, "relaxed", cfg.Injection.Mode)

	// Fields left unset in the YAML keep their DefaultConfig() values.
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	t.Setenv("REFLEX_TEST_REDIS_ADDR", "redis.internal:6379")

	path := writeTempConfig(t, `
cache:
  redis:
    addr: "${REFLEX_TEST_REDIS_ADDR}"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", cfg.Cache.Redis.Addr)
}

func TestLoadFromFile_NamedEnvOverrides(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9090")
	t.Setenv("KV_URL", "kv.internal:6380")
	t.Setenv("KV_POOL_MAX", "64")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PII_PATTERN_SET", "strict")
	t.Setenv("INJECTION_MODE", "relaxed")
	t.Setenv("INJECTION_SEVERITY_THRESHOLD", "High")
	t.Setenv("RATE_LIMIT_DEFAULT_IP_TIER", "pro")
	t.Setenv("RATE_LIMIT_DEFAULT_USER_TIER", "enterprise")
	t.Setenv("REQUEST_BODY_MAX_BYTES", "2048")
	t.Setenv("REQUEST_TIMEOUT_MS", "1500")

	path := writeTempConfig(t, `
server:
  port: 8080
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "kv.internal:6380", cfg.Cache.Redis.Addr)
	assert.Equal(t, 64, cfg.Cache.Redis.PoolSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "strict", cfg.PII.PatternSet)
	assert.Equal(t, "relaxed", cfg.Injection.Mode)
	assert.Equal(t, "High", cfg.Injection.SeverityThreshold)
	assert.Equal(t, "pro", cfg.RateLimit.IPTier)
	assert.Equal(t, "enterprise", cfg.RateLimit.UserTier)
	assert.EqualValues(t, 2048, cfg.Server.MaxRequestBody)
	assert.Equal(t, 1500*time.Millisecond, cfg.Server.RequestBudget)
}

func TestLoadFromFile_NamedEnvOverrides_TakePrecedenceOverFile(t *testing.T) {
	t.Setenv("PORT", "9999")

	path := writeTempConfig(t, `
server:
  port: 8080
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server:\n  port: [this is not valid\n")
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromFile_InvalidConfigFailsValidate(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 0
`)
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

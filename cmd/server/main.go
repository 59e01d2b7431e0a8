// Package main is the entry point for the reflex layer server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode"

	"github.com/reflexlayer/reflex/internal/audit"
	"github.com/reflexlayer/reflex/internal/cache"
	"github.com/reflexlayer/reflex/internal/config"
	"github.com/reflexlayer/reflex/internal/eventsink"
	"github.com/reflexlayer/reflex/internal/identity"
	"github.com/reflexlayer/reflex/internal/ingress"
	"github.com/reflexlayer/reflex/internal/injection"
	"github.com/reflexlayer/reflex/internal/kv"
	"github.com/reflexlayer/reflex/internal/metrics"
	"github.com/reflexlayer/reflex/internal/observability"
	"github.com/reflexlayer/reflex/internal/pii"
	"github.com/reflexlayer/reflex/internal/ratelimit"
	"github.com/reflexlayer/reflex/internal/secret"
	"github.com/reflexlayer/reflex/internal/secret/env"
	"github.com/reflexlayer/reflex/internal/secret/vault"
	"github.com/reflexlayer/reflex/pkg/reflex"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting reflex layer", "version", "0.1.0")

	secretManager := secret.NewManager()
	defer func() {
		if err := secretManager.Close(); err != nil {
			logger.Error("failed to close secret manager", "error", err)
		}
	}()
	secretManager.Register("env", env.New())

	cfgManager, err := config.NewManager(*configPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer func() { _ = cfgManager.Close() }()

	cfg := cfgManager.Get()

	if cfg.Logging.Level == "debug" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(logger)
	}

	var vConfig vault.Config
	if cfg.Vault.Enabled {
		vConfig = vault.Config{
			Address:    cfg.Vault.Address,
			AuthMethod: cfg.Vault.AuthMethod,
			RoleID:     cfg.Vault.RoleID,
			SecretID:   cfg.Vault.SecretID,
			CACert:     cfg.Vault.CACert,
			ClientCert: cfg.Vault.ClientCert,
			ClientKey:  cfg.Vault.ClientKey,
		}
	} else if os.Getenv("VAULT_ADDR") != "" {
		vConfig = vault.Config{
			Address:    os.Getenv("VAULT_ADDR"),
			AuthMethod: "approle",
			RoleID:     os.Getenv("VAULT_ROLE_ID"),
			SecretID:   os.Getenv("VAULT_SECRET_ID"),
		}
	}

	if vConfig.Address != "" {
		logger.Info("initializing vault secret provider", "addr", vConfig.Address, "auth_method", vConfig.AuthMethod)
		vProvider, vErr := vault.New(vConfig, logger)
		if vErr != nil {
			return fmt.Errorf("failed to initialize vault provider: %w", vErr)
		}
		secretManager.Register("vault", secret.NewCachedProvider(vProvider, 5*time.Minute))
	} else {
		logger.Info("vault provider disabled")
	}

	tracingCfg := observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	}
	tracerProvider, err := observability.InitTracing(context.Background(), tracingCfg)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
	} else if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if watchErr := cfgManager.Watch(ctx); watchErr != nil {
		logger.Warn("config hot-reload disabled", "error", watchErr)
	}

	// The verdict cache and the distributed rate limiter are built from the
	// same kv.Config translated from cfg.Cache.Redis. kvClient below serves
	// the rate limiter and readiness check; the cache handler dials its own
	// client from kvConfig.
	kvConfig := kv.Config{
		Addr:           cfg.Cache.Redis.Addr,
		Password:       cfg.Cache.Redis.Password,
		DB:             cfg.Cache.Redis.DB,
		ClusterAddrs:   cfg.Cache.Redis.ClusterAddrs,
		SentinelAddrs:  cfg.Cache.Redis.SentinelAddrs,
		SentinelMaster: cfg.Cache.Redis.SentinelMaster,
		DialTimeout:    cfg.Cache.Redis.DialTimeout,
		ReadTimeout:    cfg.Cache.Redis.ReadTimeout,
		WriteTimeout:   cfg.Cache.Redis.WriteTimeout,
		PoolSize:       cfg.Cache.Redis.PoolSize,
		MinIdleConns:   cfg.Cache.Redis.MinIdleConns,
		MaxRetries:     cfg.Cache.Redis.MaxRetries,
	}

	var kvClient *kv.Client
	needsKV := (cfg.Cache.Enabled && (cfg.Cache.Type == "redis" || cfg.Cache.Type == "dual")) ||
		(cfg.RateLimit.Enabled && cfg.RateLimit.Distributed)
	if needsKV {
		kvClient, err = kv.New(kvConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to kv store: %w", err)
		}
		defer func() { _ = kvClient.Close() }()
		logger.Info("kv store connected", "addr", kvConfig.Addr)
	}

	cacheCfg := cache.Config{
		Type:      cache.Type(cfg.Cache.Type),
		Enabled:   cfg.Cache.Enabled,
		Namespace: cfg.Cache.Namespace,
		Memory:    cache.MemoryCacheConfig{CleanupInterval: cfg.Cache.Memory.CleanupInterval},
		KV:        kvConfig,
	}
	cacheHandler, err := cache.NewCacheHandler(cacheCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	if cacheHandler != nil {
		defer func() { _ = cacheHandler.Close() }()

		// The engine config version is folded into every cache key: a verdict
		// cached under one PII/injection configuration must never be served
		// as a hit once a hot-reload changes that configuration.
		cacheHandler.SetConfigVersion(cfgManager.Status().Checksum)
		cfgManager.OnChange(func(*config.Config) {
			cacheHandler.SetConfigVersion(cfgManager.Status().Checksum)
		})
	}
	logger.Info("cache initialized", "type", cfg.Cache.Type, "enabled", cfg.Cache.Enabled)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		var limiterKV *kv.Client
		if cfg.RateLimit.Distributed {
			limiterKV = kvClient
		}
		limiter, err = ratelimit.New(limiterKV, ratelimit.Config{
			LocalBucketCapacity: cfg.RateLimit.LocalBucketCapacity,
			TrustedProxyCIDRs:   cfg.RateLimit.TrustedProxyCIDRs,
			Logger:              logger,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize rate limiter: %w", err)
		}
		logger.Info("rate limiter initialized", "distributed", cfg.RateLimit.Distributed)
	}

	piiCfg := pii.Config{
		PatternSet:       pii.PatternSet(capitalize(cfg.PII.PatternSet)),
		EnableValidation: cfg.PII.EnableValidation,
	}
	injectionCfg := injection.Config{
		Mode:                  injection.Mode(capitalize(cfg.Injection.Mode)),
		EnableContextAnalysis: cfg.Injection.EnableContextAnalysis,
		EnableEntropyCheck:    cfg.Injection.EnableEntropyCheck,
		SeverityThreshold:     reflex.Severity(capitalize(cfg.Injection.SeverityThreshold)),
	}

	var resolver *identity.Resolver
	if cfg.Identity.Enabled {
		// Only HMAC-signed bearer tokens are supported for now: config carries
		// a single secret path, so the RSA key source is left unconfigured.
		keys := identity.NewKeySource(secretManager, cfg.Identity.JWTSecretPath, "")
		resolver = identity.NewResolver(keys, logger)
		logger.Info("identity resolver enabled", "user_id_claim", cfg.Identity.UserIDClaim)
	}

	var archiver *audit.Archiver
	if cfg.Audit.Enabled {
		archiver, err = audit.New(audit.Config{
			BucketName:    cfg.Audit.BucketName,
			Region:        cfg.Audit.Region,
			PathPrefix:    cfg.Audit.KeyPrefix,
			FlushInterval: cfg.Audit.FlushInterval,
			ArchiveDebug:  cfg.Audit.ArchiveSuccessWithMatches,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize audit archiver: %w", err)
		}
		logger.Info("audit archiver enabled", "bucket", cfg.Audit.BucketName)
	}

	var channels []eventsink.Channel
	if cfg.EventSink.Slack.Enabled {
		channels = append(channels, eventsink.NewSlackChannel(eventsink.SlackConfig{WebhookURL: cfg.EventSink.Slack.WebhookURL}))
	}
	if cfg.EventSink.Datadog.Enabled {
		channels = append(channels, eventsink.NewDatadogChannel(eventsink.DatadogConfig{APIKey: cfg.EventSink.Datadog.APIKey, Site: cfg.EventSink.Datadog.Site}))
	}
	var sink *eventsink.Sink
	if len(channels) > 0 {
		sink = eventsink.NewSink(channels...)
		logger.Info("event sink enabled", "channels", len(channels))
	}

	ipTier, ok := reflex.Tiers[cfg.RateLimit.IPTier]
	if !ok {
		ipTier = reflex.TierFree
	}
	userTier, ok := reflex.Tiers[cfg.RateLimit.UserTier]
	if !ok {
		userTier = reflex.TierBasic
	}

	pipeline := &ingress.Pipeline{
		RateLimiter: limiter,
		Cache:       cacheHandler,
		PII:         piiCfg,
		Injection:   injectionCfg,
		Tiers:       ingress.Tiers{IP: ipTier, User: userTier},
		Archiver:    archiver,
		Sink:        sink,
	}

	handler := ingress.NewHandler(pipeline, resolver, kvClient, logger, ingress.HandlerConfig{
		MaxBodyBytes: cfg.Server.MaxRequestBody,
		Debug:        cfg.Logging.Level == "debug",
		Version:      "0.1.0",
	})

	mux := http.NewServeMux()
	ingress.RegisterRoutes(mux, handler, cfg.Metrics.Enabled, cfg.Metrics.Path)

	var httpHandler http.Handler = mux
	httpHandler = metrics.Middleware(httpHandler)
	httpHandler = observability.RequestIDMiddleware(httpHandler)
	httpHandler = corsMiddleware(cfg.CORS, httpHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down server...")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if archiver != nil {
		if err := archiver.Shutdown(shutdownCtx); err != nil {
			logger.Error("archiver shutdown error", "error", err)
		}
	}
	if sink != nil {
		if err := sink.Shutdown(shutdownCtx); err != nil {
			logger.Error("event sink shutdown error", "error", err)
		}
	}
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", "error", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// capitalize upper-cases the first rune of a lowercase config string (e.g.
// "standard") to match the exported PatternSet/Mode/Severity constants
// (e.g. "Standard").
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

package main

import (
	"cachegate/internal/api"
	"cachegate/internal/cache"
	"cachegate/internal/config"
	"cachegate/internal/hints"
	"cachegate/internal/invalidation"
	"cachegate/internal/logger"
	"cachegate/internal/models"
	"cachegate/internal/observability"
	"cachegate/internal/ratelimit"
	"cachegate/internal/storage"
	"cachegate/internal/upstream"
	"cachegate/internal/version"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	configFile    = flag.String("config", "", "Path to configuration file")
	exampleConfig = flag.String("write-example-config", "", "Write an example configuration file to this path and exit")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}
	if *exampleConfig != "" {
		if err := config.SaveExample(*exampleConfig); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize storage
	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer storageInstance.Close()

	// Wrap storage with instrumentation if metrics are enabled
	activeStorage := storageInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	if err := seedBootstrapKey(context.Background(), activeStorage, cfg); err != nil {
		slog.Error("Failed to seed bootstrap key", "error", err)
		os.Exit(1)
	}

	// Response annotation
	annotator := cache.NewAnnotator(cache.AnnotatorConfig{
		DefaultTTL:      cfg.Cache.DefaultTTL,
		SkipHeader:      cfg.Cache.SkipHeader,
		IncludeMetadata: cfg.Cache.IncludeMetadata,
	})

	// CDN invalidation
	purger, err := newPurger(cfg, ver)
	if err != nil {
		slog.Error("Failed to initialize purger", "error", err)
		os.Exit(1)
	}
	invalidator := invalidation.New(purger, activeStorage, invalidation.ConfigFrom(cfg.Invalidation))

	if cfg.Metrics.Enabled {
		if err := observability.RegisterCacheMetrics(annotator.Stats(), invalidator.InFlight); err != nil {
			slog.Error("Failed to register cache metrics", "error", err)
			os.Exit(1)
		}
	}

	// Resource hints
	injector := hints.NewInjector()
	if _, err := injector.Initialize(hints.ResourcesFrom(cfg.Hints)); err != nil {
		slog.Error("Invalid resource hints", "error", err)
		os.Exit(1)
	}

	origin, err := upstream.NewClient(cfg.Upstream, ver.UserAgent())
	if err != nil {
		slog.Error("Failed to initialize upstream client", "error", err)
		os.Exit(1)
	}

	handlerOpts := []api.HandlerOption{
		api.WithStorage(activeStorage),
		api.WithAnnotator(annotator),
		api.WithCacheRules(cache.NewRules(cfg.Cache.Rules)),
		api.WithInvalidator(invalidator),
		api.WithInjector(injector),
		api.WithUpstream(origin),
		api.WithVersion(ver),
	}

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	// Initialize rate limiter if enabled
	if cfg.Security.RateLimit.Enabled {
		limiter, err := newLimiter(context.Background(), cfg)
		if err != nil {
			slog.Error("Failed to initialize rate limiter", "error", err)
			os.Exit(1)
		}
		defer limiter.Close()

		handlerOpts = append(handlerOpts, api.WithLimiter(limiter))
		routeOpts = append(routeOpts, api.WithRateLimiter(ratelimit.Middleware(limiter, ratelimit.PolicyFrom(cfg.Security.RateLimit))))
	}

	handlers := api.NewHandlers(handlerOpts...)
	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "version", ver.Version)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Stop accepting requests before draining purges so none are dropped
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	if err := invalidator.Close(ctx); err != nil {
		slog.Error("Pending purges cancelled", "in_flight", invalidator.InFlight(), "error", err)
	}

	slog.Info("Server shutdown complete")
}

// newPurger returns the CDN purge client, or a no-op purger when invalidation
// is disabled. Outbound purges are instrumented when metrics are enabled.
func newPurger(cfg *models.Config, ver version.Info) (invalidation.Purger, error) {
	if !cfg.Invalidation.Enabled {
		slog.Info("CDN invalidation disabled, purges will only be logged")
		return invalidation.NopPurger{}, nil
	}

	httpPurger, err := invalidation.NewHTTPPurger(invalidation.HTTPPurgerConfig{
		Endpoint:        cfg.Invalidation.Endpoint,
		Token:           cfg.Invalidation.Token,
		UserAgent:       ver.UserAgent(),
		BreakerFailures: cfg.Invalidation.BreakerFailures,
		BreakerTimeout:  cfg.Invalidation.BreakerTimeout,
	})
	if err != nil {
		return nil, err
	}

	var purger invalidation.Purger = httpPurger
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedPurger(purger)
		if err != nil {
			return nil, err
		}
		purger = instrumented
	}
	return purger, nil
}

// newLimiter builds the configured rate limiter. When the Redis store cannot
// be reached at startup the service falls back to the in-process store,
// except in production where a per-instance limit is not acceptable.
func newLimiter(ctx context.Context, cfg *models.Config) (ratelimit.Limiter, error) {
	rlCfg := cfg.Security.RateLimit
	limiterCfg := ratelimit.ConfigFrom(rlCfg)

	var limiter ratelimit.Limiter
	if rlCfg.Store == models.RateLimitStoreRedis {
		redisLimiter, err := newRedisLimiter(ctx, cfg)
		switch {
		case err == nil:
			limiter = redisLimiter
		case cfg.IsProduction():
			return nil, fmt.Errorf("redis rate limit store: %w", err)
		default:
			slog.Warn("Redis rate limit store unavailable, falling back to memory", "addr", cfg.Redis.Addr, "error", err)
		}
	}

	if limiter == nil {
		if cfg.IsProduction() {
			slog.Warn("In-memory rate limiting in production, limits apply per instance")
		}
		memoryLimiter, err := ratelimit.NewMemoryLimiter(limiterCfg)
		if err != nil {
			return nil, err
		}
		limiter = memoryLimiter
	}

	slog.Info("Rate limiter initialized",
		"store", limiter.Store(),
		"limit", rlCfg.Limit,
		"interval", rlCfg.Interval,
		"fail_open", rlCfg.FailOpen,
	)

	if !cfg.Metrics.Enabled {
		return limiter, nil
	}
	instrumented, err := observability.NewInstrumentedLimiter(limiter)
	if err != nil {
		limiter.Close()
		return nil, err
	}
	return instrumented, nil
}

func newRedisLimiter(ctx context.Context, cfg *models.Config) (*ratelimit.RedisLimiter, error) {
	rlCfg := cfg.Security.RateLimit
	limiter, err := ratelimit.NewRedisLimiter(ratelimit.NewRedisClient(cfg.Redis), ratelimit.ConfigFrom(rlCfg),
		ratelimit.WithKeyPrefix(rlCfg.KeyPrefix),
		ratelimit.WithBackendTimeout(rlCfg.BackendTimeout),
	)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := limiter.Ping(pingCtx); err != nil {
		limiter.Close()
		return nil, err
	}
	return limiter, nil
}

// seedBootstrapKey inserts the configured bootstrap key into storage if it
// does not already exist. It is a no-op when BootstrapKey is empty.
func seedBootstrapKey(ctx context.Context, store storage.Storage, cfg *models.Config) error {
	raw := cfg.Security.BootstrapKey
	if raw == "" {
		return nil
	}
	hash := models.HashAPIKey(raw)
	if _, err := store.GetAPIKeyByHash(ctx, hash); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("look up bootstrap key: %w", err)
	}
	key := models.NewAPIKey(models.NewKeyID(), "bootstrap", raw, []string{models.PermissionAdmin})
	if err := store.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("seed bootstrap key: %w", err)
	}
	slog.Info("bootstrap API key seeded", "id", key.ID, "prefix", key.Prefix)
	return nil
}

// Package models - Service configuration and operational settings.
// This file defines the configuration tree for every cachegate component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, security, cache, etc.)
// - Defaults that run locally without Redis, a CDN or a database
// - Validation catches misconfigurations before any listener is opened
// - Every distributed dependency has an in-process fallback for development
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Rate limit store constants
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// EnvironmentProduction is the deployment environment in which the in-memory
// rate limit fallback is not allowed.
const EnvironmentProduction = "production"

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP listener settings
// - Storage: invalidation audit log and API key persistence
// - Security: authentication and rate limiting
// - Redis: shared backend for the distributed rate limiter
// - Cache: response annotation defaults and per-route cache rules
// - Invalidation: CDN tag purge endpoint
// - Hints: resource hints published for storefront pages
// - Upstream: origin API the content routes proxy to
// - Logging, Metrics, Observability: operational telemetry
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	Cache         CacheConfig         `yaml:"cache" json:"cache"`
	Invalidation  InvalidationConfig  `yaml:"invalidation" json:"invalidation"`
	Hints         HintsConfig         `yaml:"hints" json:"hints"`
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type SecurityConfig struct {
	EnableAuth   bool            `yaml:"enable_auth" json:"enable_auth"`
	BootstrapKey string          `yaml:"bootstrap_key" json:"-"`
	RateLimit    RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig configures the sliding-window limiter applied to inbound requests.
// Limit requests are allowed per Interval for each client token; at most
// MaxTrackedTokens tokens are remembered by the in-memory store.
type RateLimitConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	Store            string        `yaml:"store" json:"store"`
	Limit            int           `yaml:"limit" json:"limit"`
	Interval         time.Duration `yaml:"interval" json:"interval"`
	MaxTrackedTokens int           `yaml:"max_tracked_tokens" json:"max_tracked_tokens"`
	FailOpen         bool          `yaml:"fail_open" json:"fail_open"`
	BackendTimeout   time.Duration `yaml:"backend_timeout" json:"backend_timeout"`
	KeyPrefix        string        `yaml:"key_prefix" json:"key_prefix"`
	ExemptPaths      []string      `yaml:"exempt_paths" json:"exempt_paths"`
}

type RedisConfig struct {
	Addr       string `yaml:"addr" json:"addr"`
	Password   string `yaml:"password" json:"-"`
	DB         int    `yaml:"db" json:"db"`
	PoolSize   int    `yaml:"pool_size" json:"pool_size"`
	TLSEnabled bool   `yaml:"tls_enabled" json:"tls_enabled"`
}

// CacheConfig holds annotation defaults and the per-route cache rules used by
// the content proxy. Rules are matched by longest path prefix.
type CacheConfig struct {
	DefaultTTL      time.Duration `yaml:"default_ttl" json:"default_ttl"`
	SkipHeader      string        `yaml:"skip_header" json:"skip_header"`
	IncludeMetadata bool          `yaml:"include_metadata" json:"include_metadata"`
	Rules           []CacheRule   `yaml:"rules" json:"rules"`
}

type CacheRule struct {
	Prefix string        `yaml:"prefix" json:"prefix"`
	TTL    time.Duration `yaml:"ttl" json:"ttl"`
	Tags   []string      `yaml:"tags" json:"tags"`
	Skip   bool          `yaml:"skip" json:"skip"`
}

// InvalidationConfig configures the CDN purge client. Rate and Burst throttle
// outbound purge calls; the circuit breaker opens after BreakerFailures
// consecutive failures and stays open for BreakerTimeout.
type InvalidationConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Endpoint        string        `yaml:"endpoint" json:"endpoint"`
	Token           string        `yaml:"token" json:"-"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	Rate            float64       `yaml:"rate" json:"rate"`
	Burst           int           `yaml:"burst" json:"burst"`
	BreakerFailures uint32        `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" json:"breaker_timeout"`
}

type HintsConfig struct {
	PreconnectOrigins []string `yaml:"preconnect_origins" json:"preconnect_origins"`
	CriticalImages    []string `yaml:"critical_images" json:"critical_images"`
	CriticalFonts     []string `yaml:"critical_fonts" json:"critical_fonts"`
	CriticalScripts   []string `yaml:"critical_scripts" json:"critical_scripts"`
	Prefetch          []string `yaml:"prefetch" json:"prefetch"`
}

type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Environment string        `yaml:"environment" json:"environment"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration that runs locally with no external services.
//
// Default Values Rationale:
// - 10 requests per minute per client, 500 tracked clients (matches the storefront API limits)
// - 60 second default cache TTL, X-Skip-Cache bypass header
// - Memory rate limit store and memory storage
// - CDN invalidation disabled until an endpoint is configured
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Security: SecurityConfig{
			EnableAuth: false,
			RateLimit: RateLimitConfig{
				Enabled:          true,
				Store:            RateLimitStoreMemory,
				Limit:            10,
				Interval:         time.Minute,
				MaxTrackedTokens: 500,
				FailOpen:         false,
				BackendTimeout:   500 * time.Millisecond,
				KeyPrefix:        "cachegate:rl",
				ExemptPaths:      []string{"/health", "/api/v1/health"},
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Cache: CacheConfig{
			DefaultTTL: 60 * time.Second,
			SkipHeader: "X-Skip-Cache",
			Rules:      []CacheRule{},
		},
		Invalidation: InvalidationConfig{
			Enabled:         false,
			Timeout:         10 * time.Second,
			Rate:            5,
			Burst:           10,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Hints: HintsConfig{},
		Upstream: UpstreamConfig{
			BaseURL: "http://localhost:3000",
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "cachegate",
			Environment: "development",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

// IsProduction reports whether the service runs in the production environment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Observability.Environment, EnvironmentProduction)
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.Store == RateLimitStoreRedis {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("invalid redis config: %w", err)
		}
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("invalid cache config: %w", err)
	}

	if err := c.Invalidation.Validate(); err != nil {
		return fmt.Errorf("invalid invalidation config: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
		return nil
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
}

func (sec *SecurityConfig) Validate() error {
	rl := sec.RateLimit
	if !rl.Enabled {
		return nil
	}

	if rl.Store != RateLimitStoreMemory && rl.Store != RateLimitStoreRedis {
		return fmt.Errorf("invalid rate limit store: %s", rl.Store)
	}
	if rl.Limit <= 0 {
		return errors.New("rate limit must be positive")
	}
	if rl.Interval < time.Millisecond {
		return errors.New("rate limit interval must be at least 1ms")
	}
	if rl.MaxTrackedTokens <= 0 {
		return errors.New("max tracked tokens must be positive")
	}
	if rl.BackendTimeout < 0 {
		return errors.New("rate limit backend timeout cannot be negative")
	}

	return nil
}

func (rc *RedisConfig) Validate() error {
	if rc.Addr == "" {
		return errors.New("redis address is required when the rate limit store is redis")
	}
	if rc.DB < 0 {
		return errors.New("redis db cannot be negative")
	}
	if rc.PoolSize < 0 {
		return errors.New("redis pool size cannot be negative")
	}
	return nil
}

func (cc *CacheConfig) Validate() error {
	if cc.DefaultTTL < 0 {
		return errors.New("default cache TTL cannot be negative")
	}

	if strings.TrimSpace(cc.SkipHeader) == "" {
		return errors.New("skip header cannot be empty")
	}

	seen := make(map[string]bool, len(cc.Rules))
	for i, rule := range cc.Rules {
		if !strings.HasPrefix(rule.Prefix, "/") {
			return fmt.Errorf("cache rule %d: prefix must start with /", i)
		}
		if seen[rule.Prefix] {
			return fmt.Errorf("cache rule %d: duplicate prefix %s", i, rule.Prefix)
		}
		seen[rule.Prefix] = true
		if rule.TTL < 0 {
			return fmt.Errorf("cache rule %d: TTL cannot be negative", i)
		}
		for _, tag := range rule.Tags {
			if strings.TrimSpace(tag) == "" {
				return fmt.Errorf("cache rule %d: tags cannot be empty", i)
			}
		}
	}

	return nil
}

func (ic *InvalidationConfig) Validate() error {
	if !ic.Enabled {
		return nil
	}

	if ic.Endpoint == "" {
		return errors.New("purge endpoint is required when invalidation is enabled")
	}
	if ic.Timeout <= 0 {
		return errors.New("purge timeout must be positive")
	}
	if ic.Rate <= 0 {
		return errors.New("purge rate must be positive")
	}
	if ic.Burst <= 0 {
		return errors.New("purge burst must be positive")
	}

	return nil
}

func (uc *UpstreamConfig) Validate() error {
	if uc.BaseURL == "" {
		return errors.New("upstream base URL cannot be empty")
	}
	if !strings.HasPrefix(uc.BaseURL, "http://") && !strings.HasPrefix(uc.BaseURL, "https://") {
		return fmt.Errorf("upstream base URL must be http or https: %s", uc.BaseURL)
	}
	if uc.Timeout < 0 {
		return errors.New("upstream timeout cannot be negative")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !oneOf(lc.Level, "debug", "info", "warn", "error") {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !oneOf(lc.Format, "json", "text") {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !oneOf(lc.Output, "stdout", "stderr", "file") {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}

	if !oc.Tracing.Enabled {
		return nil
	}

	if !oneOf(oc.Tracing.Exporter, "stdout", "otlp") {
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}
	if oc.Tracing.Exporter == "otlp" && oc.Tracing.OTLPEndpoint == "" {
		return errors.New("OTLP endpoint is required when the otlp exporter is used")
	}
	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("trace sample rate must be between 0 and 1")
	}

	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

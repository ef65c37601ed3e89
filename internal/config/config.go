package config

import (
	"cachegate/internal/models"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "CACHEGATE_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from CACHEGATE_* environment variables.
// Values that fail to parse are ignored with a warning and the previous value is kept.
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envInt("PORT", &config.Server.Port)
	envString("HOST", &config.Server.Host)
	envDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &config.Server.TLSKeyFile)

	// Storage configuration
	envString("STORAGE_TYPE", &config.Storage.Type)
	envString("DATABASE_DSN", &config.Storage.Database.DSN)
	envInt("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	envInt("DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)

	// Security configuration
	envBool("ENABLE_AUTH", &config.Security.EnableAuth)
	envString("BOOTSTRAP_KEY", &config.Security.BootstrapKey)

	// Rate limiting
	rl := &config.Security.RateLimit
	envBool("RATE_LIMIT_ENABLED", &rl.Enabled)
	envString("RATE_LIMIT_STORE", &rl.Store)
	envInt("RATE_LIMIT", &rl.Limit)
	envDuration("RATE_LIMIT_INTERVAL", &rl.Interval)
	envInt("RATE_LIMIT_MAX_TRACKED_TOKENS", &rl.MaxTrackedTokens)
	envBool("RATE_LIMIT_FAIL_OPEN", &rl.FailOpen)
	envDuration("RATE_LIMIT_BACKEND_TIMEOUT", &rl.BackendTimeout)

	// Redis configuration
	envString("REDIS_ADDR", &config.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Redis.Password)
	envInt("REDIS_DB", &config.Redis.DB)
	envInt("REDIS_POOL_SIZE", &config.Redis.PoolSize)
	envBool("REDIS_TLS_ENABLED", &config.Redis.TLSEnabled)

	// Cache annotation
	envDuration("CACHE_DEFAULT_TTL", &config.Cache.DefaultTTL)
	envString("CACHE_SKIP_HEADER", &config.Cache.SkipHeader)
	envBool("CACHE_INCLUDE_METADATA", &config.Cache.IncludeMetadata)

	// CDN invalidation
	envBool("INVALIDATION_ENABLED", &config.Invalidation.Enabled)
	envString("INVALIDATION_ENDPOINT", &config.Invalidation.Endpoint)
	envString("INVALIDATION_TOKEN", &config.Invalidation.Token)
	envDuration("INVALIDATION_TIMEOUT", &config.Invalidation.Timeout)

	// Resource hints
	envList("HINTS_PRECONNECT_ORIGINS", &config.Hints.PreconnectOrigins)

	// Upstream origin
	envString("UPSTREAM_BASE_URL", &config.Upstream.BaseURL)
	envDuration("UPSTREAM_TIMEOUT", &config.Upstream.Timeout)

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)

	// Observability
	envString("ENVIRONMENT", &config.Observability.Environment)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring invalid integer environment variable", "variable", EnvPrefix+name, "value", v)
		return
	}
	*dst = n
}

func envDuration(name string, dst *time.Duration) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Ignoring invalid duration environment variable", "variable", EnvPrefix+name, "value", v)
		return
	}
	*dst = d
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func envList(name string, dst *[]string) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	config.Security.BootstrapKey = "cg_your-bootstrap-key-here"
	config.Security.EnableAuth = true

	config.Cache.IncludeMetadata = true
	config.Cache.Rules = []models.CacheRule{
		{Prefix: "/products", TTL: 5 * time.Minute, Tags: []string{"products"}},
		{Prefix: "/cart", Skip: true},
	}

	config.Invalidation.Endpoint = "https://cdn.example.com/purge"

	config.Hints = models.HintsConfig{
		PreconnectOrigins: []string{"https://cdn.example.com", "https://fonts.gstatic.com"},
		CriticalFonts:     []string{"/fonts/inter-var.woff2"},
		CriticalImages:    []string{"/images/hero.webp"},
		Prefetch:          []string{"/products"},
	}

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

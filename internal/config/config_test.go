package config

import (
	"cachegate/internal/models"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	return configFile
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	configFile := writeConfig(t, `
server:
  port: 8081
  host: "localhost"
  read_timeout: 15s

security:
  enable_auth: true
  rate_limit:
    enabled: true
    store: "memory"
    limit: 100
    interval: 30s
    max_tracked_tokens: 1000
    fail_open: true

cache:
  default_ttl: 120s
  skip_header: "X-Bypass-Cache"
  include_metadata: true
  rules:
    - prefix: "/products"
      ttl: 300s
      tags: ["products"]
    - prefix: "/cart"
      skip: true

hints:
  preconnect_origins: ["https://cdn.example.com"]
  critical_fonts: ["/fonts/inter.woff2"]

logging:
  level: "debug"
  format: "text"
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 8081, config.Server.Port)
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 15*time.Second, config.Server.ReadTimeout)
	// Unset keys keep their defaults
	assert.Equal(t, 30*time.Second, config.Server.WriteTimeout)

	assert.True(t, config.Security.EnableAuth)
	assert.Equal(t, 100, config.Security.RateLimit.Limit)
	assert.Equal(t, 30*time.Second, config.Security.RateLimit.Interval)
	assert.Equal(t, 1000, config.Security.RateLimit.MaxTrackedTokens)
	assert.True(t, config.Security.RateLimit.FailOpen)

	assert.Equal(t, 120*time.Second, config.Cache.DefaultTTL)
	assert.Equal(t, "X-Bypass-Cache", config.Cache.SkipHeader)
	assert.True(t, config.Cache.IncludeMetadata)
	require.Len(t, config.Cache.Rules, 2)
	assert.Equal(t, models.CacheRule{Prefix: "/products", TTL: 5 * time.Minute, Tags: []string{"products"}}, config.Cache.Rules[0])
	assert.True(t, config.Cache.Rules[1].Skip)

	assert.Equal(t, []string{"https://cdn.example.com"}, config.Hints.PreconnectOrigins)
	assert.Equal(t, []string{"/fonts/inter.woff2"}, config.Hints.CriticalFonts)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
}

func TestLoad_WithDefaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, models.NewDefaultConfig(), config)
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	t.Setenv("CACHEGATE_PORT", "9999")
	t.Setenv("CACHEGATE_HOST", "127.0.0.1")
	t.Setenv("CACHEGATE_ENABLE_AUTH", "true")
	t.Setenv("CACHEGATE_LOG_LEVEL", "warn")
	t.Setenv("CACHEGATE_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("CACHEGATE_REDIS_PASSWORD", "s3cret")
	t.Setenv("CACHEGATE_RATE_LIMIT", "25")
	t.Setenv("CACHEGATE_RATE_LIMIT_INTERVAL", "10s")
	t.Setenv("CACHEGATE_RATE_LIMIT_STORE", "redis")
	t.Setenv("CACHEGATE_CACHE_DEFAULT_TTL", "90s")
	t.Setenv("CACHEGATE_HINTS_PRECONNECT_ORIGINS", "https://a.example.com, ,https://b.example.com")

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.True(t, config.Security.EnableAuth)
	assert.Equal(t, "warn", config.Logging.Level)
	assert.Equal(t, "redis.internal:6380", config.Redis.Addr)
	assert.Equal(t, "s3cret", config.Redis.Password)
	assert.Equal(t, 25, config.Security.RateLimit.Limit)
	assert.Equal(t, 10*time.Second, config.Security.RateLimit.Interval)
	assert.Equal(t, models.RateLimitStoreRedis, config.Security.RateLimit.Store)
	assert.Equal(t, 90*time.Second, config.Cache.DefaultTTL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, config.Hints.PreconnectOrigins)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	configFile := writeConfig(t, `
security:
  rate_limit:
    limit: 50
`)
	t.Setenv("CACHEGATE_RATE_LIMIT", "5")

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, 5, config.Security.RateLimit.Limit)
}

func TestLoad_InvalidEnvironmentValueIsIgnored(t *testing.T) {
	t.Setenv("CACHEGATE_RATE_LIMIT", "lots")
	t.Setenv("CACHEGATE_RATE_LIMIT_INTERVAL", "soon")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, config.Security.RateLimit.Limit)
	assert.Equal(t, time.Minute, config.Security.RateLimit.Interval)
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/non/existent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configFile := writeConfig(t, "server:\n  port: [not an int\n")

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestLoad_InvalidConfiguration(t *testing.T) {
	configFile := writeConfig(t, `
security:
  rate_limit:
    limit: -1
`)

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "rate limit must be positive")
}

func TestLoad_EmptyConfigFile(t *testing.T) {
	configFile := writeConfig(t, "")

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
}

func TestSaveExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.example.yaml")

	require.NoError(t, SaveExample(path))

	config, err := Load(path)
	require.NoError(t, err)
	assert.True(t, config.Security.EnableAuth)
	assert.Equal(t, "cg_your-bootstrap-key-here", config.Security.BootstrapKey)
	require.Len(t, config.Cache.Rules, 2)
	assert.Equal(t, "/products", config.Cache.Rules[0].Prefix)
	assert.Equal(t, 5*time.Minute, config.Cache.Rules[0].TTL)
}

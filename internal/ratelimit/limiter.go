// Package ratelimit provides sliding-window rate limiting for HTTP requests.
// Each client token is allowed Limit requests in any trailing Interval. Two
// interchangeable Limiter implementations exist: MemoryLimiter keeps windows
// in a bounded LRU inside the process, RedisLimiter keeps them in sorted sets
// shared by every instance. Middleware maps results onto X-RateLimit-* headers.
package ratelimit

import (
	"cachegate/internal/models"
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidToken is returned when Check is called with an empty token.
	ErrInvalidToken = errors.New("rate limit token cannot be empty")

	// ErrInvalidConfig is returned when a limiter is built from an invalid Config.
	ErrInvalidConfig = errors.New("invalid rate limit config")

	// ErrBackendUnavailable matches every BackendError via errors.Is.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)

// Limiter decides whether a request identified by token is within its limit.
// A denied request is a normal result with Allowed=false, never an error.
// Implementations must be safe for concurrent use.
type Limiter interface {
	Check(ctx context.Context, token string) (Result, error)

	// Store names the backing store ("memory" or "redis").
	Store() string

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Config is fixed once a limiter is constructed. Interval has millisecond resolution.
type Config struct {
	Limit            int
	Interval         time.Duration
	MaxTrackedTokens int
}

func (c Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive", ErrInvalidConfig)
	}
	if c.Interval < time.Millisecond {
		return fmt.Errorf("%w: interval must be at least 1ms", ErrInvalidConfig)
	}
	if c.MaxTrackedTokens <= 0 {
		return fmt.Errorf("%w: max tracked tokens must be positive", ErrInvalidConfig)
	}
	return nil
}

// ConfigFrom extracts the limiter settings from the service configuration.
func ConfigFrom(cfg models.RateLimitConfig) Config {
	return Config{
		Limit:            cfg.Limit,
		Interval:         cfg.Interval,
		MaxTrackedTokens: cfg.MaxTrackedTokens,
	}
}

func (c Config) intervalMillis() int64 {
	return c.Interval.Milliseconds()
}

// Result is computed fresh for every Check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is the epoch second at which a request made now leaves the window.
	Reset int64
}

// ResetTime returns Reset as a time.Time.
func (r Result) ResetTime() time.Time {
	return time.Unix(r.Reset, 0)
}

// RetryAfter returns the whole seconds a denied client should wait, never less than 1.
func (r Result) RetryAfter(now time.Time) int64 {
	secs := r.Reset - now.Unix()
	if secs < 1 {
		return 1
	}
	return secs
}

// newResult applies the shared window math to n, the number of requests in
// the window including the current one.
func newResult(cfg Config, n int, nowMs int64) Result {
	remaining := cfg.Limit - n
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   n <= cfg.Limit,
		Limit:     cfg.Limit,
		Remaining: remaining,
		Reset:     ceilDiv(nowMs+cfg.intervalMillis(), 1000),
	}
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) == (b < 0) {
		q++
	}
	return q
}

// BackendError reports that the shared store could not answer. Callers choose
// whether to fail open or closed; the limiter never treats it as allowed.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("rate limit backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func (e *BackendError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

package ratelimit

import (
	"cachegate/internal/models"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryLimiter is a per-process sliding-window limiter. Windows are kept in
// an LRU of MaxTrackedTokens entries; when full, the least recently checked
// token is dropped and starts over with an empty window.
//
// Limits are only exact for a single instance. Every process keeps its own
// windows and they reset on restart.
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows *lru.Cache[string, []int64]

	evictions atomic.Uint64
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryLimiter) {
		m.now = now
	}
}

// NewMemoryLimiter creates an in-process limiter for the given config.
func NewMemoryLimiter(cfg Config, opts ...MemoryOption) (*MemoryLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &MemoryLimiter{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	windows, err := lru.NewWithEvict[string, []int64](cfg.MaxTrackedTokens, func(string, []int64) {
		m.evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	m.windows = windows

	return m, nil
}

// Check records a request for token and reports whether it is within the limit.
// Timestamps at or before now-Interval have left the window.
func (m *MemoryLimiter) Check(_ context.Context, token string) (Result, error) {
	if token == "" {
		return Result{}, ErrInvalidToken
	}

	nowMs := m.now().UnixMilli()
	windowStart := nowMs - m.cfg.intervalMillis()

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, _ := m.windows.Peek(token)
	// Counts saturate at Limit+1, so older entries never change a result.
	keep := m.cfg.Limit + 1
	window := make([]int64, 0, min(len(prev)+1, keep))
	for _, ts := range prev {
		if ts > windowStart {
			window = append(window, ts)
		}
	}
	window = append(window, nowMs)
	if len(window) > keep {
		window = window[len(window)-keep:]
	}
	m.windows.Add(token, window)

	return newResult(m.cfg, len(window), nowMs), nil
}

// Store implements Limiter.
func (m *MemoryLimiter) Store() string {
	return models.RateLimitStoreMemory
}

// Ping implements Limiter. The in-process store is always reachable.
func (m *MemoryLimiter) Ping(context.Context) error {
	return nil
}

// Tracked returns the number of tokens currently holding a window.
func (m *MemoryLimiter) Tracked() int {
	return m.windows.Len()
}

// Evictions returns how many tokens were dropped to respect MaxTrackedTokens.
func (m *MemoryLimiter) Evictions() uint64 {
	return m.evictions.Load()
}

// Close releases all tracked windows.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows.Purge()
	return nil
}

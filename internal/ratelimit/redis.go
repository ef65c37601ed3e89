package ratelimit

import (
	"cachegate/internal/models"
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes, records and counts one request atomically.
// Scores are millisecond timestamps; members are unique per request so that
// two requests in the same millisecond are both counted.
//
// KEYS[1] window key
// ARGV[1] now (ms)  ARGV[2] window start (ms, exclusive)
// ARGV[3] entries to keep  ARGV[4] member  ARGV[5] key TTL (ms)
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
redis.call('ZADD', key, ARGV[1], ARGV[4])
redis.call('ZREMRANGEBYRANK', key, 0, -(tonumber(ARGV[3]) + 1))
local count = redis.call('ZCARD', key)
redis.call('PEXPIRE', key, ARGV[5])
return count
`)

// RedisLimiter is a sliding-window limiter shared by every instance through
// Redis. It gives the same results as MemoryLimiter for a single process and
// exact global limits across processes. Decisions are never cached locally.
type RedisLimiter struct {
	client    *redis.Client
	cfg       Config
	prefix    string
	timeout   time.Duration
	now       func() time.Time
	newMember func() string
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithKeyPrefix sets the namespace for window keys. Keys are "<prefix>:<token>".
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisLimiter) {
		r.prefix = prefix
	}
}

// WithBackendTimeout bounds every Check round trip. Zero disables the bound.
func WithBackendTimeout(d time.Duration) RedisOption {
	return func(r *RedisLimiter) {
		r.timeout = d
	}
}

// WithRedisClock overrides the time source.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *RedisLimiter) {
		r.now = now
	}
}

// NewRedisClient builds a go-redis client from the service configuration.
func NewRedisClient(cfg models.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// NewRedisLimiter creates a distributed limiter. The limiter owns client and
// closes it on Close.
func NewRedisLimiter(client *redis.Client, cfg Config, opts ...RedisOption) (*RedisLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
	}

	r := &RedisLimiter{
		client:    client,
		cfg:       cfg,
		prefix:    "cachegate:rl",
		now:       time.Now,
		newMember: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Check records a request for token in Redis and reports whether it is within
// the limit. Any Redis, network or timeout failure is returned as *BackendError.
func (r *RedisLimiter) Check(ctx context.Context, token string) (Result, error) {
	if token == "" {
		return Result{}, ErrInvalidToken
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	nowMs := r.now().UnixMilli()
	intervalMs := r.cfg.intervalMillis()

	count, err := slidingWindowScript.Run(ctx, r.client,
		[]string{r.key(token)},
		nowMs,
		nowMs-intervalMs,
		r.cfg.Limit+1,
		fmt.Sprintf("%d-%s", nowMs, r.newMember()),
		intervalMs,
	).Int64()
	if err != nil {
		return Result{}, &BackendError{Op: "check", Err: err}
	}

	return newResult(r.cfg, int(count), nowMs), nil
}

func (r *RedisLimiter) key(token string) string {
	return r.prefix + ":" + token
}

// Store implements Limiter.
func (r *RedisLimiter) Store() string {
	return models.RateLimitStoreRedis
}

// Ping implements Limiter.
func (r *RedisLimiter) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return &BackendError{Op: "ping", Err: err}
	}
	return nil
}

// Close closes the underlying Redis client.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

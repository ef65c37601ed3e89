// Package invalidation purges tagged responses from the CDN out of band.
//
// Invalidate never blocks and never fails the caller. Each accepted request
// runs in a tracked goroutine that throttles, purges once, logs the outcome
// and writes an audit record. Failed purges are not retried; cached entries
// then expire through their normal TTL.
package invalidation

import (
	"cachegate/internal/models"
	"cachegate/internal/storage"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const auditTimeout = 5 * time.Second

// Config tunes an Invalidator.
type Config struct {
	// Timeout bounds each purge call.
	Timeout time.Duration
	// Rate is the number of purges started per second. Zero disables throttling.
	Rate  float64
	Burst int
}

// ConfigFrom extracts the invalidator settings from the service configuration.
func ConfigFrom(cfg models.InvalidationConfig) Config {
	return Config{
		Timeout: cfg.Timeout,
		Rate:    cfg.Rate,
		Burst:   cfg.Burst,
	}
}

// Invalidator schedules tag purges in the background.
type Invalidator struct {
	purger  Purger
	audit   storage.InvalidationLog
	limiter *rate.Limiter
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	inFlight atomic.Int64
}

// New creates an Invalidator. audit may be nil, in which case outcomes are only logged.
func New(purger Purger, audit storage.InvalidationLog, cfg Config) *Invalidator {
	if purger == nil {
		purger = NopPurger{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Invalidator{
		purger:  purger,
		audit:   audit,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Invalidate schedules a purge of tags and returns its request ID at once.
// Tags are trimmed and deduplicated; when none remain nothing is scheduled
// and the returned ID is empty. After Close it also returns an empty ID.
func (i *Invalidator) Invalidate(tags []string, reason string) string {
	tags = models.NormalizeTags(tags)
	if len(tags) == 0 {
		return ""
	}

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		slog.Warn("Invalidator closed, dropping purge", "tags", tags)
		return ""
	}
	i.wg.Add(1)
	i.mu.Unlock()

	requestID := models.NewRequestID()
	i.inFlight.Add(1)
	go i.run(requestID, tags, reason)
	return requestID
}

func (i *Invalidator) run(requestID string, tags []string, reason string) {
	defer i.wg.Done()
	defer i.inFlight.Add(-1)

	start := time.Now()
	err := i.purge(tags)
	took := time.Since(start)

	if err != nil {
		slog.Error("Cache invalidation failed",
			"request_id", requestID,
			"tags", tags,
			"reason", reason,
			"duration", took,
			"error", err,
		)
	} else {
		slog.Info("Cache invalidated",
			"request_id", requestID,
			"tags", tags,
			"reason", reason,
			"duration", took,
		)
	}

	if i.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(i.ctx), auditTimeout)
	defer cancel()
	rec := models.NewInvalidationRecord(requestID, tags, reason, err, took)
	if err := i.audit.RecordInvalidation(ctx, rec); err != nil {
		slog.Error("Failed to record invalidation",
			"request_id", requestID,
			"error", err,
		)
	}
}

func (i *Invalidator) purge(tags []string) error {
	if err := i.limiter.Wait(i.ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(i.ctx, i.timeout)
	defer cancel()
	return i.purger.Purge(ctx, tags)
}

// InFlight returns the number of purges scheduled but not yet finished.
func (i *Invalidator) InFlight() int64 {
	return i.inFlight.Load()
}

// Close stops accepting purges and waits for in-flight ones. If ctx expires
// first, outstanding purges are cancelled and ctx.Err() is returned once
// they have recorded their outcome.
func (i *Invalidator) Close(ctx context.Context) error {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()

	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		i.cancel()
		return nil
	case <-ctx.Done():
		i.cancel()
		<-done
		return ctx.Err()
	}
}

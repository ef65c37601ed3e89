package invalidation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Purger removes every cached response carrying any of tags from the shared cache.
type Purger interface {
	Purge(ctx context.Context, tags []string) error
}

// PurgerFunc adapts a function to the Purger interface.
type PurgerFunc func(ctx context.Context, tags []string) error

func (f PurgerFunc) Purge(ctx context.Context, tags []string) error {
	return f(ctx, tags)
}

// NopPurger is used when invalidation is disabled. Purges succeed without
// contacting anything.
type NopPurger struct{}

func (NopPurger) Purge(_ context.Context, tags []string) error {
	slog.Debug("Cache invalidation disabled, skipping purge", "tags", tags)
	return nil
}

// PurgeError is returned when the purge API answers with a non-2xx status.
type PurgeError struct {
	StatusCode int
	Body       string
}

func (e *PurgeError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("purge API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("purge API returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPPurgerConfig configures an HTTPPurger.
type HTTPPurgerConfig struct {
	Endpoint  string
	Token     string
	UserAgent string
	Client    *http.Client

	// BreakerFailures consecutive failures open the circuit for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// HTTPPurger posts tag purges to a CDN API. Calls go through a circuit
// breaker so an unavailable CDN fails fast instead of piling up requests.
type HTTPPurger struct {
	endpoint  string
	token     string
	userAgent string
	client    *http.Client
	cb        *gobreaker.CircuitBreaker[struct{}]
}

type purgeRequest struct {
	Tags []string `json:"tags"`
}

// NewHTTPPurger validates cfg and builds a purger.
func NewHTTPPurger(cfg HTTPPurgerConfig) (*HTTPPurger, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("purge endpoint is required")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid purge endpoint %q", cfg.Endpoint)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	p := &HTTPPurger{
		endpoint:  cfg.Endpoint,
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		client:    client,
	}
	p.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "cdn-purge",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return p, nil
}

// Purge sends tags to the purge endpoint. When the circuit is open the call
// fails immediately with gobreaker.ErrOpenState.
func (p *HTTPPurger) Purge(ctx context.Context, tags []string) error {
	_, err := p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.send(ctx, tags)
	})
	return err
}

// State reports the circuit breaker state ("closed", "half-open" or "open").
func (p *HTTPPurger) State() string {
	return p.cb.State().String()
}

func (p *HTTPPurger) send(ctx context.Context, tags []string) error {
	body, err := json.Marshal(purgeRequest{Tags: tags})
	if err != nil {
		return fmt.Errorf("encode purge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build purge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("purge request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &PurgeError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

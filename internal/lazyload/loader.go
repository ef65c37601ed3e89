package lazyload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Loader fetches the real resource.
type Loader interface {
	Load(ctx context.Context, src string) error
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, src string) error

func (f LoaderFunc) Load(ctx context.Context, src string) error {
	return f(ctx, src)
}

// HTTPLoader loads a resource with a GET request. Any non-2xx status is a failure.
type HTTPLoader struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPLoader(timeout time.Duration, userAgent string) *HTTPLoader {
	return &HTTPLoader{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
}

func (l *HTTPLoader) Load(ctx context.Context, src string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", src, err)
	}
	if l.UserAgent != "" {
		req.Header.Set("User-Agent", l.UserAgent)
	}

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("load %s: %w", src, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("load %s: status %d", src, resp.StatusCode)
	}
	return nil
}

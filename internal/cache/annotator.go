// Package cache annotates JSON responses with CDN cache directives.
//
// Nothing is stored here. The annotator runs the producer once per request
// and describes how long a shared cache (CDN or edge) may keep the result,
// which tags it can later be purged by, and whether it must be skipped.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// DefaultTTL applies when Options.TTL is zero.
	DefaultTTL = 60 * time.Second

	// DefaultSkipHeader forces a no-store response when set to "true".
	DefaultSkipHeader = "X-Skip-Cache"

	// NoStore is the Cache-Control value for responses that must not be cached.
	NoStore = "no-store, must-revalidate"

	// metadataTimeFormat is RFC 3339 with millisecond precision.
	metadataTimeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Response header names set by the annotator.
const (
	HeaderCacheControl = "Cache-Control"
	HeaderCacheTag     = "Cache-Tag"
	HeaderCacheTTL     = "X-Cache-TTL"
	HeaderCacheTags    = "X-Cache-Tags"
	HeaderCacheTime    = "X-Cache-Time"
	HeaderCacheSkip    = "X-Cache-Skip"
)

var ErrInvalidOptions = errors.New("invalid cache options")

// Producer fetches the response body. It is called exactly once per Wrap.
type Producer func(ctx context.Context) (any, error)

// Options describe how a single response is annotated.
type Options struct {
	// TTL is the shared-cache lifetime. Zero means the annotator default.
	TTL time.Duration
	// Tags label the response for tag-based purges.
	Tags []string
	// SkipCache marks the response no-store.
	SkipCache bool
	// IncludeMetadata adds the X-Cache-* debug headers.
	IncludeMetadata bool
	// StatusCode defaults to 200.
	StatusCode int
	// Headers are applied after every computed header and override them.
	Headers map[string]string
	// CacheControl replaces the computed directive unless the response is skipped.
	CacheControl string
}

func (o Options) Validate() error {
	if o.TTL < 0 {
		return fmt.Errorf("%w: ttl cannot be negative", ErrInvalidOptions)
	}
	if o.StatusCode != 0 && (o.StatusCode < 100 || o.StatusCode > 599) {
		return fmt.Errorf("%w: invalid status code %d", ErrInvalidOptions, o.StatusCode)
	}
	for _, tag := range o.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("%w: tags cannot be empty", ErrInvalidOptions)
		}
	}
	return nil
}

// AnnotatorConfig holds process-wide defaults.
type AnnotatorConfig struct {
	DefaultTTL      time.Duration
	SkipHeader      string
	IncludeMetadata bool
}

// Annotator wraps producers and computes cache headers for their results.
// It is safe for concurrent use.
type Annotator struct {
	defaultTTL      time.Duration
	skipHeader      string
	includeMetadata bool
	now             func() time.Time
	stats           *Stats
}

// AnnotatorOption configures an Annotator.
type AnnotatorOption func(*Annotator)

// WithClock overrides the time source used for X-Cache-Time.
func WithClock(now func() time.Time) AnnotatorOption {
	return func(a *Annotator) {
		a.now = now
	}
}

func NewAnnotator(cfg AnnotatorConfig, opts ...AnnotatorOption) *Annotator {
	a := &Annotator{
		defaultTTL:      cfg.DefaultTTL,
		skipHeader:      cfg.SkipHeader,
		includeMetadata: cfg.IncludeMetadata,
		now:             time.Now,
	}
	if a.defaultTTL <= 0 {
		a.defaultTTL = DefaultTTL
	}
	if a.skipHeader == "" {
		a.skipHeader = DefaultSkipHeader
	}
	for _, opt := range opts {
		opt(a)
	}
	a.stats = newStats(a.now())
	return a
}

// Wrap runs produce and returns the body with cache headers attached. The
// inbound request may carry the skip header; r may be nil.
//
// When produce fails its error is returned unchanged and no envelope is built.
func (a *Annotator) Wrap(ctx context.Context, r *http.Request, produce Producer, opts Options) (*Envelope, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	skip := opts.SkipCache || a.skipRequested(r)

	body, err := produce(ctx)
	if err != nil {
		a.stats.producerErrors.Add(1)
		return nil, err
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = a.defaultTTL
	}
	ttlSecs := int64(ttl / time.Second)

	status := opts.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	header := make(http.Header)
	switch {
	case skip:
		header.Set(HeaderCacheControl, NoStore)
	case opts.CacheControl != "":
		header.Set(HeaderCacheControl, opts.CacheControl)
	default:
		header.Set(HeaderCacheControl, Directive(ttl))
	}

	tags := strings.Join(opts.Tags, ",")
	if tags != "" {
		header.Set(HeaderCacheTag, tags)
	}

	if opts.IncludeMetadata || a.includeMetadata {
		header.Set(HeaderCacheTTL, strconv.FormatInt(ttlSecs, 10))
		header.Set(HeaderCacheTags, tags)
		header.Set(HeaderCacheTime, a.now().UTC().Format(metadataTimeFormat))
		header.Set(HeaderCacheSkip, strconv.FormatBool(skip))
	}

	for k, v := range opts.Headers {
		header.Set(k, v)
	}

	if skip {
		a.stats.skipped.Add(1)
	} else {
		a.stats.annotated.Add(1)
	}

	return &Envelope{Body: body, Header: header, Status: status}, nil
}

func (a *Annotator) skipRequested(r *http.Request) bool {
	if r == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get(a.skipHeader)), "true")
}

// Stats returns the live counters for this annotator.
func (a *Annotator) Stats() *Stats {
	return a.stats
}

// Directive returns the Cache-Control value for a cacheable response:
// the TTL as s-maxage and half of it, rounded down, as stale-while-revalidate.
func Directive(ttl time.Duration) string {
	secs := int64(ttl / time.Second)
	return fmt.Sprintf("s-maxage=%d, stale-while-revalidate=%d", secs, secs/2)
}

// Stats counts annotation outcomes.
type Stats struct {
	annotated      atomic.Uint64
	skipped        atomic.Uint64
	producerErrors atomic.Uint64
	since          time.Time
}

func newStats(since time.Time) *Stats {
	return &Stats{since: since}
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Annotated      uint64
	Skipped        uint64
	ProducerErrors uint64
	Since          time.Time
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Annotated:      s.annotated.Load(),
		Skipped:        s.skipped.Load(),
		ProducerErrors: s.producerErrors.Load(),
		Since:          s.since,
	}
}

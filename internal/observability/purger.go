package observability

import (
	"cachegate/internal/invalidation"
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Purge outcome labels.
const (
	PurgeSuccess  = "success"
	PurgeFailure  = "failure"
	PurgeRejected = "rejected"
)

// InstrumentedPurger wraps an invalidation.Purger with a span, a latency
// histogram and an outcome counter. Calls refused by an open circuit are
// counted as rejected.
type InstrumentedPurger struct {
	inner    invalidation.Purger
	tracer   trace.Tracer
	duration metric.Float64Histogram
	purges   metric.Int64Counter
}

func NewInstrumentedPurger(inner invalidation.Purger) (*InstrumentedPurger, error) {
	meter := otel.Meter("cachegate/invalidation")

	duration, err := meter.Float64Histogram(
		"invalidation.purge.duration",
		metric.WithDescription("Duration of CDN purge calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	purges, err := meter.Int64Counter(
		"invalidation.purges",
		metric.WithDescription("CDN purge calls by outcome"),
		metric.WithUnit("{purge}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedPurger{
		inner:    inner,
		tracer:   otel.Tracer("cachegate/invalidation"),
		duration: duration,
		purges:   purges,
	}, nil
}

func (p *InstrumentedPurger) Purge(ctx context.Context, tags []string) error {
	ctx, span := p.tracer.Start(ctx, "invalidation.Purge",
		trace.WithAttributes(
			attribute.StringSlice("cache.tags", tags),
			attribute.Int("cache.tag_count", len(tags)),
		),
	)
	defer span.End()

	start := time.Now()
	err := p.inner.Purge(ctx, tags)
	p.duration.Record(ctx, time.Since(start).Seconds())

	outcome := PurgeSuccess
	if err != nil {
		outcome = PurgeFailure
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = PurgeRejected
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	p.purges.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return err
}

package observability

import (
	"cachegate/internal/ratelimit"
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Rate limit decision labels.
const (
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"
	DecisionError   = "error"
)

// InstrumentedLimiter records a span, a latency histogram and a decision
// counter for every Check. Tokens are not recorded; they carry client IPs.
type InstrumentedLimiter struct {
	inner     ratelimit.Limiter
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	decisions metric.Int64Counter
}

func NewInstrumentedLimiter(inner ratelimit.Limiter) (*InstrumentedLimiter, error) {
	meter := otel.Meter("cachegate/ratelimit")

	duration, err := meter.Float64Histogram(
		"ratelimit.check.duration",
		metric.WithDescription("Duration of rate limit checks in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedLimiter{
		inner:     inner,
		tracer:    otel.Tracer("cachegate/ratelimit"),
		duration:  duration,
		decisions: decisions,
	}, nil
}

func (l *InstrumentedLimiter) Check(ctx context.Context, token string) (ratelimit.Result, error) {
	store := l.inner.Store()
	ctx, span := l.tracer.Start(ctx, "ratelimit.Check",
		trace.WithAttributes(attribute.String("ratelimit.store", store)),
	)
	defer span.End()

	start := time.Now()
	res, err := l.inner.Check(ctx, token)
	elapsed := time.Since(start).Seconds()

	decision := DecisionAllowed
	switch {
	case err != nil:
		decision = DecisionError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !res.Allowed:
		decision = DecisionDenied
	}
	if err == nil {
		span.SetAttributes(
			attribute.Bool("ratelimit.allowed", res.Allowed),
			attribute.Int("ratelimit.remaining", res.Remaining),
		)
		span.SetStatus(codes.Ok, "")
	}

	attrs := metric.WithAttributes(
		attribute.String("store", store),
		attribute.String("decision", decision),
	)
	l.duration.Record(ctx, elapsed, metric.WithAttributes(attribute.String("store", store)))
	l.decisions.Add(ctx, 1, attrs)

	return res, err
}

func (l *InstrumentedLimiter) Store() string {
	return l.inner.Store()
}

func (l *InstrumentedLimiter) Ping(ctx context.Context) error {
	return l.inner.Ping(ctx)
}

func (l *InstrumentedLimiter) Close() error {
	return l.inner.Close()
}

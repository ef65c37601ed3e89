package observability

import (
	"cachegate/internal/cache"
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RegisterCacheMetrics exports annotator counters and the number of purges
// in flight as observable instruments. inFlight may be nil.
func RegisterCacheMetrics(stats *cache.Stats, inFlight func() int64) error {
	meter := otel.Meter("cachegate/cache")

	_, err := meter.Int64ObservableCounter(
		"cache.responses",
		metric.WithDescription("Responses annotated by outcome"),
		metric.WithUnit("{response}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			snap := stats.Snapshot()
			o.Observe(int64(snap.Annotated), metric.WithAttributes(attribute.String("outcome", "cacheable")))
			o.Observe(int64(snap.Skipped), metric.WithAttributes(attribute.String("outcome", "skipped")))
			o.Observe(int64(snap.ProducerErrors), metric.WithAttributes(attribute.String("outcome", "producer_error")))
			return nil
		}),
	)
	if err != nil {
		return err
	}

	if inFlight == nil {
		return nil
	}
	_, err = meter.Int64ObservableGauge(
		"invalidation.in_flight",
		metric.WithDescription("CDN purges scheduled but not finished"),
		metric.WithUnit("{purge}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(inFlight())
			return nil
		}),
	)
	return err
}

package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records query cache activity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordFetch records one producer call with its duration and outcome.
	RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, err error)

	// RecordRetry records that a background retry was scheduled.
	RecordRetry(ctx context.Context, meta QueryMeta, delay time.Duration)

	// RecordInvalidation records that a key was cleared by invalidation.
	RecordInvalidation(ctx context.Context, key string)
}

type metricsImpl struct {
	totalCount        metric.Int64Counter
	errorCount        metric.Int64Counter
	durationHist      metric.Float64Histogram
	retryCount        metric.Int64Counter
	invalidationCount metric.Int64Counter
}

// NewMetrics creates a Metrics instance backed by meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	return newMetrics(meter)
}

func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"query.fetch.total",
		metric.WithDescription("Total number of producer calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"query.fetch.errors",
		metric.WithDescription("Total number of failed producer calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"query.fetch.duration_ms",
		metric.WithDescription("Producer call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	retryCount, err := meter.Int64Counter(
		"query.retry.scheduled",
		metric.WithDescription("Total number of background retries scheduled"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	invalidationCount, err := meter.Int64Counter(
		"query.invalidations",
		metric.WithDescription("Total number of keys cleared by invalidation"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:        totalCount,
		errorCount:        errorCount,
		durationHist:      durationHist,
		retryCount:        retryCount,
		invalidationCount: invalidationCount,
	}, nil
}

func (m *metricsImpl) RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(meta.attributes()...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordRetry(ctx context.Context, meta QueryMeta, delay time.Duration) {
	attrs := append(meta.attributes(), attribute.Int64("query.retry.delay_ms", delay.Milliseconds()))
	m.retryCount.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metricsImpl) RecordInvalidation(ctx context.Context, key string) {
	m.invalidationCount.Add(ctx, 1, metric.WithAttributes(attribute.String("query.key", key)))
}

type noopMetrics struct{}

func (m *noopMetrics) RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, err error) {
}

func (m *noopMetrics) RecordRetry(ctx context.Context, meta QueryMeta, delay time.Duration) {}

func (m *noopMetrics) RecordInvalidation(ctx context.Context, key string) {}

package observe

import (
	"context"
	"time"
)

// Middleware wraps producer calls with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Context: the span context is passed to the wrapped function.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
// Nil components are replaced with no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = newNoopTracer()
	}
	if metrics == nil {
		metrics = &noopMetrics{}
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// NopMiddleware returns a Middleware that records nothing.
func NopMiddleware() *Middleware {
	return NewMiddleware(nil, nil, nil)
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger {
	return m.logger
}

// Metrics returns the middleware's metrics recorder.
func (m *Middleware) Metrics() Metrics {
	return m.metrics
}

// Observe runs fn inside a span and records its duration and outcome.
func (m *Middleware) Observe(ctx context.Context, meta QueryMeta, fn func(context.Context) error) error {
	ctx, span := m.tracer.StartSpan(ctx, meta)
	start := time.Now()

	err := fn(ctx)

	duration := time.Since(start)
	m.tracer.EndSpan(span, err)
	m.metrics.RecordFetch(ctx, meta, duration, err)

	logger := m.logger.WithQuery(meta)
	fields := []Field{
		{Key: "duration_ms", Value: float64(duration.Milliseconds())},
	}
	if err != nil {
		fields = append(fields, Field{Key: "error", Value: err.Error()})
		logger.Warn(ctx, "producer failed", fields...)
	} else {
		logger.Debug(ctx, "producer completed", fields...)
	}

	return err
}

// RecordRetry records and logs a scheduled background retry.
func (m *Middleware) RecordRetry(ctx context.Context, meta QueryMeta, delay time.Duration) {
	m.metrics.RecordRetry(ctx, meta, delay)
	m.logger.WithQuery(meta).Debug(ctx, "retry scheduled",
		Field{Key: "delay_ms", Value: delay.Milliseconds()},
	)
}

// RecordInvalidation records and logs an invalidated key.
func (m *Middleware) RecordInvalidation(ctx context.Context, key string, refetch bool) {
	m.metrics.RecordInvalidation(ctx, key)
	m.logger.Info(ctx, "query invalidated",
		Field{Key: "query.key", Value: key},
		Field{Key: "refetch", Value: refetch},
	)
}

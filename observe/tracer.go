package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Kind identifies which runner issued a producer call.
type Kind string

const (
	KindQuery    Kind = "query"
	KindInfinite Kind = "infinite"
	KindMutation Kind = "mutation"
)

// QueryMeta describes one producer call for telemetry purposes.
type QueryMeta struct {
	Key     string // Cache key (empty for mutations)
	Kind    Kind   // Runner kind
	Attempt int    // Retry attempt, 0 for the first call
}

// SpanName returns the deterministic span name for this call.
// Format: query.fetch.<kind>
func (m QueryMeta) SpanName() string {
	return "query.fetch." + string(m.kindOrDefault())
}

func (m QueryMeta) kindOrDefault() Kind {
	if m.Kind == "" {
		return KindQuery
	}
	return m.Kind
}

func (m QueryMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("query.kind", string(m.kindOrDefault())),
	}
	if m.Key != "" {
		attrs = append(attrs, attribute.String("query.key", m.Key))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with query-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a producer call.
	StartSpan(ctx context.Context, meta QueryMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta QueryMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(),
		attribute.Int("query.attempt", meta.Attempt),
		attribute.Bool("query.error", false), // updated in EndSpan
	)

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("query.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

func newNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta QueryMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}

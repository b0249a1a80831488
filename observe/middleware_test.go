package observe

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type recordingMiddleware struct {
	mw     *Middleware
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	logs   *bytes.Buffer
}

func newRecordingMiddleware(t *testing.T) recordingMiddleware {
	t.Helper()
	tracer, sr := newRecordingTracer()
	metrics, reader := newTestMetrics(t)
	var logs bytes.Buffer
	return recordingMiddleware{
		mw:     NewMiddleware(tracer, metrics, NewLoggerWithWriter("debug", &logs)),
		spans:  sr,
		reader: reader,
		logs:   &logs,
	}
}

func TestMiddleware_ObserveSuccess(t *testing.T) {
	r := newRecordingMiddleware(t)
	meta := QueryMeta{Key: "todos", Kind: KindQuery}

	var sawSpan bool
	err := r.mw.Observe(context.Background(), meta, func(ctx context.Context) error {
		sawSpan = trace.SpanFromContext(ctx).SpanContext().IsValid()
		return nil
	})
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if !sawSpan {
		t.Error("wrapped function should receive the span context")
	}

	if got := len(r.spans.Ended()); got != 1 {
		t.Errorf("spans = %d, want 1", got)
	}
	if got := sumValue(t, collect(t, r.reader), "query.fetch.total"); got != 1 {
		t.Errorf("query.fetch.total = %d, want 1", got)
	}

	entries := decodeLines(t, r.logs)
	if len(entries) != 1 || entries[0]["msg"] != "producer completed" || entries[0]["level"] != "debug" {
		t.Errorf("unexpected log entries: %v", entries)
	}
}

func TestMiddleware_ObserveErrorPassthrough(t *testing.T) {
	r := newRecordingMiddleware(t)
	want := errors.New("offline")

	err := r.mw.Observe(context.Background(), QueryMeta{Key: "todos", Kind: KindQuery}, func(context.Context) error {
		return want
	})
	if err != want {
		t.Fatalf("Observe() error = %v, want the producer error unchanged", err)
	}

	if got := sumValue(t, collect(t, r.reader), "query.fetch.errors"); got != 1 {
		t.Errorf("query.fetch.errors = %d, want 1", got)
	}

	e := decodeLines(t, r.logs)[0]
	if e["level"] != "warn" || e["error"] != "offline" {
		t.Errorf("unexpected failure log: %v", e)
	}
}

func TestMiddleware_RecordRetry(t *testing.T) {
	r := newRecordingMiddleware(t)

	r.mw.RecordRetry(context.Background(), QueryMeta{Key: "todos", Kind: KindMutation, Attempt: 1}, 2*time.Second)

	if got := sumValue(t, collect(t, r.reader), "query.retry.scheduled"); got != 1 {
		t.Errorf("query.retry.scheduled = %d, want 1", got)
	}
	e := decodeLines(t, r.logs)[0]
	if e["msg"] != "retry scheduled" || e["delay_ms"] != float64(2000) {
		t.Errorf("unexpected retry log: %v", e)
	}
}

func TestMiddleware_RecordInvalidation(t *testing.T) {
	r := newRecordingMiddleware(t)

	r.mw.RecordInvalidation(context.Background(), "todos", true)

	if got := sumValue(t, collect(t, r.reader), "query.invalidations"); got != 1 {
		t.Errorf("query.invalidations = %d, want 1", got)
	}
	e := decodeLines(t, r.logs)[0]
	if e["query.key"] != "todos" || e["refetch"] != true {
		t.Errorf("unexpected invalidation log: %v", e)
	}
}

func TestNopMiddleware(t *testing.T) {
	mw := NopMiddleware()
	called := false
	err := mw.Observe(context.Background(), QueryMeta{}, func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("Observe() = %v, called = %v", err, called)
	}
	mw.RecordRetry(context.Background(), QueryMeta{}, time.Second)
	mw.RecordInvalidation(context.Background(), "k", false)

	if mw.Logger() == nil || mw.Metrics() == nil {
		t.Error("no-op middleware must expose non-nil components")
	}
}

func TestMiddlewareFromObserver_Nil(t *testing.T) {
	if _, err := MiddlewareFromObserver(nil); !errors.Is(err, ErrNilObserver) {
		t.Fatalf("err = %v, want ErrNilObserver", err)
	}
}

func TestMiddleware_UsesSDKTracerProvider(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	mw := NewMiddleware(NewTracer(tp.Tracer("q")), nil, nil)

	_ = mw.Observe(context.Background(), QueryMeta{Key: "k", Kind: KindMutation}, func(context.Context) error { return nil })

	if got := sr.Ended()[0].Name(); got != "query.fetch.mutation" {
		t.Errorf("span name = %q", got)
	}
}

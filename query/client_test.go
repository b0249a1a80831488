package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jonwraymond/querycache/auth"
	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/health"
	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/resilience"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"negative stale time", Config{StaleTime: -time.Second}, ErrInvalidStaleTime},
		{"negative retry", Config{Retry: resilience.RetryTimes(-1)}, ErrInvalidRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	if c.staleTime != cache.DefaultStaleTime {
		t.Errorf("staleTime = %v, want %v", c.staleTime, cache.DefaultStaleTime)
	}
	if c.retry.Enabled() {
		t.Errorf("retry = %+v, want disabled", c.retry)
	}
	if _, ok := c.scheduler.(*resilience.TimerScheduler); !ok {
		t.Errorf("scheduler = %T, want *resilience.TimerScheduler", c.scheduler)
	}
}

func TestInvalidate_ClearsThenRepopulates(t *testing.T) {
	env := newTestEnv(t, Config{})
	var calls counter
	q, _ := NewQuery(env.client, "todos", func(context.Context) (int, error) {
		return calls.inc(), nil
	})
	if _, err := q.Refetch(context.Background()); err != nil {
		t.Fatalf("Refetch() error = %v", err)
	}

	// Leave an error on the entry so the repopulated state can be checked.
	env.client.Store().SetError("todos", errTest)

	var mu sync.Mutex
	var sawCleared bool
	_, unsubscribe := env.client.Store().Subscribe("todos", func(e cache.Entry) {
		mu.Lock()
		defer mu.Unlock()
		if e.UpdatedAt.IsZero() && e.Data == nil && e.FetchFn == nil {
			sawCleared = true
		}
	})
	defer unsubscribe()

	if err := env.client.Invalidate(context.Background(), "todos"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	if !sawCleared {
		t.Error("entry was not cleared before the refetch")
	}
	want := QueryState[int]{Data: 2, IsSuccess: true, UpdatedAt: env.clock.Now()}
	if diff := cmp.Diff(want, q.State()); diff != "" {
		t.Errorf("State() mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidate_BypassesStaleness(t *testing.T) {
	env := newTestEnv(t, Config{StaleTime: time.Hour})
	var calls counter
	q, _ := NewQuery(env.client, "todos", constProducer(1, &calls))
	_, _ = q.Ensure(context.Background())

	_ = env.client.Invalidate(context.Background(), "todos", "todos")

	if calls.get() != 2 {
		t.Errorf("producer calls = %d, want 2", calls.get())
	}
}

func TestInvalidate_WithoutProducerOnlyClears(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.client.Store().SetData("manual", "v")

	if err := env.client.Invalidate(context.Background(), "manual", "missing"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, ok := env.client.Store().Get("manual"); ok {
		t.Error("key without a producer should be removed")
	}
	if _, ok := env.client.Store().Get("missing"); ok {
		t.Error("invalidating a missing key must not insert it")
	}
}

func TestInvalidate_ReturnsProducerFailure(t *testing.T) {
	env := newTestEnv(t, Config{})
	fail := false
	bad, _ := NewQuery(env.client, "bad", func(context.Context) (int, error) {
		if fail {
			return 0, errTest
		}
		return 1, nil
	})
	var goodCalls counter
	good, _ := NewQuery(env.client, "good", constProducer(1, &goodCalls))

	_, _ = bad.Refetch(context.Background())
	_, _ = good.Refetch(context.Background())
	fail = true

	err := env.client.Invalidate(context.Background(), "bad", "good")
	if !errors.Is(err, errTest) {
		t.Fatalf("Invalidate() error = %v, want errTest", err)
	}
	if goodCalls.get() != 2 {
		t.Errorf("good key refetches = %d, want 2", goodCalls.get())
	}
	if st := bad.State(); st.Err != errTest {
		t.Errorf("bad.State().Err = %v", st.Err)
	}
}

func TestInvalidate_InfiniteQueryStartsOver(t *testing.T) {
	env := newTestEnv(t, Config{})
	q, _ := NewInfiniteQuery(env.client, "feed", pageProducer(&counter{}), PageConfig[string, int]{InitialPageParam: 1})

	for i := 0; i < 3; i++ {
		_, _ = q.FetchNextPage(context.Background())
	}
	if err := env.client.Invalidate(context.Background(), "feed"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	want := InfiniteData[string, int]{Pages: []string{"page-1"}, PageParams: []int{1}}
	if diff := cmp.Diff(want, q.Data()); diff != "" {
		t.Errorf("Data() mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidatePrefix(t *testing.T) {
	env := newTestEnv(t, Config{})
	for _, k := range []string{"user:1", "user:2", "post:1"} {
		env.client.Store().SetData(k, k)
	}

	if err := env.client.InvalidatePrefix(context.Background(), "user:"); err != nil {
		t.Fatalf("InvalidatePrefix() error = %v", err)
	}
	if diff := cmp.Diff([]string{"post:1"}, env.client.Store().Keys()); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
}

func TestScopedKeysAndInvalidateScope(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := auth.WithIdentity(context.Background(), &auth.Identity{Principal: "alice", TenantID: "acme"})
	bob := auth.WithIdentity(context.Background(), &auth.Identity{Principal: "bob", TenantID: "acme"})

	aliceKey := ScopedKey(alice, "profile")
	bobKey := ScopedKey(bob, "profile")
	if aliceKey != "acme/alice/profile" {
		t.Errorf("ScopedKey() = %q", aliceKey)
	}
	if got := ScopedKey(context.Background(), "profile"); got != "profile" {
		t.Errorf("ScopedKey() without identity = %q", got)
	}

	env.client.Store().SetData(aliceKey, "a")
	env.client.Store().SetData(bobKey, "b")

	if err := env.client.InvalidateScope(alice); err != nil {
		t.Fatalf("InvalidateScope() error = %v", err)
	}
	if diff := cmp.Diff([]string{bobKey}, env.client.Store().Keys()); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}

	if err := env.client.InvalidateScope(context.Background()); !errors.Is(err, ErrEmptyScope) {
		t.Errorf("InvalidateScope() without identity error = %v, want ErrEmptyScope", err)
	}
}

func TestKey(t *testing.T) {
	a, err := Key("todos", map[string]any{"page": 2, "done": false})
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	b, _ := Key("todos", map[string]any{"done": false, "page": 2})
	if a != b {
		t.Errorf("Key() not deterministic: %q != %q", a, b)
	}
	if !strings.HasPrefix(a, "todos:") {
		t.Errorf("Key() = %q, want todos: prefix", a)
	}
	if plain, _ := Key("todos"); plain != "todos" {
		t.Errorf("Key(single) = %q", plain)
	}
}

func TestQueryData(t *testing.T) {
	var logs bytes.Buffer
	env := newTestEnv(t, Config{Logger: observe.NewLoggerWithWriter("warn", &logs)})
	env.client.Store().SetData("todos", []string{"a"})

	got, ok := QueryDataAs[[]string](context.Background(), env.client, "todos")
	if !ok || len(got) != 1 {
		t.Errorf("QueryDataAs() = %v, %v", got, ok)
	}
	if _, ok := QueryDataAs[int](context.Background(), env.client, "todos"); ok {
		t.Error("QueryDataAs() with the wrong type should report false")
	}

	if _, ok := env.client.QueryData(context.Background(), "missing"); ok {
		t.Error("QueryData() for a missing key should report false")
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(logs.Bytes()), &entry); err != nil {
		t.Fatalf("expected one warning log line: %v", err)
	}
	if entry["msg"] != "query does not exist" || entry["query.key"] != "missing" {
		t.Errorf("unexpected log entry: %v", entry)
	}
}

func TestClient_Check(t *testing.T) {
	env := newTestEnv(t, Config{})
	ok, _ := NewQuery(env.client, "ok", func(context.Context) (int, error) { return 1, nil })
	bad, _ := NewQuery(env.client, "bad", func(context.Context) (int, error) { return 0, errTest },
		WithRetry(resilience.RetryTimes(1)))

	_, _ = ok.Refetch(context.Background())
	if r := env.client.Check(context.Background()); r.Status != health.StatusHealthy {
		t.Errorf("Check() = %v, want healthy", r.Status)
	}

	_, _ = bad.Refetch(context.Background())
	r := env.client.Check(context.Background())
	if r.Status != health.StatusDegraded {
		t.Errorf("Check() = %v, want degraded", r.Status)
	}
	wantDetails := map[string]any{"keys": 2, "loading": 0, "errored": 1, "pending_retries": 1}
	if diff := cmp.Diff(wantDetails, r.Details); diff != "" {
		t.Errorf("Details mismatch (-want +got):\n%s", diff)
	}

	results, overall := health.CheckAll(context.Background(), env.client)
	if overall != health.StatusDegraded || results["querycache"].Status != health.StatusDegraded {
		t.Errorf("CheckAll() = %v, %v", results, overall)
	}

	_ = env.client.Close()
	r = env.client.Check(context.Background())
	if r.Status != health.StatusUnhealthy || !errors.Is(r.Error, ErrClosed) {
		t.Errorf("Check() after Close = %+v", r)
	}
	if env.sched.Pending() != 0 {
		t.Errorf("Close left %d pending retries", env.sched.Pending())
	}
	if err := env.client.Invalidate(context.Background(), "ok"); !errors.Is(err, ErrClosed) {
		t.Errorf("Invalidate() after Close error = %v", err)
	}
}

func TestClient_Telemetry(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observe.NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	env := newTestEnv(t, Config{
		Middleware: observe.NewMiddleware(observe.NewTracer(tp.Tracer("test")), metrics, nil),
	})
	q, _ := NewQuery(env.client, "todos", func(context.Context) (int, error) { return 0, errTest },
		WithRetry(resilience.RetryTimes(1)))
	_, _ = q.Refetch(context.Background())
	_ = env.client.Invalidate(context.Background(), "todos")

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	for _, s := range spans {
		if s.Name() != "query.fetch.query" {
			t.Errorf("span name = %q", s.Name())
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	want := map[string]int64{
		"query.fetch.total":     2,
		"query.fetch.errors":    2,
		"query.retry.scheduled": 1,
		"query.invalidations":   1,
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					got[m.Name] += dp.Value
				}
			}
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
}

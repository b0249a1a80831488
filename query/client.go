package query

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/health"
	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/resilience"
)

// Config configures a Client. Zero values select the documented defaults.
type Config struct {
	// StaleTime is the staleness window for runners that do not set one.
	// Default: cache.DefaultStaleTime
	StaleTime time.Duration

	// Retry is the retry policy for runners that do not set one.
	// Default: resilience.NoRetry()
	Retry resilience.RetryPolicy

	// Middleware wraps every producer call with tracing, metrics and logs.
	// Default: observe.NopMiddleware()
	Middleware *observe.Middleware

	// Logger receives client events. Default: the middleware's logger.
	Logger observe.Logger

	// Scheduler runs background retries.
	// Default: resilience.NewTimerScheduler()
	Scheduler resilience.Scheduler

	// Clock stamps entries and drives staleness checks.
	// Default: time.Now
	Clock func() time.Time
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.StaleTime < 0 {
		return ErrInvalidStaleTime
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	return nil
}

// Client is an explicit cache instance shared by every runner bound to it.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Lifecycle: Close cancels pending background retries. Operations on a
//     closed client return ErrClosed.
type Client struct {
	store     *cache.Store
	mw        *observe.Middleware
	logger    observe.Logger
	scheduler resilience.Scheduler
	staleTime time.Duration
	retry     resilience.RetryPolicy

	flight singleflight.Group

	mu       sync.Mutex
	inflight map[string]chan struct{}

	closed atomic.Bool
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.StaleTime == 0 {
		cfg.StaleTime = cache.DefaultStaleTime
	}
	if cfg.Middleware == nil {
		cfg.Middleware = observe.NopMiddleware()
	}
	if cfg.Logger == nil {
		cfg.Logger = cfg.Middleware.Logger()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = resilience.NewTimerScheduler()
	}

	return &Client{
		store:     cache.NewStore(cache.WithClock(cfg.Clock)),
		mw:        cfg.Middleware,
		logger:    cfg.Logger,
		scheduler: cfg.Scheduler,
		staleTime: cfg.StaleTime,
		retry:     cfg.Retry,
		inflight:  make(map[string]chan struct{}),
	}, nil
}

// Store returns the underlying cache store.
func (c *Client) Store() *cache.Store {
	return c.store
}

// QueryData returns the cached data for key. A missing key is logged and
// reported with false.
func (c *Client) QueryData(ctx context.Context, key string) (any, bool) {
	e, ok := c.store.Get(key)
	if !ok {
		c.logger.Warn(ctx, "query does not exist", observe.F("query.key", key))
		return nil, false
	}
	return e.Data, e.Data != nil
}

// QueryDataAs returns the cached data for key as T.
func QueryDataAs[T any](ctx context.Context, c *Client, key string) (T, bool) {
	var zero T
	data, ok := c.QueryData(ctx, key)
	if !ok {
		return zero, false
	}
	v, ok := data.(T)
	return v, ok
}

// Invalidate clears each key and refetches it through its bound producer,
// regardless of freshness. Keys without a producer are only cleared.
//
// Refetches run concurrently; Invalidate waits for all of them and returns
// the first failure.
func (c *Client) Invalidate(ctx context.Context, keys ...string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	seen := make(map[string]struct{}, len(keys))
	fetchers := make(map[string]cache.Producer, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		e, _ := c.store.Get(key)
		c.store.Clear(key)
		c.mw.RecordInvalidation(ctx, key, e.FetchFn != nil)
		if e.FetchFn != nil {
			fetchers[key] = e.FetchFn
		}
	}

	var g errgroup.Group
	for key, fetch := range fetchers {
		g.Go(func() error {
			_, err := fetch(ctx)
			if err != nil {
				c.logger.Warn(ctx, "invalidation refetch failed",
					observe.F("query.key", key),
					observe.F("error", err.Error()),
				)
			}
			return err
		})
	}
	return g.Wait()
}

// InvalidatePrefix invalidates every present key starting with prefix.
func (c *Client) InvalidatePrefix(ctx context.Context, prefix string) error {
	return c.Invalidate(ctx, c.store.KeysWithPrefix(prefix)...)
}

// Name returns the health check name.
func (c *Client) Name() string {
	return "querycache"
}

// Check reports the client's health. The client is degraded while any entry
// holds an error and unhealthy once closed.
func (c *Client) Check(ctx context.Context) health.Result {
	start := time.Now()
	if c.closed.Load() {
		return health.Unhealthy("client closed", ErrClosed).WithDuration(time.Since(start))
	}

	var loading, errored int
	statuses := make([]health.Status, 0, c.store.Len())
	for _, key := range c.store.Keys() {
		e, ok := c.store.Get(key)
		if !ok {
			continue
		}
		if e.IsLoading {
			loading++
		}
		if e.HasError() {
			errored++
			statuses = append(statuses, health.StatusDegraded)
		} else {
			statuses = append(statuses, health.StatusHealthy)
		}
	}

	details := map[string]any{
		"keys":    len(statuses),
		"loading": loading,
		"errored": errored,
	}
	if p, ok := c.scheduler.(interface{ Pending() int }); ok {
		details["pending_retries"] = p.Pending()
	}

	var r health.Result
	switch health.Worst(statuses...) {
	case health.StatusHealthy:
		r = health.Healthy("ok")
	default:
		r = health.Degraded(fmt.Sprintf("%d of %d entries in error", errored, len(statuses)))
	}
	return r.WithDetails(details).WithDuration(time.Since(start))
}

// Close cancels pending background retries. It is idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s, ok := c.scheduler.(interface{ Stop() }); ok {
		s.Stop()
	}
	return nil
}

// call runs fn through the telemetry middleware.
func (c *Client) call(ctx context.Context, meta observe.QueryMeta, fn func(context.Context) error) error {
	return c.mw.Observe(ctx, meta, fn)
}

// scheduleRetry consumes one attempt from r and, if allowed, runs task in the
// background after the backoff delay. The task context is detached from the
// caller's cancellation.
func (c *Client) scheduleRetry(ctx context.Context, meta observe.QueryMeta, r *resilience.Retrier, task func(context.Context) error) {
	if c.closed.Load() {
		return
	}

	delay, ok := r.Next()
	if !ok {
		if r.Policy().Enabled() {
			c.logger.WithQuery(meta).Warn(ctx, "retries exhausted",
				observe.F("attempts", r.Attempts()),
			)
		}
		return
	}

	meta.Attempt = r.Attempts()
	c.mw.RecordRetry(ctx, meta, delay)

	bg := context.WithoutCancel(ctx)
	c.scheduler.Schedule(delay, func() {
		if err := task(bg); err != nil {
			c.logger.WithQuery(meta).Warn(bg, "background retry failed",
				observe.F("error", err.Error()),
			)
		}
	})
}

// acquire marks key as having a fetch in flight. It reports false if one
// already is.
func (c *Client) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return false
	}
	c.inflight[key] = make(chan struct{})
	return true
}

// acquireWait blocks until no fetch for key is in flight, then marks one.
func (c *Client) acquireWait(ctx context.Context, key string) error {
	for {
		c.mu.Lock()
		done, busy := c.inflight[key]
		if !busy {
			c.inflight[key] = make(chan struct{})
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) release(key string) {
	c.mu.Lock()
	if done, ok := c.inflight[key]; ok {
		delete(c.inflight, key)
		close(done)
	}
	c.mu.Unlock()
}

func (c *Client) isInFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inflight[key]
	return busy
}

var _ health.Checker = (*Client)(nil)

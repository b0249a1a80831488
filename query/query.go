package query

import (
	"context"
	"time"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/resilience"
)

// QueryConfig holds the resolved settings of a query binding.
type QueryConfig struct {
	// Enabled gates automatic fetching through Ensure.
	// Default: true
	Enabled bool

	// StaleTime is how long a fetched entry stays fresh.
	// Default: the client's StaleTime
	StaleTime time.Duration

	// Retry bounds background retries after a failure.
	// Default: the client's Retry
	Retry resilience.RetryPolicy

	err error
}

// Validate checks the configuration.
func (c QueryConfig) Validate() error {
	if c.err != nil {
		return c.err
	}
	if c.StaleTime < 0 {
		return ErrInvalidStaleTime
	}
	return c.Retry.Validate()
}

// QueryOption configures a Query or InfiniteQuery.
type QueryOption func(*QueryConfig)

// WithEnabled sets whether Ensure may fetch.
func WithEnabled(enabled bool) QueryOption {
	return func(c *QueryConfig) { c.Enabled = enabled }
}

// WithStaleTime sets the staleness window.
func WithStaleTime(d time.Duration) QueryOption {
	return func(c *QueryConfig) { c.StaleTime = d }
}

// WithRetry sets the retry policy.
func WithRetry(p resilience.RetryPolicy) QueryOption {
	return func(c *QueryConfig) { c.Retry = p }
}

// WithRetryValue sets the retry policy from a loosely typed value, as
// accepted by resilience.ParseRetry.
func WithRetryValue(v any) QueryOption {
	return func(c *QueryConfig) {
		p, err := resilience.ParseRetry(v)
		if err != nil {
			c.err = err
			return
		}
		c.Retry = p
	}
}

func (c *Client) queryConfig(opts []QueryOption) (QueryConfig, error) {
	cfg := QueryConfig{
		Enabled:   true,
		StaleTime: c.staleTime,
		Retry:     c.retry,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return QueryConfig{}, err
	}
	return cfg, nil
}

// QueryState is a typed snapshot of a query's cache entry.
type QueryState[T any] struct {
	Data      T
	Err       error
	IsLoading bool
	IsSuccess bool
	UpdatedAt time.Time
}

func stateOf[T any](e cache.Entry) QueryState[T] {
	data, _ := e.Data.(T)
	return QueryState[T]{
		Data:      data,
		Err:       e.Err,
		IsLoading: e.IsLoading,
		IsSuccess: e.IsSuccess,
		UpdatedAt: e.UpdatedAt,
	}
}

// Query binds a key to a single-result producer.
//
// Contract:
//   - Concurrency: safe for concurrent use. Concurrent Ensure calls are
//     coalesced into one producer call; concurrent Refetch calls are not,
//     and the last write to the entry wins.
//   - Errors: producer failures are recorded on the entry and returned
//     unchanged.
type Query[T any] struct {
	client  *Client
	key     string
	fn      func(context.Context) (T, error)
	cfg     QueryConfig
	retrier *resilience.Retrier
}

// NewQuery binds fn to key on client.
func NewQuery[T any](client *Client, key string, fn func(context.Context) (T, error), opts ...QueryOption) (*Query[T], error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if fn == nil {
		return nil, ErrNilProducer
	}
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}
	cfg, err := client.queryConfig(opts)
	if err != nil {
		return nil, err
	}

	return &Query[T]{
		client:  client,
		key:     key,
		fn:      fn,
		cfg:     cfg,
		retrier: resilience.NewRetrier(cfg.Retry),
	}, nil
}

// Key returns the bound key.
func (q *Query[T]) Key() string { return q.key }

// Config returns the resolved configuration.
func (q *Query[T]) Config() QueryConfig { return q.cfg }

// State returns the current entry for the key.
func (q *Query[T]) State() QueryState[T] {
	e, _ := q.client.store.Get(q.key)
	return stateOf[T](e)
}

// Subscribe calls fn after every change to the key's entry. It returns the
// current state and a function that stops the subscription.
func (q *Query[T]) Subscribe(fn func(QueryState[T])) (QueryState[T], func()) {
	current, unsubscribe := q.client.store.Subscribe(q.key, func(e cache.Entry) {
		fn(stateOf[T](e))
	})
	return stateOf[T](current), unsubscribe
}

// IsStale reports whether the entry is outside its staleness window.
func (q *Query[T]) IsStale() bool {
	e, _ := q.client.store.Get(q.key)
	return cache.IsStale(e, q.cfg.StaleTime, q.client.store.Now())
}

// Refetch calls the producer unconditionally.
func (q *Query[T]) Refetch(ctx context.Context) (T, error) {
	if q.client.closed.Load() {
		var zero T
		return zero, ErrClosed
	}
	return q.run(ctx)
}

// Ensure fetches when the query is enabled, its entry is stale and no fetch
// is in flight. It reports whether this call ran the producer; callers merged
// into a concurrent Ensure get false and that call's error.
func (q *Query[T]) Ensure(ctx context.Context) (bool, error) {
	if q.client.closed.Load() {
		return false, ErrClosed
	}
	if !q.cfg.Enabled {
		return false, nil
	}
	e, _ := q.client.store.Get(q.key)
	if !cache.ShouldFetch(e, q.cfg.StaleTime, q.client.store.Now()) {
		return false, nil
	}

	var ran bool
	_, err, _ := q.client.flight.Do(q.key, func() (any, error) {
		ran = true
		return q.run(ctx)
	})
	return ran, err
}

func (q *Query[T]) meta() observe.QueryMeta {
	return observe.QueryMeta{Key: q.key, Kind: observe.KindQuery, Attempt: q.retrier.Attempts()}
}

func (q *Query[T]) run(ctx context.Context) (T, error) {
	store := q.client.store
	store.SetFetchFn(q.key, q.fetchFn)
	store.SetLoading(q.key, true)
	defer store.SetLoading(q.key, false)

	meta := q.meta()
	var data T
	err := q.client.call(ctx, meta, func(ctx context.Context) error {
		var err error
		data, err = q.fn(ctx)
		return err
	})
	if err != nil {
		store.SetError(q.key, err)
		q.client.scheduleRetry(ctx, meta, q.retrier, func(ctx context.Context) error {
			_, err := q.run(ctx)
			return err
		})
		var zero T
		return zero, err
	}

	store.Update(q.key, func(e *cache.Entry) {
		e.Data = data
		e.IsSuccess = true
		e.Err = nil
	})
	q.retrier.Reset()
	return data, nil
}

func (q *Query[T]) fetchFn(ctx context.Context) (any, error) {
	return q.run(ctx)
}

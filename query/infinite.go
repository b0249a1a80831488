package query

import (
	"context"
	"reflect"
	"slices"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/resilience"
)

// InfiniteData is the cached value of an infinite query. Pages[i] was
// fetched with PageParams[i]; both slices always have the same length.
type InfiniteData[T, P any] struct {
	Pages      []T
	PageParams []P
}

// Len returns the number of pages.
func (d InfiniteData[T, P]) Len() int { return len(d.Pages) }

// PageConfig describes how an infinite query walks its pages.
type PageConfig[T, P any] struct {
	// InitialPageParam is used for the first page.
	// Default: the zero value of P
	InitialPageParam P

	// NextPageParam derives the parameter for the page after lastPage.
	// Returning false means there is no next page. When nil, numeric page
	// parameters are incremented by one and any other type cannot advance.
	NextPageParam func(lastPage T, allPages []T, lastPageParam P) (P, bool)
}

// InfiniteState is a typed snapshot of an infinite query's cache entry.
type InfiniteState[T, P any] struct {
	Data      InfiniteData[T, P]
	Err       error
	IsLoading bool
	IsSuccess bool
}

func infiniteDataOf[T, P any](e cache.Entry) InfiniteData[T, P] {
	data, _ := e.Data.(InfiniteData[T, P])
	return data
}

// InfiniteQuery binds a key to a paginated producer.
//
// Contract:
//   - Concurrency: safe for concurrent use. At most one page fetch per key is
//     in flight across all bindings on the client; a call made while one is
//     in flight returns (false, nil) without calling the producer.
//   - Ordering: pages are append-only in fetch order. A background retry
//     appends the page it retries even if a later FetchNextPage already
//     fetched that param, so the param then appears twice.
//   - Invalidation: a fetch that started before the key was cleared does not
//     write its page; the invalidation refetch waits for it and then starts
//     over from InitialPageParam.
//   - Errors: producer failures are recorded on the entry and returned
//     unchanged.
type InfiniteQuery[T, P any] struct {
	client  *Client
	key     string
	fn      func(context.Context, P) (T, error)
	pages   PageConfig[T, P]
	cfg     QueryConfig
	retrier *resilience.Retrier
}

// NewInfiniteQuery binds fn to key on client.
func NewInfiniteQuery[T, P any](client *Client, key string, fn func(context.Context, P) (T, error), pages PageConfig[T, P], opts ...QueryOption) (*InfiniteQuery[T, P], error) {
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

	return &InfiniteQuery[T, P]{
		client:  client,
		key:     key,
		fn:      fn,
		pages:   pages,
		cfg:     cfg,
		retrier: resilience.NewRetrier(cfg.Retry),
	}, nil
}

// Key returns the bound key.
func (q *InfiniteQuery[T, P]) Key() string { return q.key }

// Data returns the cached pages.
func (q *InfiniteQuery[T, P]) Data() InfiniteData[T, P] {
	e, _ := q.client.store.Get(q.key)
	return infiniteDataOf[T, P](e)
}

// State returns the current entry for the key.
func (q *InfiniteQuery[T, P]) State() InfiniteState[T, P] {
	e, _ := q.client.store.Get(q.key)
	return InfiniteState[T, P]{
		Data:      infiniteDataOf[T, P](e),
		Err:       e.Err,
		IsLoading: e.IsLoading,
		IsSuccess: e.IsSuccess,
	}
}

// IsFetching reports whether a page fetch for the key is in flight.
func (q *InfiniteQuery[T, P]) IsFetching() bool {
	return q.client.isInFlight(q.key)
}

// HasNextPage reports whether FetchNextPage can advance. It is true before
// the first page and when no NextPageParam is configured.
func (q *InfiniteQuery[T, P]) HasNextPage() bool {
	data := q.Data()
	if data.Len() == 0 || q.pages.NextPageParam == nil {
		return true
	}
	_, ok := q.pages.NextPageParam(data.Pages[data.Len()-1], data.Pages, data.PageParams[data.Len()-1])
	return ok
}

// FetchPage fetches the page for param and appends it. It reports whether
// the producer was called.
func (q *InfiniteQuery[T, P]) FetchPage(ctx context.Context, param P) (bool, error) {
	if q.client.closed.Load() {
		return false, ErrClosed
	}
	if !q.client.acquire(q.key) {
		return false, nil
	}
	defer q.client.release(q.key)

	return true, q.fetchPage(ctx, param)
}

// FetchNextPage fetches the page after the last cached one, or the initial
// page when none is cached. It is a no-op when there is no next page or a
// fetch is already in flight.
func (q *InfiniteQuery[T, P]) FetchNextPage(ctx context.Context) (bool, error) {
	if q.client.closed.Load() {
		return false, ErrClosed
	}
	if !q.client.acquire(q.key) {
		return false, nil
	}
	defer q.client.release(q.key)

	param, ok, err := q.nextPageParam()
	if err != nil || !ok {
		return false, err
	}
	return true, q.fetchPage(ctx, param)
}

// Ensure fetches the initial page when the query is enabled, stale, not
// loading and holds no pages. A populated infinite query only advances
// through FetchNextPage.
func (q *InfiniteQuery[T, P]) Ensure(ctx context.Context) (bool, error) {
	if q.client.closed.Load() {
		return false, ErrClosed
	}
	if !q.cfg.Enabled {
		return false, nil
	}
	e, _ := q.client.store.Get(q.key)
	if !cache.ShouldFetch(e, q.cfg.StaleTime, q.client.store.Now()) || infiniteDataOf[T, P](e).Len() > 0 {
		return false, nil
	}
	return q.FetchNextPage(ctx)
}

func (q *InfiniteQuery[T, P]) nextPageParam() (P, bool, error) {
	data := q.Data()
	if data.Len() == 0 {
		return q.pages.InitialPageParam, true, nil
	}

	lastParam := data.PageParams[data.Len()-1]
	if q.pages.NextPageParam != nil {
		next, ok := q.pages.NextPageParam(data.Pages[data.Len()-1], data.Pages, lastParam)
		return next, ok, nil
	}

	next, err := incrementParam(lastParam)
	if err != nil {
		var zero P
		return zero, false, err
	}
	return next, true, nil
}

// incrementParam adds one to a numeric page parameter.
func incrementParam[P any](p P) (P, error) {
	next := p
	v := reflect.ValueOf(&next).Elem()
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.SetInt(v.Int() + 1)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		v.SetUint(v.Uint() + 1)
	case reflect.Float32, reflect.Float64:
		v.SetFloat(v.Float() + 1)
	default:
		return p, ErrNoNextPageParam
	}
	return next, nil
}

func (q *InfiniteQuery[T, P]) meta() observe.QueryMeta {
	return observe.QueryMeta{Key: q.key, Kind: observe.KindInfinite, Attempt: q.retrier.Attempts()}
}

// fetchPage must be called with the key acquired. Its writes are dropped if
// the key is cleared while the producer runs.
func (q *InfiniteQuery[T, P]) fetchPage(ctx context.Context, param P) error {
	store := q.client.store
	gen := store.Generation(q.key)
	store.SetFetchFn(q.key, q.fetchFn)
	store.SetLoading(q.key, true)
	defer store.UpdateIfGeneration(q.key, gen, func(e *cache.Entry) {
		e.IsLoading = false
		e.UpdatedAt = store.Now()
	})

	meta := q.meta()
	var page T
	err := q.client.call(ctx, meta, func(ctx context.Context) error {
		var err error
		page, err = q.fn(ctx, param)
		return err
	})
	if err != nil {
		if _, ok := store.UpdateIfGeneration(q.key, gen, func(e *cache.Entry) { e.Err = err }); !ok {
			return err
		}
		q.client.scheduleRetry(ctx, meta, q.retrier, func(ctx context.Context) error {
			if store.Generation(q.key) != gen {
				return nil
			}
			_, err := q.FetchPage(ctx, param)
			return err
		})
		return err
	}

	store.UpdateIfGeneration(q.key, gen, func(e *cache.Entry) {
		cur := infiniteDataOf[T, P](*e)
		e.Data = InfiniteData[T, P]{
			Pages:      append(slices.Clip(cur.Pages), page),
			PageParams: append(slices.Clip(cur.PageParams), param),
		}
		e.IsSuccess = true
		e.Err = nil
	})
	q.retrier.Reset()
	return nil
}

// fetchFn is the producer bound to the entry. Invalidation clears the pages,
// so it starts over from the initial page once any in-flight fetch is done.
func (q *InfiniteQuery[T, P]) fetchFn(ctx context.Context) (any, error) {
	if err := q.client.acquireWait(ctx, q.key); err != nil {
		return nil, err
	}
	defer q.client.release(q.key)

	if err := q.fetchPage(ctx, q.pages.InitialPageParam); err != nil {
		return nil, err
	}
	return q.Data(), nil
}

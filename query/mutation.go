package query

import (
	"context"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/resilience"
)

// MutationConfig configures a Mutation. Callbacks are optional and run
// synchronously inside Mutate: on the caller's goroutine for direct calls and
// on the scheduler's goroutine for background retries.
type MutationConfig[D any] struct {
	// OnSuccess receives the result of a successful call.
	OnSuccess func(D)

	// OnError receives the error of a failed call.
	OnError func(error)

	// OnSettled runs after OnSuccess or OnError.
	OnSettled func()

	// Retry bounds background re-invocations after a failure.
	// Default: resilience.NoRetry()
	Retry resilience.RetryPolicy
}

// MutationState is the state of a mutation's latest call. Data keeps the
// last successful result until another call succeeds; IsSuccess reports
// whether the latest call succeeded.
type MutationState[D any] struct {
	Data      D
	Err       error
	IsLoading bool
	IsSuccess bool
}

// stateKey is the single key of a mutation's private state store.
const stateKey = "mutation"

func mutationStateOf[D any](e cache.Entry) MutationState[D] {
	data, _ := e.Data.(D)
	return MutationState[D]{
		Data:      data,
		Err:       e.Err,
		IsLoading: e.IsLoading,
		IsSuccess: e.IsSuccess,
	}
}

// Mutation runs a one-shot write. Mutations are not cached by key; each
// Mutation holds only the state of its latest call.
//
// Contract:
//   - Concurrency: safe for concurrent use. Concurrent calls race and the
//     last write to the state wins.
//   - Errors: producer failures are returned unchanged.
type Mutation[V, D any] struct {
	client  *Client
	fn      func(context.Context, V) (D, error)
	cfg     MutationConfig[D]
	state   *cache.Store
	retrier *resilience.Retrier
}

// NewMutation binds fn to client.
func NewMutation[V, D any](client *Client, fn func(context.Context, V) (D, error), cfg MutationConfig[D]) (*Mutation[V, D], error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if fn == nil {
		return nil, ErrNilProducer
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	return &Mutation[V, D]{
		client:  client,
		fn:      fn,
		cfg:     cfg,
		state:   cache.NewStore(cache.WithClock(client.store.Now)),
		retrier: resilience.NewRetrier(cfg.Retry),
	}, nil
}

// State returns the state of the latest call.
func (m *Mutation[V, D]) State() MutationState[D] {
	e, _ := m.state.Get(stateKey)
	return mutationStateOf[D](e)
}

// Subscribe calls fn after every state change. It returns the current state
// and a function that stops the subscription.
func (m *Mutation[V, D]) Subscribe(fn func(MutationState[D])) (MutationState[D], func()) {
	current, unsubscribe := m.state.Subscribe(stateKey, func(e cache.Entry) {
		fn(mutationStateOf[D](e))
	})
	return mutationStateOf[D](current), unsubscribe
}

// Mutate calls the producer with vars. On failure a background retry with
// the same vars is scheduled per the retry policy and the error is returned.
func (m *Mutation[V, D]) Mutate(ctx context.Context, vars V) (D, error) {
	var zero D
	if m.client.closed.Load() {
		return zero, ErrClosed
	}

	now := m.state.Now()
	m.state.Update(stateKey, func(e *cache.Entry) {
		e.IsLoading = true
		e.IsSuccess = false
		e.UpdatedAt = now
		e.Err = nil
	})
	defer m.state.SetLoading(stateKey, false)

	meta := observe.QueryMeta{Kind: observe.KindMutation, Attempt: m.retrier.Attempts()}
	var data D
	err := m.client.call(ctx, meta, func(ctx context.Context) error {
		var err error
		data, err = m.fn(ctx, vars)
		return err
	})

	if err != nil {
		m.state.SetError(stateKey, err)
		if m.cfg.OnError != nil {
			m.cfg.OnError(err)
		}
		m.client.scheduleRetry(ctx, meta, m.retrier, func(ctx context.Context) error {
			_, err := m.Mutate(ctx, vars)
			return err
		})
	} else {
		m.state.Update(stateKey, func(e *cache.Entry) {
			e.Data = data
			e.IsSuccess = true
		})
		m.retrier.Reset()
		if m.cfg.OnSuccess != nil {
			m.cfg.OnSuccess(data)
		}
	}

	if m.cfg.OnSettled != nil {
		m.cfg.OnSettled()
	}

	if err != nil {
		return zero, err
	}
	return data, nil
}

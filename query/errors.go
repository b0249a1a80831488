package query

import (
	"errors"

	"github.com/jonwraymond/querycache/resilience"
)

// Sentinel errors for query operations.
var (
	// ErrNilClient is returned when a runner is constructed without a client.
	ErrNilClient = errors.New("query: client is nil")

	// ErrNilProducer is returned when a runner is constructed without a producer.
	ErrNilProducer = errors.New("query: producer is nil")

	// ErrInvalidStaleTime is returned for a negative staleness window.
	ErrInvalidStaleTime = errors.New("query: stale time must not be negative")

	// ErrInvalidRetry is returned for a retry setting that cannot be used.
	ErrInvalidRetry = resilience.ErrInvalidRetry

	// ErrNoNextPageParam is returned when the next page parameter cannot be
	// derived: no NextPageParam function was configured and the page
	// parameter type is not numeric.
	ErrNoNextPageParam = errors.New("query: no next page parameter")

	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("query: client is closed")

	// ErrEmptyScope is returned when a scoped invalidation has no identity
	// to scope to.
	ErrEmptyScope = errors.New("query: no identity scope in context")
)

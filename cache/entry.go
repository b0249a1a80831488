package cache

import "time"

// Entry is the cached state for one key.
//
// A key may be loading while still holding Data or Err from a previous
// cycle; readers should not treat IsLoading as exclusive of the other fields.
type Entry struct {
	// Data is the last successful result.
	Data any

	// Err is the last failure. It is cleared on the next successful completion.
	Err error

	// IsLoading is true while a fetch for the key is in flight.
	IsLoading bool

	// IsSuccess is true once at least one fetch completed successfully.
	// It is not reset when a later fetch starts.
	IsSuccess bool

	// UpdatedAt is the time of the last loading-state transition.
	// The zero value means the key has never been fetched.
	UpdatedAt time.Time

	// FetchFn is the producer bound to the key, used to refetch on invalidation.
	FetchFn Producer
}

// HasError reports whether the entry holds a failure.
func (e Entry) HasError() bool {
	return e.Err != nil
}

package resilience

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultRetryLimit is the number of retries scheduled when retry is
	// enabled without an explicit count.
	DefaultRetryLimit = 3

	// BaseDelay is the delay before the first retry.
	BaseDelay = time.Second

	// MaxDelay caps the delay between retries.
	MaxDelay = 30 * time.Second
)

// RetryPolicy bounds how many background retries follow a failure.
type RetryPolicy struct {
	// Limit is the maximum number of retries. Zero disables retries.
	Limit int
}

// NoRetry returns a policy that never retries.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// RetryDefault returns a policy that retries up to DefaultRetryLimit times.
func RetryDefault() RetryPolicy {
	return RetryPolicy{Limit: DefaultRetryLimit}
}

// RetryTimes returns a policy that retries up to n times.
func RetryTimes(n int) RetryPolicy {
	return RetryPolicy{Limit: n}
}

// ParseRetry converts a loosely typed retry setting into a policy.
// nil and false disable retries, true enables DefaultRetryLimit retries and
// a non-negative integer sets the limit.
func ParseRetry(v any) (RetryPolicy, error) {
	switch val := v.(type) {
	case nil:
		return NoRetry(), nil
	case bool:
		if val {
			return RetryDefault(), nil
		}
		return NoRetry(), nil
	case int:
		return checkedLimit(int64(val))
	case int32:
		return checkedLimit(int64(val))
	case int64:
		return checkedLimit(val)
	case float64:
		// JSON numbers decode as float64.
		if val != float64(int64(val)) {
			return RetryPolicy{}, fmt.Errorf("%w: %v is not a whole number", ErrInvalidRetry, val)
		}
		return checkedLimit(int64(val))
	default:
		return RetryPolicy{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidRetry, v)
	}
}

func checkedLimit(n int64) (RetryPolicy, error) {
	if n < 0 {
		return RetryPolicy{}, fmt.Errorf("%w: negative limit %d", ErrInvalidRetry, n)
	}
	return RetryTimes(int(n)), nil
}

// Enabled reports whether the policy schedules any retries.
func (p RetryPolicy) Enabled() bool {
	return p.Limit > 0
}

// Validate checks the policy.
func (p RetryPolicy) Validate() error {
	if p.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidRetry, p.Limit)
	}
	return nil
}

// BackoffDelay returns the delay before retry number attempt (0-indexed):
// BaseDelay doubled per attempt, capped at MaxDelay.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 1s<<5 already exceeds the cap; avoid shifting into overflow.
	if attempt >= 5 {
		return MaxDelay
	}
	delay := BaseDelay << attempt
	if delay > MaxDelay {
		delay = MaxDelay
	}
	return delay
}

// Retrier tracks the retry attempts of one binding.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - The counter only moves forward until Reset, which callers invoke after a
// successful completion.
type Retrier struct {
	mu      sync.Mutex
	policy  RetryPolicy
	attempt int
}

// NewRetrier creates a retrier for policy.
func NewRetrier(policy RetryPolicy) *Retrier {
	return &Retrier{policy: policy}
}

// Next reports whether another retry is allowed and, if so, the delay to wait
// before it. Each allowed call consumes one attempt.
func (r *Retrier) Next() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attempt >= r.policy.Limit {
		return 0, false
	}
	delay := BackoffDelay(r.attempt)
	r.attempt++
	return delay, true
}

// Attempts returns the number of retries consumed so far.
func (r *Retrier) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

// Reset starts a fresh series.
func (r *Retrier) Reset() {
	r.mu.Lock()
	r.attempt = 0
	r.mu.Unlock()
}

// Policy returns the retrier's policy.
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

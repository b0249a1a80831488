package resilience

import "errors"

// Sentinel errors for resilience operations.
var (
	// ErrInvalidRetry is returned when a retry setting cannot be interpreted.
	ErrInvalidRetry = errors.New("resilience: invalid retry setting")
)

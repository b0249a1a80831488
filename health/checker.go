package health

import (
	"context"
	"time"
)

// Status represents the health status of a component.
// Larger values are worse.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Worst returns the most severe of the given statuses, or StatusHealthy
// when none are given.
func Worst(statuses ...Status) Status {
	worst := StatusHealthy
	for _, s := range statuses {
		if s > worst {
			worst = s
		}
	}
	return worst
}

// Result is the outcome of a health check.
type Result struct {
	Status    Status
	Message   string
	Details   map[string]any
	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

// Healthy creates a healthy result.
func Healthy(message string) Result {
	return Result{Status: StatusHealthy, Message: message, Timestamp: time.Now()}
}

// Degraded creates a degraded result.
func Degraded(message string) Result {
	return Result{Status: StatusDegraded, Message: message, Timestamp: time.Now()}
}

// Unhealthy creates an unhealthy result.
func Unhealthy(message string, err error) Result {
	return Result{Status: StatusUnhealthy, Message: message, Error: err, Timestamp: time.Now()}
}

// WithDetails adds details to a result.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// WithDuration sets the duration on a result.
func (r Result) WithDuration(d time.Duration) Result {
	r.Duration = d
	return r
}

// WithTimestamp overrides the time the check was performed.
func (r Result) WithTimestamp(ts time.Time) Result {
	r.Timestamp = ts
	return r
}

// Checker reports the health of one component.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: Check should return promptly once ctx is done.
//   - Errors: failures are reported through Result, never by panicking.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc creates a new CheckerFunc.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name returns the name of this checker.
func (f *CheckerFunc) Name() string { return f.name }

// Check performs the health check.
func (f *CheckerFunc) Check(ctx context.Context) Result { return f.fn(ctx) }

// CheckAll runs every checker and returns the results keyed by name with the
// overall status. Duplicate names keep the last result.
func CheckAll(ctx context.Context, checkers ...Checker) (map[string]Result, Status) {
	results := make(map[string]Result, len(checkers))
	overall := StatusHealthy
	for _, c := range checkers {
		start := time.Now()
		r := c.Check(ctx)
		if r.Duration == 0 {
			r.Duration = time.Since(start)
		}
		results[c.Name()] = r
		overall = Worst(overall, r.Status)
	}
	return results, overall
}

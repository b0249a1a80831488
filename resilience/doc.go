// Package resilience provides the retry policy used after producer failures.
//
// Retries never block the failing call. A failure consults the binding's
// Retrier; when another attempt is allowed the operation is handed to a
// Scheduler, which re-runs it from the top after an exponential delay while
// the original caller still receives the error.
//
// # Delays
//
// Attempt n (0-indexed) waits BackoffDelay(n): 1s, 2s, 4s, 8s, 16s and then
// 30s for every later attempt.
//
// # Usage
//
//	policy, err := resilience.ParseRetry(true) // up to 3 retries
//	if err != nil {
//	    return err
//	}
//	retrier := resilience.NewRetrier(policy)
//	sched := resilience.NewTimerScheduler()
//	defer sched.Stop()
//
//	if err := op(ctx); err != nil {
//	    if delay, ok := retrier.Next(); ok {
//	        sched.Schedule(delay, func() { _ = op(context.WithoutCancel(ctx)) })
//	    }
//	    return err
//	}
//	retrier.Reset()
package resilience

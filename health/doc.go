// Package health provides health checking primitives.
//
// A Checker reports a Result whose Status is Healthy, Degraded or Unhealthy.
// The query client implements Checker so it can be polled alongside other
// components:
//
//	results, overall := health.CheckAll(ctx, client, otherChecker)
//	if overall != health.StatusHealthy {
//	    log.Printf("cache: %s", results[client.Name()].Message)
//	}
package health

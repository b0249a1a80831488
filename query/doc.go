// Package query runs caller-supplied producers against a shared cache.
//
// A Client owns the cache.Store and everything the runners share: the retry
// scheduler, telemetry middleware and the in-flight set for paginated
// queries. Runners bind a key and a producer to a client:
//
//	client, _ := query.New(query.Config{})
//	defer client.Close()
//
//	todos, _ := query.NewQuery(client, "todos", fetchTodos,
//	    query.WithStaleTime(10*time.Second),
//	    query.WithRetry(resilience.RetryDefault()),
//	)
//	if _, err := todos.Ensure(ctx); err != nil {
//	    // the error is also recorded in todos.State().Err
//	}
//
// Query is the single-result runner, InfiniteQuery accumulates pages and
// Mutation executes one-shot writes. Client.Invalidate clears keys and
// refetches them through their bound producers.
//
// Failures are returned to the caller unchanged and, when a retry policy is
// configured, re-attempted in the background with exponential backoff.
package query

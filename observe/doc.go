// Package observe provides observability primitives for query cache activity.
//
// It is a pure instrumentation library: every producer call made by a query
// runner passes through Middleware.Observe, which opens a span, records call
// counts, errors and durations, and writes a structured log line. Exporter
// setup lives in the exporters subpackage.
package observe

// Package observability provides an OpenTelemetry metrics extension.
// The MetricsExtension implements lifecycle hooks to record system-wide
// counters for job enqueue, completion, failure, retry, and dispatch
// run outcomes.
//
// For per-execution tracing and duration metrics, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability

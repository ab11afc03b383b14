// Package observability provides a Prometheus metrics extension for the
// orchestrator. The MetricsExtension implements lifecycle hooks to
// record counters for run, step, hook, and schedule events plus
// run and step duration histograms, all exposed via the standard
// /metrics endpoint.
//
// For per-step tracing and OpenTelemetry metrics, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability

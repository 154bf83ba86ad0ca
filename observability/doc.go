// Package observability provides an OpenTelemetry metrics extension for
// the engine. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for experiment starts, completions, failures,
// cancellations, phase outcomes, and recovery attempts.
//
// For per-call tracing and latency metrics on backend traffic, see the
// middleware package: middleware.Tracing() and middleware.Metrics().
package observability

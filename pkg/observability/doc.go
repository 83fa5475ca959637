// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing setup, and panic/shutdown helpers shared by the
// governance components and the governd daemon.
package observability

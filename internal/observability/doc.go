// Package observability provides structured logging, Prometheus metrics,
// and OpenTelemetry tracing for the parley platform.
//
// The three concerns share one package so that components receive a single
// observability handle at construction time instead of wiring three.
package observability

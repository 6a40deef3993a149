// Package telemetry provides the observability surface shared by every
// DotCelery binary.
//
// Includes:
//   - logging.go — structured logging via slog
//   - metrics.go — Prometheus counters/gauges/histograms
//   - tracing.go — OpenTelemetry tracer provider setup
//
// Every binary shares one logging format; the worker, beat and outbox
// binaries expose metrics on /metrics.
package telemetry

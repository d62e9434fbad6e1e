// Package telemetry provides the logging, tracing and metrics of a dofigen
// run.
//
// # Logging
//
// Logging uses zerolog. The CLI writes human-readable console logs to
// stderr so that generated files can be piped from stdout. Every run gets a
// run_id field, and component loggers add a component field:
//
//	logger := tel.Logger.NewComponentLogger("loader")
//	logger.WithResource("https://example.com/base.yml").Debug("Resource loaded")
//
// A logger travels in the context with WithContext and FromContext.
//
// # Tracing
//
// Tracing uses OpenTelemetry. Each phase of a run (load, lint, generate,
// lock) is a span started with StartOperation. Spans are exported to
// stdout or to an OTLP gRPC collector when tracing is enabled; otherwise
// they are dropped.
//
// # Metrics
//
// Metrics use a dedicated Prometheus registry: loaded resources, pinned
// images, lint messages by level, errors by kind and phase durations. A
// command-line run has no scrape endpoint, so the registry is written in the
// text exposition format to MetricsConfig.TextFile on Shutdown, ready for the
// node exporter textfile collector.
package telemetry

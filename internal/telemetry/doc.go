// Package telemetry provides OpenTelemetry tracing and metrics export.
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry), logger)
//	defer tel.Shutdown(ctx)
//	ctx, span := tel.Tracer("aceql/orchestrator").Start(ctx, "orchestrator.Run")
//
// Spans and counters are exported over OTLP (gRPC or HTTP). Prometheus
// scraping of the same process is served separately by /metrics.
package telemetry

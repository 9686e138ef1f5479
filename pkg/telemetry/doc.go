// Package telemetry provides logging, tracing, metrics, and events for
// clientrb.
//
// Structured logging uses zerolog, tracing uses OpenTelemetry with a stdout
// or OTLP gRPC exporter, metrics are Prometheus collectors on a private
// registry, and converge events are fanned out in-process to subscribers
// such as the state store.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// # Metrics
//
//	renders_total{result}               render attempts (ok, error)
//	render_duration_seconds             render latency
//	reloads_total{result}               reload triggers (ok, error)
//	resources_applied_total{type,changed}
//	errors_total{kind}                  errors by attribute or converge kind
//	last_converge_timestamp_seconds
//
// Every Metrics method is a no-op on a disabled or nil *Metrics, so callers
// never need to check whether metrics are on.
//
// # Events
//
//	tel.Events.Subscribe(func(e telemetry.Event) { ... }, telemetry.FilterByType(telemetry.EventTypeReloadTriggered))
//	tel.Events.PublishConvergeStarted(runID, sources)
package telemetry

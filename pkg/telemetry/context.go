package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry creates every telemetry component from cfg.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that records nothing and logs nowhere.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false
	logger := NewLoggerWithWriter(LoggingConfig{Level: "fatal", Format: "json"}, discard{})
	tracer, _ := NewTracer(TracingConfig{}, cfg.ServiceName, cfg.ServiceVersion)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(cfg.Events)
	return &Telemetry{Logger: logger, Tracer: tracer, Metrics: metrics, Events: events, Config: cfg}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// WithContext adds the telemetry instance and its logger to ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown drains events and flushes spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// Operation is an instrumented unit of work: a span plus a start time.
type Operation struct {
	Ctx   context.Context
	Span  trace.Span
	start time.Time
}

// StartOperation starts a span named operation using the telemetry in ctx.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *Operation {
	op := &Operation{Ctx: ctx, Span: trace.SpanFromContext(ctx), start: time.Now()}
	if tel := FromTelemetryContext(ctx); tel != nil {
		op.Ctx, op.Span = tel.Tracer.StartSpan(ctx, operation, attrs...)
	}
	return op
}

// Elapsed returns the time since the operation started.
func (o *Operation) Elapsed() time.Duration {
	return time.Since(o.start)
}

// End records the outcome on the span and ends it.
func (o *Operation) End(err error) {
	if err != nil {
		RecordError(o.Span, err)
	} else {
		RecordSuccess(o.Span)
	}
	o.Span.End()
}

package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for renders and converges. A Metrics
// built from a disabled config, or a nil *Metrics, records nothing.
type Metrics struct {
	config MetricsConfig

	renders          *prometheus.CounterVec
	renderDuration   prometheus.Histogram
	reloads          *prometheus.CounterVec
	resourcesApplied *prometheus.CounterVec
	errors           *prometheus.CounterVec
	lastConverge     prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	ns := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		renders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "renders_total",
				Help:      "Total number of client.rb renders by result",
			},
			[]string{"result"},
		),
		renderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "render_duration_seconds",
				Help:      "Duration of a client.rb render in seconds",
				Buckets:   buckets,
			},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "reloads_total",
				Help:      "Total number of client reloads triggered by result",
			},
			[]string{"result"},
		),
		resourcesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "resources_applied_total",
				Help:      "Total number of resources applied by type and whether they changed",
			},
			[]string{"type", "changed"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "errors_total",
				Help:      "Total number of errors by kind",
			},
			[]string{"kind"},
		),
		lastConverge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "last_converge_timestamp_seconds",
				Help:      "Unix time of the last completed converge",
			},
		),
	}

	registry.MustRegister(
		m.renders,
		m.renderDuration,
		m.reloads,
		m.resourcesApplied,
		m.errors,
		m.lastConverge,
	)
	return m, nil
}

// RecordRender records a render attempt and its duration.
func (m *Metrics) RecordRender(result string, duration time.Duration) {
	if m == nil || m.renders == nil {
		return
	}
	m.renders.WithLabelValues(result).Inc()
	m.renderDuration.Observe(duration.Seconds())
}

// RecordReload records a reload trigger.
func (m *Metrics) RecordReload(result string) {
	if m == nil || m.reloads == nil {
		return
	}
	m.reloads.WithLabelValues(result).Inc()
}

// RecordResourceApplied records one resource application.
func (m *Metrics) RecordResourceApplied(resourceType string, changed bool) {
	if m == nil || m.resourcesApplied == nil {
		return
	}
	m.resourcesApplied.WithLabelValues(resourceType, strconv.FormatBool(changed)).Inc()
}

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m == nil || m.errors == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// RecordConvergeCompleted stamps the completion time of a converge.
func (m *Metrics) RecordConvergeCompleted(at time.Time) {
	if m == nil || m.lastConverge == nil {
		return
	}
	m.lastConverge.Set(float64(at.Unix()))
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	if m == nil || m.registry == nil || addr == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Str("path", path).Msg("Serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

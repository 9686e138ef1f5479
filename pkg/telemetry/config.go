package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for clientrb.
type Config struct {
	// ServiceName identifies the process in traces.
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the build version.
	ServiceVersion string `yaml:"service_version"`

	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing contains tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Metrics contains metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Events contains event publishing configuration.
	Events EventsConfig `yaml:"events"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `yaml:"level"`

	// Format is console or json.
	Format string `yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `yaml:"output"`

	// EnableCaller adds file:line caller information.
	EnableCaller bool `yaml:"enable_caller"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	Enabled bool `yaml:"enabled"`

	// Exporter is otlp, stdout, or none.
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP gRPC endpoint.
	Endpoint string `yaml:"endpoint"`

	// SamplingRate is the trace sampling ratio (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate"`

	// ExportTimeout bounds a single export.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// Headers are sent with every OTLP export.
	Headers map[string]string `yaml:"headers"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `yaml:"insecure"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address for the metrics HTTP endpoint.
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path for metrics.
	Path string `yaml:"path"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`

	// Buckets are the render duration histogram buckets in seconds.
	Buckets []float64 `yaml:"buckets"`
}

// EventsConfig configures converge event publishing.
type EventsConfig struct {
	// Enabled controls whether events are published.
	Enabled bool `yaml:"enabled"`

	// BufferSize is the capacity of each async subscriber queue.
	BufferSize int `yaml:"buffer_size"`

	// EnableAsync delivers events from a background goroutine.
	EnableAsync bool `yaml:"enable_async"`
}

// DefaultConfig returns the default telemetry configuration. Tracing and the
// metrics endpoint are off; metrics are still collected in-process.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "clientrb",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "stdout",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Headers:       make(map[string]string),
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: "",
			Path:          "/metrics",
			Namespace:     "clientrb",
			Buckets:       []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		Events: EventsConfig{
			Enabled:     true,
			BufferSize:  256,
			EnableAsync: false,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Events.Enabled && c.Events.EnableAsync && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}

	return nil
}

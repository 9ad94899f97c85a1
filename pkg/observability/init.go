// Package observability wires OpenTelemetry tracing for sync runs. Tracing is
// off unless enabled; when off, spans are no-ops.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/nebula-cdk"

var (
	mu       sync.RWMutex
	tracer   trace.Tracer = otel.Tracer(instrumentationName)
	provider *sdktrace.TracerProvider
)

// Config contains tracing configuration
type Config struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	ServiceName    string  `mapstructure:"service_name" yaml:"service_name,omitempty"`
	ServiceVersion string  `mapstructure:"service_version" yaml:"service_version,omitempty"`
	Environment    string  `mapstructure:"environment" yaml:"environment,omitempty"`
	SamplingRate   float64 `mapstructure:"sampling_rate" yaml:"sampling_rate,omitempty"`
	// Exporter is "stdout" (written to stderr, since stdout carries records) or "none".
	Exporter     string        `mapstructure:"exporter" yaml:"exporter,omitempty"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout,omitempty"`
}

// DefaultConfig returns tracing disabled with sensible values for when it is enabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:  "nebula-cdk",
		Environment:  getEnv("ENVIRONMENT", "development"),
		SamplingRate: 1.0,
		Exporter:     "stdout",
		BatchTimeout: 5 * time.Second,
	}
}

// Init installs a tracer provider according to cfg.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		return nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "", "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(writer()))
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	case "none":
		return nil
	default:
		return fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}
	return InitWithExporter(ctx, cfg, exporter)
}

// InitWithExporter installs a tracer provider that sends spans to exporter.
func InitWithExporter(ctx context.Context, cfg Config, exporter sdktrace.SpanExporter) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "nebula-cdk"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	mu.Lock()
	provider = tp
	tracer = tp.Tracer(instrumentationName)
	mu.Unlock()
	return nil
}

// Tracer returns the active tracer.
func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	return tracer
}

// Flush exports spans buffered by the batcher.
func Flush(ctx context.Context) error {
	mu.RLock()
	tp := provider
	mu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.ForceFlush(ctx)
}

// Shutdown flushes pending spans and releases the provider.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	tracer = otel.Tracer(instrumentationName)
	mu.Unlock()

	if tp == nil {
		return nil
	}
	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer: %w", err)
	}
	return nil
}

func writer() io.Writer {
	return os.Stderr
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

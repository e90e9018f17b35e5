// Package telemetry wires OpenTelemetry tracing and Prometheus-backed
// metrics for the catalog service: a tracer provider for span-per-run
// instrumentation and a metrics collector recording run/step/delivery
// counters, histograms, and gauges.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures a Provider.
type Config struct {
	// Enabled controls whether tracing/metrics are active. When false,
	// Setup returns a no-op Provider.
	Enabled bool

	ServiceName    string
	ServiceVersion string

	// Sampling controls which traces are recorded.
	Sampling SamplingConfig

	// Exporters lists the span destinations spans are batched out to.
	// An empty list means spans are sampled and created but never
	// exported anywhere.
	Exporters []ExporterConfig
}

// SamplingConfig controls which traces are recorded.
type SamplingConfig struct {
	Enabled            bool
	Rate               float64
	AlwaysSampleErrors bool
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "catalog",
		ServiceVersion: "unknown",
		Sampling: SamplingConfig{
			Enabled:            false,
			Rate:               1.0,
			AlwaysSampleErrors: true,
		},
	}
}

// Provider wraps the OpenTelemetry SDK: a tracer provider batching spans
// to the destinations in Config.Exporters, and a meter provider
// exporting via an embedded Prometheus registry.
type Provider struct {
	tp      *sdktrace.TracerProvider
	mp      *metric.MeterProvider
	metrics *Metrics
}

// Setup constructs a Provider from cfg. When cfg.Enabled is false, it
// returns a Provider backed by the OpenTelemetry no-op implementations.
func Setup(cfg Config, opts ...sdktrace.TracerProviderOption) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	sampler := newSampler(cfg.Sampling)
	allOpts := append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}, opts...)

	batchers, err := batcherOptions(context.Background(), cfg.Exporters)
	if err != nil {
		return nil, fmt.Errorf("build span exporters: %w", err)
	}
	allOpts = append(allOpts, batchers...)

	tp := sdktrace.NewTracerProvider(allOpts...)
	otel.SetTracerProvider(tp)

	promExporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(promExporter),
	)

	metrics, err := newMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("create metrics collector: %w", err)
	}

	return &Provider{tp: tp, mp: mp, metrics: metrics}, nil
}

// Tracer returns a tracer for the given instrumentation scope. Safe to
// call on a no-op Provider (cfg.Enabled == false): returns a no-op
// tracer via the global OpenTelemetry default.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p.tp == nil {
		return otel.GetTracerProvider().Tracer(name)
	}
	return p.tp.Tracer(name)
}

// Metrics returns the workflow metrics collector. Safe to call on a
// no-op Provider: returns a Metrics whose instruments silently discard.
func (p *Provider) Metrics() *Metrics {
	if p.metrics == nil {
		return noopMetrics()
	}
	return p.metrics
}

// MetricsHandler returns an HTTP handler exposing the Prometheus
// scrape endpoint. The OpenTelemetry Prometheus exporter registers its
// metrics with the default Prometheus registry.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes any pending spans/metrics and releases resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return err
	}
	if p.mp != nil {
		return p.mp.Shutdown(ctx)
	}
	return nil
}

// ForceFlush exports all pending spans and metrics synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.ForceFlush(ctx); err != nil {
		return err
	}
	if p.mp != nil {
		return p.mp.ForceFlush(ctx)
	}
	return nil
}

package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// ExporterConfig describes one destination spans are batched out to.
// Type selects the wire protocol; Endpoint and Headers are ignored by
// the console type.
type ExporterConfig struct {
	Type     string // "otlp-grpc", "otlp-http", or "console"
	Endpoint string
	Insecure bool
	Headers  map[string]string
}

// newSpanExporter builds the sdktrace.SpanExporter for one ExporterConfig.
func newSpanExporter(ctx context.Context, cfg ExporterConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Type {
	case "otlp-grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(
				credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(ctx, opts...)

	case "otlp-http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)

	case "console", "":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithPrettyPrint())

	default:
		return nil, fmt.Errorf("unknown exporter type %q", cfg.Type)
	}
}

// batcherOptions builds one sdktrace.TracerProviderOption per configured
// exporter, each wrapped in its own batch span processor.
func batcherOptions(ctx context.Context, exporters []ExporterConfig) ([]sdktrace.TracerProviderOption, error) {
	var opts []sdktrace.TracerProviderOption
	for _, ec := range exporters {
		exp, err := newSpanExporter(ctx, ec)
		if err != nil {
			return nil, fmt.Errorf("build %s exporter: %w", ec.Type, err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return opts, nil
}

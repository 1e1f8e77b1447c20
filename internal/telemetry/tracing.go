package telemetry

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/dunamismax/pixelfolio/internal/config"
)

const defaultServiceName = "pixelfolio"

// Shutdown flushes pending spans. It is safe to call when tracing is off.
type Shutdown func(context.Context) error

// SetupTracing installs the global tracer provider for a CLI run. Spans are
// exported in batches; the stdout exporter writes to out (stderr when nil)
// so generated output on stdout stays clean.
func SetupTracing(ctx context.Context, cfg config.TelemetryConfig, out io.Writer, logger *log.Logger) (Shutdown, error) {
	exporterName := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	if exporterName == "" || exporterName == "none" {
		return func(context.Context) error { return nil }, nil
	}

	var (
		exp sdktrace.SpanExporter
		err error
	)

	switch exporterName {
	case "stdout":
		if out == nil {
			out = os.Stderr
		}
		exp, err = stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
	case "otlp":
		if strings.TrimSpace(cfg.OTLPEndpoint) == "" {
			return nil, fmt.Errorf("otlp trace exporter requires endpoint")
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	if logger != nil {
		logger.Printf("tracing exporter enabled type=%s service=%s", exporterName, serviceName)
	}

	return tp.Shutdown, nil
}

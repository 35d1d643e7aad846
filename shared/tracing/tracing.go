// Package tracing configures OpenTelemetry tracing for the service
package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans created by this module
const TracerName = "github.com/cuongbtq/content-publisher"

// Exporter names accepted in Config.Exporter
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config holds tracing configuration
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64
	Exporter       string    // none, stdout
	Output         string    // stdout, stderr, or file path for the stdout exporter
	Writer         io.Writer // overrides Output when set
}

// Init registers an SDK tracer provider as the global provider. The exporter named in config is
// added to any exporters passed in. When tracing is disabled the global no-op provider stays in
// place and the returned shutdown function does nothing.
func Init(config *Config, exporters ...sdktrace.SpanExporter) (func(context.Context) error, error) {
	if !config.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", config.ServiceName),
		attribute.String("service.version", config.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build tracing resource: %w", err)
	}

	exp, closer, err := newExporter(config)
	if err != nil {
		return nil, err
	}
	if exp != nil {
		exporters = append(exporters, exp)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRatio))),
	}
	for _, exp := range exporters {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if closer != nil {
			err = errors.Join(err, closer.Close())
		}
		return err
	}, nil
}

// newExporter builds the configured exporter; it returns nil for ExporterNone
func newExporter(config *Config) (sdktrace.SpanExporter, io.Closer, error) {
	switch config.Exporter {
	case ExporterNone, "":
		return nil, nil, nil
	case ExporterStdout:
		w, closer, err := openOutput(config)
		if err != nil {
			return nil, nil, err
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			if closer != nil {
				closer.Close()
			}
			return nil, nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		return exp, closer, nil
	default:
		return nil, nil, fmt.Errorf("unknown trace exporter: %q", config.Exporter)
	}
}

func openOutput(config *Config) (io.Writer, io.Closer, error) {
	if config.Writer != nil {
		return config.Writer, nil, nil
	}

	switch config.Output {
	case "stdout", "":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}

	f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return f, f, nil
}

// StartSpan starts a span on the global tracer
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks the span as failed
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

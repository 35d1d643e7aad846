package tracing

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(&Config{Enabled: false, Exporter: "zipkin"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_RecordsSpans(t *testing.T) {
	ctx := context.Background()
	exp := tracetest.NewInMemoryExporter()

	shutdown, err := Init(&Config{Enabled: true, ServiceName: "publish-service", SampleRatio: 1}, exp)
	require.NoError(t, err)

	_, span := StartSpan(ctx, "publish", attribute.String("job_class", "article-forward"))
	RecordError(span, errors.New("boom"))
	span.End()

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	require.True(t, ok)
	require.NoError(t, tp.ForceFlush(ctx))

	// the in-memory exporter is reset on shutdown, so read before it
	spans := exp.GetSpans()
	require.NoError(t, shutdown(ctx))

	require.Len(t, spans, 1)
	assert.Equal(t, "publish", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Contains(t, spans[0].Attributes, attribute.String("job_class", "article-forward"))
}

func TestInit_StdoutExporter(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	shutdown, err := Init(&Config{
		Enabled:     true,
		ServiceName: "publish-service",
		SampleRatio: 1,
		Exporter:    ExporterStdout,
		Writer:      &buf,
	})
	require.NoError(t, err)

	_, span := StartSpan(ctx, "worker.processJob", attribute.String("task_id", "task-1"))
	span.End()

	require.NoError(t, shutdown(ctx))
	assert.Contains(t, buf.String(), "worker.processJob")
	assert.Contains(t, buf.String(), "task-1")
}

func TestInit_StdoutExporterToFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "traces.jsonl")

	shutdown, err := Init(&Config{
		Enabled:     true,
		SampleRatio: 1,
		Exporter:    ExporterStdout,
		Output:      path,
	})
	require.NoError(t, err)

	_, span := StartSpan(ctx, "publisher.Publish")
	span.End()
	require.NoError(t, shutdown(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "publisher.Publish")
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(&Config{Enabled: true, SampleRatio: 1, Exporter: "zipkin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trace exporter")
}

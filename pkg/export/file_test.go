package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordTrace(t *testing.T, service string, children int) []sdktrace.ReadOnlySpan {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
	)
	tracer := provider.Tracer("file_test")
	ctx, root := tracer.Start(context.Background(), "root")
	for i := 0; i < children; i++ {
		_, span := tracer.Start(ctx, "child")
		span.End()
	}
	root.End()
	return exporter.GetSpans().Snapshots()
}

func traceFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestFileSinkWritesOneFilePerTrace(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)
	defer sink.Shutdown(context.Background())

	spans := recordTrace(t, "billing", 2)
	require.NoError(t, sink.Export(context.Background(), spans))

	files := traceFiles(t, dir)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0], "traceweave_trace_billing_"))
	assert.Contains(t, files[0], spans[0].SpanContext().TraceID().String())
	assert.True(t, strings.HasSuffix(files[0], ".json"))

	data, err := os.ReadFile(filepath.Join(dir, files[0]))
	require.NoError(t, err)
	var decoded []WireSpan
	require.NoError(t, json.Unmarshal(data, &decoded), "root arrival closes the JSON array")
	assert.Len(t, decoded, 3)
}

func TestFileSinkSeparatesTraces(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, WithServiceName("checkout"))
	require.NoError(t, err)
	defer sink.Shutdown(context.Background())

	first := recordTrace(t, "ignored", 0)
	second := recordTrace(t, "ignored", 1)
	require.NoError(t, sink.Export(context.Background(), append(first, second...)))

	files := traceFiles(t, dir)
	assert.Len(t, files, 2)
	for _, name := range files {
		assert.True(t, strings.HasPrefix(name, "traceweave_trace_checkout_"))
	}
}

func TestFileSinkKeepsHandleOpenUntilRoot(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	spans := recordTrace(t, "billing", 2)
	var children, roots []sdktrace.ReadOnlySpan
	for _, span := range spans {
		if span.Parent().IsValid() {
			children = append(children, span)
		} else {
			roots = append(roots, span)
		}
	}
	require.Len(t, roots, 1)

	require.NoError(t, sink.Export(context.Background(), children))
	data, err := os.ReadFile(filepath.Join(dir, traceFiles(t, dir)[0]))
	require.NoError(t, err)
	var decoded []WireSpan
	assert.Error(t, json.Unmarshal(data, &decoded), "array stays unterminated until the root arrives")

	require.NoError(t, sink.Export(context.Background(), roots))
	data, err = os.ReadFile(filepath.Join(dir, traceFiles(t, dir)[0]))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 3)

	require.NoError(t, sink.Shutdown(context.Background()))
}

func TestFileSinkShutdownClosesOpenHandles(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	spans := recordTrace(t, "billing", 1)
	var children []sdktrace.ReadOnlySpan
	for _, span := range spans {
		if span.Parent().IsValid() {
			children = append(children, span)
		}
	}
	require.NoError(t, sink.Export(context.Background(), children))
	require.NoError(t, sink.Shutdown(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, traceFiles(t, dir)[0]))
	require.NoError(t, err)
	var decoded []WireSpan
	assert.NoError(t, json.Unmarshal(data, &decoded), "shutdown terminates open trace files")

	assert.ErrorIs(t, sink.Export(context.Background(), spans), ErrShutdown)
	assert.NoError(t, sink.Shutdown(context.Background()))
}

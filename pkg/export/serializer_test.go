package export

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

var (
	traceIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)
	spanIDPattern  = regexp.MustCompile(`^[0-9a-f]{16}$`)
)

// record produces finished spans through a real provider so serialization
// sees exactly what a batch processor would hand to a sink.
func record(t *testing.T, fn func(ctx context.Context, tracer trace.Tracer)) []sdktrace.ReadOnlySpan {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "billing"))),
	)
	fn(context.Background(), provider.Tracer("serializer_test"))
	return exporter.GetSpans().Snapshots()
}

func TestSerializeRootSpan(t *testing.T) {
	spans := record(t, func(ctx context.Context, tracer trace.Tracer) {
		_, span := tracer.Start(ctx, "workflow")
		span.SetAttributes(attribute.String("span.type", "workflow"), attribute.Int("input.tokens", 42))
		span.AddEvent("data.input", trace.WithAttributes(attribute.String("prompt", "hi")))
		span.SetStatus(codes.Ok, "")
		span.End()
	})
	require.Len(t, spans, 1)

	ws := Serialize(spans[0])
	assert.Equal(t, "workflow", ws.Name)
	assert.Regexp(t, traceIDPattern, ws.Context.TraceID)
	assert.Regexp(t, spanIDPattern, ws.Context.SpanID)
	assert.Equal(t, NoParent, ws.ParentID)
	assert.Equal(t, "OK", ws.Status.StatusCode)
	assert.Equal(t, "workflow", ws.Attributes["span.type"])
	assert.Equal(t, int64(42), ws.Attributes["input.tokens"])
	assert.Equal(t, "billing", ws.Resource.Attributes["service.name"])

	require.Len(t, ws.Events, 1)
	assert.Equal(t, "data.input", ws.Events[0].Name)
	assert.Equal(t, "hi", ws.Events[0].Attributes["prompt"])

	start, err := time.Parse(time.RFC3339Nano, ws.StartTime)
	require.NoError(t, err)
	end, err := time.Parse(time.RFC3339Nano, ws.EndTime)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, start.Location())
	assert.False(t, end.Before(start))
}

func TestSerializeChildCarriesParentID(t *testing.T) {
	spans := record(t, func(ctx context.Context, tracer trace.Tracer) {
		ctx, parent := tracer.Start(ctx, "parent")
		_, child := tracer.Start(ctx, "child")
		child.End()
		parent.End()
	})
	require.Len(t, spans, 2)

	child, parent := Serialize(spans[0]), Serialize(spans[1])
	assert.Equal(t, parent.Context.TraceID, child.Context.TraceID)
	assert.Equal(t, parent.Context.SpanID, child.ParentID)
	assert.Equal(t, NoParent, parent.ParentID)
}

func TestSerializeStatuses(t *testing.T) {
	spans := record(t, func(ctx context.Context, tracer trace.Tracer) {
		_, unset := tracer.Start(ctx, "unset")
		unset.End()

		_, failed := tracer.Start(ctx, "failed")
		failed.RecordError(errors.New("model unavailable"))
		failed.SetStatus(codes.Error, "model unavailable")
		failed.End()
	})
	require.Len(t, spans, 2)

	assert.Equal(t, "UNSET", Serialize(spans[0]).Status.StatusCode)
	got := Serialize(spans[1])
	assert.Equal(t, "ERROR", got.Status.StatusCode)
	assert.Equal(t, "model unavailable", got.Status.Description)
}

func TestMarshalBatchEnvelope(t *testing.T) {
	spans := record(t, func(ctx context.Context, tracer trace.Tracer) {
		_, a := tracer.Start(ctx, "a")
		a.End()
		_, b := tracer.Start(ctx, "b")
		b.End()
	})

	body, err := MarshalBatch(spans)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Contains(t, decoded, "batch")

	var batch []WireSpan
	require.NoError(t, json.Unmarshal(decoded["batch"], &batch))
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Name)
	assert.Equal(t, "b", batch[1].Name)
}

func TestMarshalBatchEmpty(t *testing.T) {
	body, err := MarshalBatch(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"batch":[]}`, string(body))
}

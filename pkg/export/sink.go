// Package export ships finished spans to one or more backends. Spans are
// batched, serialized to the trace wire format, and delivered with
// retry-and-backoff; on hosts that freeze the process between invocations,
// delivery can be deferred to a background loop driven by a host signal.
// A delivery failure is never surfaced to the instrumented application.
package export

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Sink delivers serialized span batches. Every sink, object storage, HTTP
// ingest, or console, implements this same contract so the pipeline stays
// sink-agnostic.
type Sink interface {
	// Export delivers the spans. After Shutdown it fails fast with
	// ErrShutdown without attempting I/O.
	Export(ctx context.Context, spans []sdktrace.ReadOnlySpan) error

	// ForceFlush synchronously drains anything the sink buffers.
	ForceFlush(ctx context.Context) error

	// Shutdown releases the sink. Idempotent; the second and later calls
	// are no-ops.
	Shutdown(ctx context.Context) error
}

// Exporter adapts a Sink to the SDK's span exporter contract so it can be
// mounted behind a batch span processor.
type Exporter struct {
	sink Sink
}

// NewExporter wraps sink.
func NewExporter(sink Sink) *Exporter { return &Exporter{sink: sink} }

// ExportSpans implements sdktrace.SpanExporter. Delivery errors are
// reported to the processor, which drops the batch; they never reach the
// application.
func (e *Exporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return e.sink.Export(ctx, spans)
}

// Shutdown implements sdktrace.SpanExporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.sink.Shutdown(ctx)
}

// hasRoot reports whether any span in the batch is a trace root.
func hasRoot(spans []sdktrace.ReadOnlySpan) bool {
	for _, span := range spans {
		if !span.Parent().IsValid() {
			return true
		}
	}
	return false
}

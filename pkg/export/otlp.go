package export

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// OTLPSink forwards spans to an OTLP/HTTP collector behind the same sink
// contract as the native sinks, so both wire formats can run side by side
// in one pipeline.
type OTLPSink struct {
	exporter *otlptrace.Exporter

	mu     sync.Mutex
	closed bool
}

// NewOTLPSink dials an OTLP/HTTP exporter.
func NewOTLPSink(ctx context.Context, opts ...otlptracehttp.Option) (*OTLPSink, error) {
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &OTLPSink{exporter: exporter}, nil
}

// Export forwards the spans. Fails fast after Shutdown.
func (s *OTLPSink) Export(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrShutdown
	}
	return s.exporter.ExportSpans(ctx, spans)
}

// ForceFlush is a no-op; the underlying exporter delivers synchronously.
func (s *OTLPSink) ForceFlush(context.Context) error { return nil }

// Shutdown stops the exporter. Idempotent.
func (s *OTLPSink) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.exporter.Shutdown(ctx)
}

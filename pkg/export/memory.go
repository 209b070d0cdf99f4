package export

import (
	"context"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// MemorySink stores exported spans in memory. It is meant for tests and
// local debugging where no transport is wanted.
type MemorySink struct {
	mu     sync.Mutex
	spans  []sdktrace.ReadOnlySpan
	closed bool
}

// NewMemorySink builds an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Export(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	s.spans = append(s.spans, spans...)
	return nil
}

func (s *MemorySink) ForceFlush(context.Context) error { return nil }

func (s *MemorySink) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Spans returns a copy of everything exported so far.
func (s *MemorySink) Spans() []sdktrace.ReadOnlySpan {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sdktrace.ReadOnlySpan, len(s.spans))
	copy(out, s.spans)
	return out
}

// Reset drops the stored spans.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans = nil
}

package export

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ConsoleSink writes one JSON span per line. Mostly for local development
// and tests.
type ConsoleSink struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewConsoleSink writes to w, or stdout when w is nil.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleSink{w: w}
}

// Export writes every span as a single JSON line.
func (s *ConsoleSink) Export(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	enc := json.NewEncoder(s.w)
	for _, span := range spans {
		if err := enc.Encode(Serialize(span)); err != nil {
			return err
		}
	}
	return nil
}

// ForceFlush is a no-op; writes are unbuffered.
func (s *ConsoleSink) ForceFlush(context.Context) error { return nil }

// Shutdown marks the sink closed. Idempotent.
func (s *ConsoleSink) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

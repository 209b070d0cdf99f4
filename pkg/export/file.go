package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultFilePrefix   = "traceweave_trace_"
	defaultTimeFormat   = "2006-01-02_15.04.05"
	defaultHandleExpiry = time.Minute
)

// FileSink writes each trace to its own JSON array file under a directory.
// A file stays open across batches of the same trace and is closed when
// the trace's root span arrives, when the handle expires, or at shutdown.
type FileSink struct {
	dir         string
	serviceName string
	prefix      string
	expiry      time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	handles map[trace.TraceID]*traceFile
	closed  bool
}

type traceFile struct {
	file    *os.File
	path    string
	opened  time.Time
	written bool
}

// FileOption configures a FileSink.
type FileOption func(*FileSink)

// WithServiceName overrides the service name used in file names; default
// is taken from each trace's resource.
func WithServiceName(name string) FileOption {
	return func(s *FileSink) { s.serviceName = name }
}

// WithHandleExpiry overrides how long a trace file may stay open without
// its root arriving.
func WithHandleExpiry(expiry time.Duration) FileOption {
	return func(s *FileSink) {
		if expiry > 0 {
			s.expiry = expiry
		}
	}
}

// WithFileLogger sets the sink logger.
func WithFileLogger(logger *zap.Logger) FileOption {
	return func(s *FileSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFileSink writes trace files under dir, creating it if needed.
func NewFileSink(dir string, opts ...FileOption) (*FileSink, error) {
	s := &FileSink{
		dir:     dir,
		prefix:  defaultFilePrefix,
		expiry:  defaultHandleExpiry,
		logger:  zap.NewNop(),
		handles: map[trace.TraceID]*traceFile{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return s, nil
}

// Export appends each span to its trace's file and closes files whose
// trace root arrived in this batch.
func (s *FileSink) Export(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	s.expireHandlesLocked()

	roots := map[trace.TraceID]bool{}
	for _, span := range spans {
		traceID := span.SpanContext().TraceID()
		tf, err := s.handleLocked(traceID, resourceService(span, s.serviceName))
		if err != nil {
			s.logger.Error("export: cannot open trace file", zap.Error(err))
			continue
		}
		if err := s.writeLocked(tf, span); err != nil {
			s.logger.Error("export: cannot write span", zap.String("path", tf.path), zap.Error(err))
			continue
		}
		if !span.Parent().IsValid() {
			roots[traceID] = true
		}
	}
	for traceID := range roots {
		s.closeHandleLocked(traceID)
	}
	for _, tf := range s.handles {
		tf.file.Sync()
	}
	return nil
}

func (s *FileSink) handleLocked(traceID trace.TraceID, service string) (*traceFile, error) {
	if tf, ok := s.handles[traceID]; ok {
		return tf, nil
	}
	name := s.prefix + service + "_" + traceID.String() + "_" + time.Now().Format(defaultTimeFormat) + ".json"
	path := filepath.Join(s.dir, name)
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if _, err := file.WriteString("["); err != nil {
		file.Close()
		return nil, err
	}
	tf := &traceFile{file: file, path: path, opened: time.Now()}
	s.handles[traceID] = tf
	return tf, nil
}

func (s *FileSink) writeLocked(tf *traceFile, span sdktrace.ReadOnlySpan) error {
	data, err := json.MarshalIndent(Serialize(span), "", "    ")
	if err != nil {
		return err
	}
	if tf.written {
		if _, err := tf.file.WriteString(","); err != nil {
			return err
		}
	}
	if _, err := tf.file.Write(data); err != nil {
		return err
	}
	tf.written = true
	return nil
}

func (s *FileSink) closeHandleLocked(traceID trace.TraceID) {
	tf, ok := s.handles[traceID]
	if !ok {
		return
	}
	if _, err := tf.file.WriteString("]"); err != nil {
		s.logger.Error("export: cannot finish trace file", zap.String("path", tf.path), zap.Error(err))
	}
	if err := tf.file.Close(); err != nil {
		s.logger.Error("export: cannot close trace file", zap.String("path", tf.path), zap.Error(err))
	}
	delete(s.handles, traceID)
}

func (s *FileSink) expireHandlesLocked() {
	now := time.Now()
	for traceID, tf := range s.handles {
		if now.Sub(tf.opened) > s.expiry {
			s.closeHandleLocked(traceID)
		}
	}
}

// ForceFlush syncs every open trace file.
func (s *FileSink) ForceFlush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tf := range s.handles {
		if err := tf.file.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown closes every open trace file. Idempotent.
func (s *FileSink) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for traceID := range s.handles {
		s.closeHandleLocked(traceID)
	}
	return nil
}

func resourceService(span sdktrace.ReadOnlySpan, override string) string {
	if override != "" {
		return override
	}
	if res := span.Resource(); res != nil {
		for _, kv := range res.Attributes() {
			if string(kv.Key) == "service.name" {
				return kv.Value.AsString()
			}
		}
	}
	return "unknown"
}

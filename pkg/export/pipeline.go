package export

import (
	"context"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

const (
	defaultMaxBatch = 512
	defaultInterval = 5 * time.Second
)

// Pipeline batches finished spans in front of a sink. A batch is flushed
// when it reaches the size bound or when the interval timer elapses,
// whichever comes first. The buffer is the pipeline's only mutable shared
// state and is guarded by one lock around append-and-maybe-flush.
type Pipeline struct {
	sink     Sink
	maxBatch int
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	buf    []sdktrace.ReadOnlySpan
	closed bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithMaxBatch sets the size bound. Default 512.
func WithMaxBatch(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxBatch = n
		}
	}
}

// WithInterval sets the age bound. Default 5s.
func WithInterval(interval time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline builds and starts a pipeline over sink.
func NewPipeline(sink Sink, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		sink:     sink,
		maxBatch: defaultMaxBatch,
		interval: defaultInterval,
		logger:   zap.NewNop(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

// Export buffers the spans, flushing inline when the batch fills. After
// Shutdown it fails fast with ErrShutdown without touching the sink.
func (p *Pipeline) Export(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrShutdown
	}
	p.buf = append(p.buf, spans...)
	var batch []sdktrace.ReadOnlySpan
	if len(p.buf) >= p.maxBatch {
		batch = p.buf
		p.buf = nil
	}
	p.mu.Unlock()

	if batch != nil {
		p.deliver(ctx, batch)
	}
	return nil
}

// ForceFlush synchronously delivers any partial batch, bounded by ctx.
// Used at shutdown or on a caller-requested drain.
func (p *Pipeline) ForceFlush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.buf
	p.buf = nil
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrShutdown
	}
	if len(batch) > 0 {
		p.deliver(ctx, batch)
	}
	return p.sink.ForceFlush(ctx)
}

// Shutdown flushes what remains and closes the sink. Repeated calls are
// no-ops.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	batch := p.buf
	p.buf = nil
	p.closed = true
	p.mu.Unlock()

	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
	})
	if len(batch) > 0 {
		p.deliver(ctx, batch)
	}
	return p.sink.Shutdown(ctx)
}

func (p *Pipeline) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			batch := p.buf
			p.buf = nil
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			if len(batch) > 0 {
				p.deliver(context.Background(), batch)
			}
		}
	}
}

// deliver hands a batch to the sink. Failures are logged and dropped; they
// must never reach the instrumented application.
func (p *Pipeline) deliver(ctx context.Context, batch []sdktrace.ReadOnlySpan) {
	if err := p.sink.Export(ctx, batch); err != nil {
		p.logger.Error("export: dropping batch", zap.Int("spans", len(batch)), zap.Error(err))
	}
}

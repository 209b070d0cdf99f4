package export

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DeliveryTask is a deferred delivery closure over one serialized batch.
// RootSpan marks batches containing a trace root; the background loop uses
// it to decide when an invocation's spans are complete.
type DeliveryTask struct {
	Run      func(ctx context.Context) error
	RootSpan bool
}

// TaskProcessor queues delivery tasks for a background loop. Sinks given a
// processor defer delivery through it instead of shipping inline.
type TaskProcessor interface {
	Start()
	Stop()
	Queue(task DeliveryTask)
}

// ReadySignal tells the deferred processor when the host is willing to let
// background work run. On function runtimes this is the runtime's
// event-next long poll; in tests it is a channel.
type ReadySignal interface {
	// Next blocks until the host signals the next window, or ctx ends.
	Next(ctx context.Context) error
}

// ReadySignalFunc adapts a function to ReadySignal.
type ReadySignalFunc func(ctx context.Context) error

// Next implements ReadySignal.
func (f ReadySignalFunc) Next(ctx context.Context) error { return f(ctx) }

// DeferredProcessor runs queued delivery tasks when the host allows it.
// Each window it drains the queue while waiting, bounded by MaxWait, for a
// batch carrying a trace root, so all spans of one invocation ship
// together; if the wait expires without a root it still delivers whatever
// is queued before yielding.
type DeferredProcessor struct {
	signal        ReadySignal
	checkInterval time.Duration
	maxWait       time.Duration
	drainTimeout  time.Duration
	logger        *zap.Logger

	mu    sync.Mutex
	queue []DeliveryTask

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// DeferredOption configures a DeferredProcessor.
type DeferredOption func(*DeferredProcessor)

// WithCheckInterval sets the queue polling interval. Default 1s.
func WithCheckInterval(interval time.Duration) DeferredOption {
	return func(p *DeferredProcessor) {
		if interval > 0 {
			p.checkInterval = interval
		}
	}
}

// WithMaxWait bounds how long one window waits for a root-span batch.
// Default 30s.
func WithMaxWait(maxWait time.Duration) DeferredOption {
	return func(p *DeferredProcessor) {
		if maxWait > 0 {
			p.maxWait = maxWait
		}
	}
}

// WithDrainTimeout bounds the final delivery pass at Stop. Default 10s.
func WithDrainTimeout(timeout time.Duration) DeferredOption {
	return func(p *DeferredProcessor) {
		if timeout > 0 {
			p.drainTimeout = timeout
		}
	}
}

// WithDeferredLogger sets the processor logger.
func WithDeferredLogger(logger *zap.Logger) DeferredOption {
	return func(p *DeferredProcessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewDeferredProcessor builds a processor driven by the given host signal.
func NewDeferredProcessor(signal ReadySignal, opts ...DeferredOption) *DeferredProcessor {
	p := &DeferredProcessor{
		signal:        signal,
		checkInterval: time.Second,
		maxWait:       30 * time.Second,
		drainTimeout:  10 * time.Second,
		logger:        zap.NewNop(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the background delivery loop. Repeated calls are no-ops.
func (p *DeferredProcessor) Start() {
	p.startOnce.Do(func() {
		go p.loop()
	})
}

// Stop ends the loop after the current window and waits for the final
// delivery pass. Repeated calls are no-ops; Stop before Start leaves the
// processor permanently stopped.
func (p *DeferredProcessor) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		// If the loop never started, spend startOnce so a later Start
		// cannot launch it, and release waiters ourselves.
		p.startOnce.Do(func() { close(p.done) })
	})
	<-p.done
}

// Queue appends a task for the next delivery window.
func (p *DeferredProcessor) Queue(task DeliveryTask) {
	if task.Run == nil {
		p.logger.Debug("export: ignoring nil delivery task")
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, task)
	p.mu.Unlock()
}

func (p *DeferredProcessor) loop() {
	defer close(p.done)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.stop
		cancel()
	}()

	for {
		select {
		case <-p.stop:
			p.drain()
			return
		default:
		}
		if err := p.signal.Next(ctx); err != nil {
			select {
			case <-p.stop:
				p.drain()
				return
			default:
			}
			p.logger.Warn("export: ready signal failed", zap.Error(err))
			// Pace retries; a dead signal endpoint fails in microseconds
			// and must not spin the loop.
			select {
			case <-p.stop:
				p.drain()
				return
			case <-time.After(p.checkInterval):
			}
			continue
		}
		p.window(ctx)
	}
}

// window drains tasks while waiting up to maxWait for a root-span batch.
func (p *DeferredProcessor) window(ctx context.Context) {
	deadline := time.Now().Add(p.maxWait)
	rootSeen := false
	for !rootSeen && time.Now().Before(deadline) {
		rootSeen = p.runQueued(ctx)
		if rootSeen {
			break
		}
		select {
		case <-p.stop:
			return
		case <-time.After(p.checkInterval):
		}
	}
	// Deliver any stragglers before yielding control back to the host.
	p.runQueued(ctx)
}

// runQueued runs every queued task and reports whether one carried a
// trace root. A failed task is logged and dropped, never re-queued.
func (p *DeferredProcessor) runQueued(ctx context.Context) bool {
	rootSeen := false
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return rootSeen
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if task.RootSpan {
			rootSeen = true
		}
		if err := task.Run(ctx); err != nil {
			p.logger.Error("export: deferred delivery failed, dropping batch", zap.Error(err))
		}
	}
}

// drain ships everything still queued before the loop exits. The loop
// context is already cancelled by Stop at this point, so the final pass
// runs under its own bounded context; otherwise every remaining batch
// would be handed a dead context and dropped without a delivery attempt.
func (p *DeferredProcessor) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), p.drainTimeout)
	defer cancel()
	p.runQueued(ctx)
}

// RuntimeAPISignal long-polls a function runtime's event-next endpoint, the
// host's way of saying the process is live for another invocation.
type RuntimeAPISignal struct {
	url    string
	client *http.Client
}

// NewRuntimeAPISignal polls the given event-next URL.
func NewRuntimeAPISignal(url string, client *http.Client) *RuntimeAPISignal {
	if client == nil {
		client = &http.Client{}
	}
	return &RuntimeAPISignal{url: url, client: client}
}

// Next blocks on the long poll until the host reports the next invocation.
func (s *RuntimeAPISignal) Next(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// HTTPSink POSTs batch envelopes to a trace ingest endpoint. Transient
// failures are retried with backoff; permanent ones are dropped with a
// logged error. When a TaskProcessor is configured, delivery is deferred:
// the batch is queued and the background loop ships it once the host
// signals readiness.
type HTTPSink struct {
	endpoint  string
	apiKey    string
	client    *http.Client
	retry     RetryConfig
	policy    RetryPolicy
	logger    *zap.Logger
	processor TaskProcessor

	mu     sync.Mutex
	closed bool
}

// HTTPOption configures an HTTPSink.
type HTTPOption func(*HTTPSink)

// WithHTTPClient sets the HTTP client. Default: 15s timeout.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPSink) {
		if client != nil {
			s.client = client
		}
	}
}

// WithAPIKey sets the x-api-key header value.
func WithAPIKey(key string) HTTPOption {
	return func(s *HTTPSink) { s.apiKey = key }
}

// WithRetry overrides the retry bounds.
func WithRetry(cfg RetryConfig) HTTPOption {
	return func(s *HTTPSink) { s.retry = cfg }
}

// WithRetryPolicy overrides the transient/permanent classification.
func WithRetryPolicy(policy RetryPolicy) HTTPOption {
	return func(s *HTTPSink) {
		if policy != nil {
			s.policy = policy
		}
	}
}

// WithHTTPLogger sets the sink logger.
func WithHTTPLogger(logger *zap.Logger) HTTPOption {
	return func(s *HTTPSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTaskProcessor switches the sink to deferred delivery through the
// given processor.
func WithTaskProcessor(processor TaskProcessor) HTTPOption {
	return func(s *HTTPSink) { s.processor = processor }
}

// NewHTTPSink builds a sink for the given ingest endpoint.
func NewHTTPSink(endpoint string, opts ...HTTPOption) *HTTPSink {
	s := &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		retry:    DefaultRetryConfig(),
		policy:   DefaultRetryPolicy,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.processor != nil {
		s.processor.Start()
	}
	return s
}

// Export serializes the batch and delivers it, inline or deferred. After
// Shutdown it fails fast with ErrShutdown.
func (s *HTTPSink) Export(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrShutdown
	}
	if len(spans) == 0 {
		return nil
	}

	body, err := MarshalBatch(spans)
	if err != nil {
		return fmt.Errorf("serialize batch: %w", err)
	}

	if s.processor != nil {
		s.processor.Queue(DeliveryTask{
			RootSpan: hasRoot(spans),
			Run: func(ctx context.Context) error {
				return s.deliver(ctx, body)
			},
		})
		return nil
	}
	return s.deliver(ctx, body)
}

func (s *HTTPSink) deliver(ctx context.Context, body []byte) error {
	err := retryTransient(ctx, s.retry, func(ctx context.Context) error {
		return s.post(ctx, body)
	})
	if err != nil {
		s.logger.Error("export: batch delivery failed", zap.String("endpoint", s.endpoint), zap.Error(err))
	}
	return err
}

func (s *HTTPSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if s.policy(err, 0) {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	}
	if s.policy(nil, resp.StatusCode) {
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
}

// ForceFlush is a no-op: the sink holds no buffer of its own.
func (s *HTTPSink) ForceFlush(context.Context) error { return nil }

// Shutdown closes the sink. Repeated calls are no-ops.
func (s *HTTPSink) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Warn("export: sink already shut down, ignoring call")
		return nil
	}
	s.closed = true
	if s.processor != nil {
		s.processor.Stop()
	}
	s.client.CloseIdleConnections()
	return nil
}

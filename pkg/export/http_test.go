package export

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSinkDeliversEnvelope(t *testing.T) {
	var gotKey atomic.Value
	var gotBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("x-api-key"))
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, WithAPIKey("secret"))
	defer sink.Shutdown(context.Background())

	require.NoError(t, sink.Export(context.Background(), makeSpans(t, 2)))
	assert.Equal(t, "secret", gotKey.Load())

	var envelope Envelope
	require.NoError(t, json.Unmarshal(gotBody.Load().([]byte), &envelope))
	assert.Len(t, envelope.Batch, 2)
}

func TestHTTPSinkRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, WithRetry(fastRetry(5)))
	defer sink.Shutdown(context.Background())

	require.NoError(t, sink.Export(context.Background(), makeSpans(t, 1)))
	assert.Equal(t, int32(3), calls.Load(), "two failures then success is three requests")
}

func TestHTTPSinkRetryBudget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, WithRetry(fastRetry(3)))
	defer sink.Shutdown(context.Background())

	err := sink.Export(context.Background(), makeSpans(t, 1))
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(4), calls.Load(), "first try plus three retries")
}

func TestHTTPSinkPermanentFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, WithRetry(fastRetry(5)))
	defer sink.Shutdown(context.Background())

	err := sink.Export(context.Background(), makeSpans(t, 1))
	assert.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPSinkShutdownSemantics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL)
	require.NoError(t, sink.Shutdown(context.Background()))
	require.NoError(t, sink.Shutdown(context.Background()), "repeat shutdown is a no-op")

	err := sink.Export(context.Background(), makeSpans(t, 1))
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestHTTPSinkEmptyBatchIsNoop(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL)
	defer sink.Shutdown(context.Background())

	require.NoError(t, sink.Export(context.Background(), nil))
	assert.Equal(t, int32(0), calls.Load())
}

func TestHTTPSinkDeferredDelivery(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ready := make(chan struct{}, 1)
	processor := NewDeferredProcessor(ReadySignalFunc(func(ctx context.Context) error {
		select {
		case <-ready:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	sink := NewHTTPSink(server.URL, WithTaskProcessor(processor))
	defer sink.Shutdown(context.Background())

	// Export queues; nothing ships until the host signals readiness.
	require.NoError(t, sink.Export(context.Background(), makeSpans(t, 1)))
	assert.Equal(t, int32(0), calls.Load())

	ready <- struct{}{}
	waitFor(t, func() bool { return calls.Load() == 1 })
}

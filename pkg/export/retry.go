package export

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides whether a delivery failure is worth retrying. It
// receives the transport error (if any) and the response status (0 when
// none was received). Permanent failures abort immediately.
type RetryPolicy func(err error, statusCode int) bool

// DefaultRetryPolicy retries network errors, timeouts, throttling (429),
// and server errors (5xx). Client errors such as bad credentials or a
// missing endpoint are permanent: retrying cannot fix them. Context
// cancellation is never retried; it is the caller's decision.
func DefaultRetryPolicy(err error, statusCode int) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return true
	}
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// RetryConfig bounds the backoff schedule for transient failures.
type RetryConfig struct {
	// MaxRetries caps retry attempts after the first try.
	MaxRetries int
	// InitialInterval seeds the exponential backoff.
	InitialInterval time.Duration
	// MaxInterval caps any single backoff delay.
	MaxInterval time.Duration
}

// DefaultRetryConfig mirrors the ingest backends' guidance: a handful of
// attempts, seconds apart, with jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      4,
		InitialInterval: time.Second,
		MaxInterval:     32 * time.Second,
	}
}

// retryTransient runs op, retrying transient failures with exponential
// backoff plus jitter until the budget is spent. op returns ErrPermanent-
// wrapped errors to abort immediately.
func retryTransient(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval
	policy.MaxElapsedTime = 0

	var attempts int
	err := backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			return backoff.Permanent(err)
		}
		attempts++
		if attempts > cfg.MaxRetries {
			return backoff.Permanent(fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err))
		}
		return err
	}, backoff.WithContext(policy, ctx))
	return err
}

package instrument

import (
	"context"
	"sync"
)

// Future is the resolution handle of an asynchronous call. The producing
// side resolves it exactly once; later resolutions are ignored.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewFuture returns an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// ResolvedFuture returns a future already carrying the given outcome.
func ResolvedFuture(value any, err error) *Future {
	f := NewFuture()
	f.Resolve(value, err)
	return f
}

// Resolve sets the outcome. The first resolution wins.
func (f *Future) Resolve(value any, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx is cancelled. Cancellation
// returns ctx's error.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

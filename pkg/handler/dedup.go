package handler

import (
	"context"
	"sync"
	"time"

	"github.com/traceweave/traceweave/pkg/resolve"
)

// ProbeDedup wraps a Handler so that repeated probe-style calls collapse to
// a single span: only the first invocation of a location produces a span,
// later ones run uninstrumented. This keeps health probes and warm-up calls
// that fire in bursts from flooding a trace with identical no-op spans.
//
// With a zero window (the default) "first" means first ever for the
// process. A positive window lets a location produce a fresh span again
// once that much time has passed since the last skipped or traced call.
type ProbeDedup struct {
	Handler

	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewProbeDedup wraps next with first-only span deduplication.
func NewProbeDedup(next Handler, opts ...DedupOption) *ProbeDedup {
	d := &ProbeDedup{
		Handler: next,
		seen:    make(map[string]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DedupOption configures a ProbeDedup.
type DedupOption func(*ProbeDedup)

// WithDedupWindow sets the expiry window after which a location may produce
// a new span. Zero means first-only, ever.
func WithDedupWindow(window time.Duration) DedupOption {
	return func(d *ProbeDedup) { d.window = window }
}

// withClock overrides the clock. Test hook.
func withClock(now func() time.Time) DedupOption {
	return func(d *ProbeDedup) { d.now = now }
}

// SkipSpan reports true for every call after the first at a location,
// subject to the expiry window. The underlying handler may still veto
// independently.
func (d *ProbeDedup) SkipSpan(ctx context.Context, call resolve.Call) bool {
	if d.Handler.SkipSpan(ctx, call) {
		return true
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.seen[call.Location]
	if ok && (d.window == 0 || now.Sub(last) < d.window) {
		d.seen[call.Location] = now
		return true
	}
	d.seen[call.Location] = now
	return false
}

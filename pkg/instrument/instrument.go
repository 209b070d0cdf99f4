// Package instrument installs tracing proxies around library calls. A
// declarative list of method specs binds each target to a wrapper strategy
// (synchronous, asynchronous, or streaming) and a span lifecycle handler;
// installing substitutes the real function with an instrumented proxy and
// uninstalling restores it.
//
// Substitution is explicit adapter registration: the integration that owns
// a target knows how its function value is reached and provides a SwapFunc
// that plugs the proxy in and returns a restore closure. The registry never
// rewrites anything at runtime behind the target's back.
package instrument

import (
	"context"

	"github.com/traceweave/traceweave/pkg/resolve"
)

// Location identifies an instrumented method.
type Location struct {
	Package string
	Object  string
	Method  string
}

// String renders the location as "package.Object.Method".
func (l Location) String() string {
	s := l.Package
	if l.Object != "" {
		s += "." + l.Object
	}
	if l.Method != "" {
		s += "." + l.Method
	}
	return s
}

// Strategy selects how a target's call shape is wrapped.
type Strategy int

const (
	// StrategySync wraps a direct call; the handler runs fully before the
	// proxy returns.
	StrategySync Strategy = iota
	// StrategyAsync wraps a call returning a Future; the handler's post
	// phases run when the future resolves, so the span covers the full
	// await rather than just scheduling.
	StrategyAsync
	// StrategyStream wraps a call returning a Stream; the span stays open
	// until the stream is exhausted or closed.
	StrategyStream
)

// Fn is the wrappable shape of a synchronous call.
type Fn func(ctx context.Context, args ...any) (any, error)

// AsyncFn is the wrappable shape of an asynchronous call: it returns
// immediately with a Future that resolves when the work completes.
type AsyncFn func(ctx context.Context, args ...any) (*Future, error)

// StreamFn is the wrappable shape of a call producing a lazy sequence.
type StreamFn func(ctx context.Context, args ...any) (*Stream, error)

// SwapFunc substitutes the target's function value with the proxy and
// returns a closure that restores the original. The proxy's concrete type
// matches the spec's strategy (Fn, AsyncFn, or StreamFn).
type SwapFunc func(proxy any) (restore func(), err error)

// MethodSpec declares one interception target.
type MethodSpec struct {
	// Location identifies the method; it becomes the span name unless
	// SpanName overrides it.
	Location Location
	// SpanName optionally overrides the span name.
	SpanName string
	// Strategy selects the wrapper.
	Strategy Strategy
	// HandlerKey selects the span lifecycle handler; empty means "default".
	HandlerKey string
	// Resolver supplies the attribute/event rules for this target's spans.
	// Nil means no hydration.
	Resolver resolve.Resolver
	// SkipSpan short-circuits span creation for this target entirely.
	SkipSpan bool
	// Target is the original callable, typed per Strategy.
	Target any
	// Swap installs the proxy in the target's place.
	Swap SwapFunc
}

func (m MethodSpec) spanName() string {
	if m.SpanName != "" {
		return m.SpanName
	}
	return m.Location.String()
}

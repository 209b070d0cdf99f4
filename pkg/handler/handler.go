// Package handler owns the lifecycle of one span per intercepted call:
// creation, hydration through the attribute resolver, error capture, and
// symmetric cleanup. Handlers never swallow errors raised by instrumented
// code and never let their own failures mask the call's result.
package handler

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/traceweave/traceweave/pkg/resolve"
	"github.com/traceweave/traceweave/pkg/scope"
)

// Token is the opaque value PreTracing hands to PostTracing so cleanup is
// symmetric with setup. Detaching twice is harmless.
type Token struct {
	scopes  []*scope.Token
	cleanup []func()
}

// Detach releases everything the token holds. Safe on nil and safe to call
// more than once.
func (t *Token) Detach() {
	if t == nil {
		return
	}
	for _, s := range t.scopes {
		scope.Detach(s)
	}
	t.scopes = nil
	for _, fn := range t.cleanup {
		fn()
	}
	t.cleanup = nil
}

// Handler is the per-call state machine driven by the wrapper strategies.
// The call moves through PreTracing, span creation, pre-execution
// hydration, the wrapped call itself, post-execution hydration, Finish,
// PostTask, and PostTracing, in that order.
type Handler interface {
	// PreTracing runs before anything else and may extract externally
	// propagated trace context from a carrier on ctx. The returned token is
	// consumed by PostTracing.
	PreTracing(ctx context.Context, call resolve.Call) (context.Context, *Token)

	// SkipSpan reports whether this call should produce no span at all.
	// The wrapped call still runs.
	SkipSpan(ctx context.Context, call resolve.Call) bool

	// Hydrate applies the resolver's rules for the given phase to the span
	// and returns the attributes it applied. Resolver failures are logged,
	// never propagated.
	Hydrate(ctx context.Context, call resolve.Call, span trace.Span, phase resolve.Phase, resolver resolve.Resolver) []resolve.Attribute

	// Finish closes out the span's status: the call's error becomes ERROR
	// with the error message, success becomes OK.
	Finish(span trace.Span, err error)

	// PostTask performs cross-span adjustments between the finished span
	// and its parent, given the attributes hydration applied.
	PostTask(ctx context.Context, call resolve.Call, span, parent trace.Span, attrs []resolve.Attribute)

	// PostTracing is the symmetric counterpart of PreTracing.
	PostTracing(ctx context.Context, call resolve.Call, token *Token)
}

// Default is the stock Handler. The zero value is not usable; construct it
// with New.
type Default struct {
	logger       *zap.Logger
	propagator   propagation.TextMapPropagator
	identityAttr string
}

// New builds the default handler.
func New(opts ...Option) *Default {
	h := &Default{
		logger:       zap.NewNop(),
		propagator:   propagation.TraceContext{},
		identityAttr: "agent.name",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PreTracing extracts inbound trace context when the call arrived with a
// propagation carrier (set via ContextWithCarrier). The child span created
// afterwards then joins the caller's trace instead of starting a new one.
func (h *Default) PreTracing(ctx context.Context, _ resolve.Call) (context.Context, *Token) {
	if carrier := carrierFromContext(ctx); carrier != nil {
		ctx = h.propagator.Extract(ctx, carrier)
	}
	return ctx, &Token{}
}

// SkipSpan never skips; see ProbeDedup for the deduplicating variant.
func (h *Default) SkipSpan(context.Context, resolve.Call) bool { return false }

// Hydrate pulls the phase's rules from the resolver and applies them.
// A panicking or failing resolver is contained here: the wrapped call's
// outcome is already decided and must not change.
func (h *Default) Hydrate(ctx context.Context, call resolve.Call, span trace.Span, phase resolve.Phase, resolver resolve.Resolver) (applied []resolve.Attribute) {
	if resolver == nil || span == nil || !span.IsRecording() {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("handler: resolver panic during hydration",
				zap.String("location", call.Location),
				zap.String("phase", phase.String()),
				zap.Any("panic", r))
		}
	}()
	attrs, events, err := resolver.Resolve(ctx, call, phase)
	if err != nil {
		h.logger.Warn("handler: hydration failed",
			zap.String("location", call.Location),
			zap.String("phase", phase.String()),
			zap.Error(err))
		return nil
	}
	if len(attrs) > 0 {
		span.SetAttributes(toKeyValues(attrs)...)
	}
	for _, event := range events {
		span.AddEvent(event.Name, trace.WithAttributes(toKeyValues(event.Attributes)...))
	}
	return attrs
}

// Finish records the call's outcome on the span. The error, if any, has
// already been returned to the caller unchanged; this only mirrors it.
func (h *Default) Finish(span trace.Span, err error) {
	if span == nil || !span.IsRecording() {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// PostTask propagates the identity attribute from the finished child up to
// its parent so queries on the parent alone remain meaningful.
func (h *Default) PostTask(_ context.Context, _ resolve.Call, _ trace.Span, parent trace.Span, attrs []resolve.Attribute) {
	if parent == nil || !parent.IsRecording() || h.identityAttr == "" {
		return
	}
	for _, attr := range attrs {
		if attr.Key == h.identityAttr {
			parent.SetAttributes(toKeyValue(attr.Key, attr.Value))
			return
		}
	}
}

// PostTracing releases whatever PreTracing set up.
func (h *Default) PostTracing(_ context.Context, call resolve.Call, token *Token) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("handler: post tracing panic",
				zap.String("location", call.Location),
				zap.Any("panic", r))
		}
	}()
	token.Detach()
}

type carrierKey struct{}

// ContextWithCarrier attaches an inbound propagation carrier (for example
// incoming request headers) so PreTracing can pick up the caller's trace
// context.
func ContextWithCarrier(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return context.WithValue(ctx, carrierKey{}, carrier)
}

func carrierFromContext(ctx context.Context) propagation.TextMapCarrier {
	carrier, _ := ctx.Value(carrierKey{}).(propagation.TextMapCarrier)
	return carrier
}

package instrument

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/traceweave/traceweave/pkg/handler"
	"github.com/traceweave/traceweave/pkg/resolve"
)

// Wrap instruments a synchronous callable. The handler runs fully around
// the call: pre-tracing, span creation as a child of the span active in the
// caller's context, two-phase hydration, error capture, post-task
// adjustment, and symmetric post-tracing cleanup. The wrapped call's result
// and error pass through unchanged, panics included.
func Wrap(tracer trace.Tracer, h handler.Handler, spec MethodSpec, fn Fn) Fn {
	return func(ctx context.Context, args ...any) (any, error) {
		call := resolve.Call{Location: spec.Location.String(), Args: args}
		ctx, token := h.PreTracing(ctx, call)
		defer h.PostTracing(ctx, call, token)

		if spec.SkipSpan || h.SkipSpan(ctx, call) {
			return fn(ctx, args...)
		}

		parent := trace.SpanFromContext(ctx)
		ctx, span := tracer.Start(ctx, spec.spanName())
		h.Hydrate(ctx, call, span, resolve.PreExecution, spec.Resolver)

		result, err := invoke(span, fn, ctx, args)

		call.Result, call.Err = result, err
		attrs := h.Hydrate(ctx, call, span, resolve.PostExecution, spec.Resolver)
		h.Finish(span, err)
		h.PostTask(ctx, call, span, parent, attrs)
		span.End()
		return result, err
	}
}

// invoke runs fn and, if it panics, finalizes the span with an error status
// before re-panicking. Instrumentation must never turn a panic into a
// swallowed error.
func invoke(span trace.Span, fn Fn, ctx context.Context, args []any) (any, error) {
	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, fmt.Sprintf("panic: %v", r))
			span.End()
			panic(r)
		}
	}()
	return fn(ctx, args...)
}

// WrapAsync instruments a callable that returns a Future. The span covers
// the full resolution: post-execution hydration, status, and cleanup run
// when the future resolves, on whichever goroutine resolves it. If the
// caller's context is cancelled first, the span is finalized with the
// cancellation error through the same path.
func WrapAsync(tracer trace.Tracer, h handler.Handler, spec MethodSpec, fn AsyncFn) AsyncFn {
	return func(ctx context.Context, args ...any) (*Future, error) {
		call := resolve.Call{Location: spec.Location.String(), Args: args}
		ctx, token := h.PreTracing(ctx, call)

		if spec.SkipSpan || h.SkipSpan(ctx, call) {
			defer h.PostTracing(ctx, call, token)
			return fn(ctx, args...)
		}

		parent := trace.SpanFromContext(ctx)
		ctx, span := tracer.Start(ctx, spec.spanName())
		h.Hydrate(ctx, call, span, resolve.PreExecution, spec.Resolver)

		finalize := func(result any, err error) {
			call.Result, call.Err = result, err
			attrs := h.Hydrate(ctx, call, span, resolve.PostExecution, spec.Resolver)
			h.Finish(span, err)
			h.PostTask(ctx, call, span, parent, attrs)
			span.End()
			h.PostTracing(ctx, call, token)
		}

		inner, err := fn(ctx, args...)
		if err != nil {
			// The call never got off the ground; close out inline.
			finalize(nil, err)
			return nil, err
		}

		out := NewFuture()
		go func() {
			result, werr := inner.Wait(ctx)
			finalize(result, werr)
			out.Resolve(result, werr)
		}()
		return out, nil
	}
}

// WrapStream instruments a callable that returns a Stream. The span stays
// open while the caller iterates, accumulating consumed items, and is
// finalized when the stream is exhausted, fails, or is closed early. A
// partially consumed stream is still finalized with whatever was consumed.
func WrapStream(tracer trace.Tracer, h handler.Handler, spec MethodSpec, fn StreamFn) StreamFn {
	return func(ctx context.Context, args ...any) (*Stream, error) {
		call := resolve.Call{Location: spec.Location.String(), Args: args}
		ctx, token := h.PreTracing(ctx, call)

		if spec.SkipSpan || h.SkipSpan(ctx, call) {
			defer h.PostTracing(ctx, call, token)
			return fn(ctx, args...)
		}

		parent := trace.SpanFromContext(ctx)
		ctx, span := tracer.Start(ctx, spec.spanName())
		h.Hydrate(ctx, call, span, resolve.PreExecution, spec.Resolver)

		var consumed []any
		finalize := func(err error) {
			call.Result, call.Err = consumed, err
			attrs := h.Hydrate(ctx, call, span, resolve.PostExecution, spec.Resolver)
			h.Finish(span, err)
			h.PostTask(ctx, call, span, parent, attrs)
			span.End()
			h.PostTracing(ctx, call, token)
		}

		inner, err := fn(ctx, args...)
		if err != nil {
			finalize(err)
			return nil, err
		}

		inner.onItem = func(item any) { consumed = append(consumed, item) }
		inner.onDone = finalize
		return inner, nil
	}
}

// Package scope propagates named values onto every span created while the
// scope is active. Scopes ride on the execution context (OpenTelemetry
// baggage) so they follow derived goroutines, with a process-wide ambient
// store as the fallback for code that enters tracing without a context.
package scope

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/baggage"
	"go.uber.org/zap"
)

// Prefix marks scope entries in baggage so they can be told apart from
// unrelated baggage members. The rendered span attribute drops the prefix
// and becomes "scope.<name>".
const Prefix = "traceweave.scope."

var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop()
)

// SetLogger replaces the package logger. The default discards everything.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

func log() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Start layers a scope onto the context. All spans created from the returned
// context, including on goroutines it is handed to, carry the scope until
// the matching Stop. An empty value gets a generated identifier.
func Start(ctx context.Context, name, value string) context.Context {
	if name == "" {
		return ctx
	}
	if value == "" {
		value = uuid.NewString()
	}
	member, err := baggage.NewMemberRaw(Prefix+name, value)
	if err != nil {
		log().Warn("scope: invalid scope entry", zap.String("name", name), zap.Error(err))
		return ctx
	}
	bag, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		log().Warn("scope: failed to set scope", zap.String("name", name), zap.Error(err))
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

// StartAll starts several scopes at once.
func StartAll(ctx context.Context, scopes map[string]string) context.Context {
	for name, value := range scopes {
		ctx = Start(ctx, name, value)
	}
	return ctx
}

// Stop removes a scope from the context. Spans created from the returned
// context no longer carry it. Stopping a scope that is not present is a
// no-op.
func Stop(ctx context.Context, name string) context.Context {
	bag := baggage.FromContext(ctx)
	if bag.Member(Prefix + name).Key() == "" {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag.DeleteMember(Prefix+name))
}

// Run executes fn with the scope active and stops it on return, including
// on panic. This is the block-scoped form of Start/Stop.
func Run(ctx context.Context, name, value string, fn func(ctx context.Context) error) error {
	return fn(Start(ctx, name, value))
}

// WrapFunc returns fn wrapped so that every invocation runs under the scope.
// valueFn may compute the scope value from the call's arguments; a nil
// valueFn generates a fresh identifier per invocation.
func WrapFunc(name string, valueFn func(args ...any) string, fn func(ctx context.Context, args ...any) (any, error)) func(ctx context.Context, args ...any) (any, error) {
	return func(ctx context.Context, args ...any) (any, error) {
		value := ""
		if valueFn != nil {
			value = safeValue(valueFn, args)
		}
		return fn(Start(ctx, name, value), args...)
	}
}

func safeValue(valueFn func(args ...any) string, args []any) (value string) {
	defer func() {
		if r := recover(); r != nil {
			log().Warn("scope: value function panicked", zap.Any("panic", r))
			value = ""
		}
	}()
	return valueFn(args...)
}

// Active returns every scope visible to spans created from ctx: the
// context-carried scopes merged over the ambient store. Context entries win
// on name collision.
func Active(ctx context.Context) map[string]string {
	scopes := ambient.all()
	for _, member := range baggage.FromContext(ctx).Members() {
		key := member.Key()
		if len(key) > len(Prefix) && key[:len(Prefix)] == Prefix {
			scopes[key[len(Prefix):]] = member.Value()
		}
	}
	return scopes
}

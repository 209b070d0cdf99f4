// Package resolve defines the contract between the tracing core and the
// per-library attribute mappings. A Resolver inspects one intercepted call
// and decides which span attributes and events it produces; the core never
// interprets those values, it only applies them.
package resolve

import "context"

// Phase tells the Resolver whether the wrapped call has executed yet.
// Rules that need the call's result run in PostExecution; rules that must
// read arguments before the call mutates them run in PreExecution.
type Phase int

const (
	// PreExecution runs before the wrapped call is invoked.
	PreExecution Phase = iota
	// PostExecution runs after the wrapped call returned or failed.
	PostExecution
)

func (p Phase) String() string {
	switch p {
	case PreExecution:
		return "pre_execution"
	case PostExecution:
		return "post_execution"
	default:
		return "unknown"
	}
}

// Call is an immutable view of one intercepted invocation. Result and Err
// are only populated for PostExecution resolution.
type Call struct {
	// Location identifies the instrumented method as "package.Object.Method".
	Location string
	// Instance is the receiver the method was called on, when known.
	Instance any
	// Args holds the call arguments in declaration order.
	Args []any
	// Result is the wrapped call's return value.
	Result any
	// Err is the error returned by the wrapped call.
	Err error
}

// Attribute is a single span attribute produced by a Resolver.
type Attribute struct {
	Key   string
	Value any
}

// Event is a named sub-record attached to a span, with its own attributes.
type Event struct {
	Name       string
	Attributes []Attribute
}

// Resolver maps an intercepted call to span attributes and events. Only the
// rules matching the given phase should be applied. Resolver errors are
// logged by the caller and never affect the wrapped call.
type Resolver interface {
	Resolve(ctx context.Context, call Call, phase Phase) ([]Attribute, []Event, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, call Call, phase Phase) ([]Attribute, []Event, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, call Call, phase Phase) ([]Attribute, []Event, error) {
	return f(ctx, call, phase)
}

// Static returns a Resolver that applies a fixed attribute set in the given
// phase. Useful for declarative mappings that need no access to the call.
func Static(phase Phase, attrs ...Attribute) Resolver {
	return ResolverFunc(func(_ context.Context, _ Call, p Phase) ([]Attribute, []Event, error) {
		if p != phase {
			return nil, nil, nil
		}
		return attrs, nil, nil
	})
}

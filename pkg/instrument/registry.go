package instrument

import (
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/traceweave/traceweave/pkg/handler"
)

// DefaultHandlerKey selects the handler used when a spec names none.
const DefaultHandlerKey = "default"

// InstallFailure records one target that could not be instrumented.
type InstallFailure struct {
	Location Location
	Err      error
}

// InstallResult reports the outcome of a Register call.
type InstallResult struct {
	Installed []Location
	Failed    []InstallFailure
}

// Registry substitutes instrumented proxies for registered methods and
// restores them on Unregister. Install and uninstall are append/remove-only
// and guarded by one mutex; they are not expected to race with active
// calls.
type Registry struct {
	tracer   trace.Tracer
	logger   *zap.Logger
	handlers map[string]handler.Handler

	mu       sync.Mutex
	restores []func()
}

// NewRegistry builds a registry that wraps targets with spans from tracer.
// A default handler is always present; WithHandler adds named ones.
func NewRegistry(tracer trace.Tracer, opts ...RegistryOption) *Registry {
	r := &Registry{
		tracer:   tracer,
		logger:   zap.NewNop(),
		handlers: map[string]handler.Handler{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if _, ok := r.handlers[DefaultHandlerKey]; !ok {
		r.handlers[DefaultHandlerKey] = handler.New(handler.WithLogger(r.logger))
	}
	return r
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHandler registers a named span lifecycle handler specs can select via
// HandlerKey.
func WithHandler(key string, h handler.Handler) RegistryOption {
	return func(r *Registry) {
		if key != "" && h != nil {
			r.handlers[key] = h
		}
	}
}

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Register installs a proxy for every spec. A failing target (absent
// library, shape mismatch) is logged and isolated: it never prevents
// installation of the remaining targets.
func (r *Registry) Register(specs ...MethodSpec) InstallResult {
	var result InstallResult
	for _, spec := range specs {
		restore, err := r.install(spec)
		if err != nil {
			r.logger.Error("instrument: install failed",
				zap.String("location", spec.Location.String()),
				zap.Error(err))
			result.Failed = append(result.Failed, InstallFailure{Location: spec.Location, Err: err})
			continue
		}
		r.mu.Lock()
		r.restores = append(r.restores, restore)
		r.mu.Unlock()
		result.Installed = append(result.Installed, spec.Location)
	}
	return result
}

func (r *Registry) install(spec MethodSpec) (func(), error) {
	if spec.Swap == nil {
		return nil, ErrNilSwap
	}
	if spec.Target == nil {
		return nil, ErrNilTarget
	}
	h := r.handlerFor(spec.HandlerKey)

	var proxy any
	switch spec.Strategy {
	case StrategySync:
		fn, ok := spec.Target.(Fn)
		if !ok {
			return nil, fmt.Errorf("%w: want Fn, got %T", ErrTargetShape, spec.Target)
		}
		proxy = Wrap(r.tracer, h, spec, fn)
	case StrategyAsync:
		fn, ok := spec.Target.(AsyncFn)
		if !ok {
			return nil, fmt.Errorf("%w: want AsyncFn, got %T", ErrTargetShape, spec.Target)
		}
		proxy = WrapAsync(r.tracer, h, spec, fn)
	case StrategyStream:
		fn, ok := spec.Target.(StreamFn)
		if !ok {
			return nil, fmt.Errorf("%w: want StreamFn, got %T", ErrTargetShape, spec.Target)
		}
		proxy = WrapStream(r.tracer, h, spec, fn)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, spec.Strategy)
	}

	restore, err := spec.Swap(proxy)
	if err != nil {
		return nil, fmt.Errorf("swap %s: %w", spec.Location, err)
	}
	if restore == nil {
		restore = func() {}
	}
	return restore, nil
}

func (r *Registry) handlerFor(key string) handler.Handler {
	if key == "" {
		key = DefaultHandlerKey
	}
	if h, ok := r.handlers[key]; ok {
		return h
	}
	r.logger.Warn("instrument: unknown handler key, using default", zap.String("key", key))
	return r.handlers[DefaultHandlerKey]
}

// Unregister restores every original method in reverse installation order.
// Safe to call repeatedly; a second call is a no-op and no instrumented
// closures referencing stale handlers are retained.
func (r *Registry) Unregister() {
	r.mu.Lock()
	restores := r.restores
	r.restores = nil
	r.mu.Unlock()
	for i := len(restores) - 1; i >= 0; i-- {
		restores[i]()
	}
}

// Package telemetry wires the SDK together: it reads configuration,
// builds the tracer provider with the configured sinks, installs the
// instrumentation registry and exposes one Shutdown for the whole stack.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/traceweave/traceweave/pkg/export"
	"github.com/traceweave/traceweave/pkg/handler"
	"github.com/traceweave/traceweave/pkg/instrument"
)

const defaultShutdownTimeout = 15 * time.Second

var (
	activeMu sync.Mutex
	active   *Telemetry
)

// Telemetry owns the tracer provider, the instrumentation registry and
// every sink built by Setup.
type Telemetry struct {
	provider *sdktrace.TracerProvider
	registry *instrument.Registry
	stamper  *stampingProcessor
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

type setup struct {
	cfg      *Config
	logger   *zap.Logger
	sinks    []export.Sink
	specs    []instrument.MethodSpec
	handlers map[string]handler.Handler
	resAttrs []attribute.KeyValue
	signal   export.ReadySignal
}

// Option configures Setup.
type Option func(*setup)

// WithConfig bypasses the environment and uses cfg directly.
func WithConfig(cfg *Config) Option {
	return func(s *setup) { s.cfg = cfg }
}

// WithLogger sets the logger shared by every component Setup builds.
func WithLogger(logger *zap.Logger) Option {
	return func(s *setup) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSink mounts an extra sink alongside the configured exporters.
func WithSink(sink export.Sink) Option {
	return func(s *setup) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// WithSpecs registers instrumentation targets during Setup.
func WithSpecs(specs ...instrument.MethodSpec) Option {
	return func(s *setup) { s.specs = append(s.specs, specs...) }
}

// WithSpanHandler adds a named span lifecycle handler specs can select.
func WithSpanHandler(key string, h handler.Handler) Option {
	return func(s *setup) {
		if key != "" && h != nil {
			s.handlers[key] = h
		}
	}
}

// WithResourceAttributes appends attributes to the provider resource.
func WithResourceAttributes(attrs ...attribute.KeyValue) Option {
	return func(s *setup) { s.resAttrs = append(s.resAttrs, attrs...) }
}

// WithReadySignal overrides the host signal driving deferred delivery.
func WithReadySignal(signal export.ReadySignal) Option {
	return func(s *setup) { s.signal = signal }
}

// Setup builds the SDK for serviceName: resource, tracer provider with a
// batch processor per sink, the scope stamping processor, and the
// instrumentation registry. It also sets the global tracer provider and
// propagator. Only one instance may be live at a time; a second Setup
// before Shutdown fails.
func Setup(serviceName string, opts ...Option) (*Telemetry, error) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active != nil {
		return nil, errors.New("telemetry: setup already done, call Shutdown first")
	}

	s := &setup{
		logger:   zap.NewNop(),
		handlers: map[string]handler.Handler{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg == nil {
		cfg, err := LoadConfig()
		if err != nil {
			return nil, err
		}
		s.cfg = cfg
	}
	if serviceName == "" {
		serviceName = s.cfg.ServiceName
	}

	sinks, err := buildSinks(s)
	if err != nil {
		return nil, err
	}

	// Schemaless keeps Merge from rejecting the default resource's schema URL.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		append([]attribute.KeyValue{
			semconv.ServiceNameKey.String(serviceName),
			attribute.String(versionAttribute, sdkVersion),
			attribute.String(languageAttribute, sdkLanguage),
		}, s.resAttrs...)...,
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	stamper := newStampingProcessor(serviceName)
	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(stamper),
	}
	for _, sink := range sinks {
		providerOpts = append(providerOpts, sdktrace.WithBatcher(export.NewExporter(sink),
			sdktrace.WithMaxExportBatchSize(s.cfg.BatchSize),
			sdktrace.WithBatchTimeout(s.cfg.BatchInterval),
		))
	}
	provider := sdktrace.NewTracerProvider(providerOpts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	registryOpts := []instrument.RegistryOption{instrument.WithRegistryLogger(s.logger)}
	for key, h := range s.handlers {
		registryOpts = append(registryOpts, instrument.WithHandler(key, h))
	}
	registry := instrument.NewRegistry(provider.Tracer(serviceName), registryOpts...)
	if len(s.specs) > 0 {
		result := registry.Register(s.specs...)
		for _, failure := range result.Failed {
			s.logger.Warn("telemetry: target not instrumented",
				zap.String("location", failure.Location.String()),
				zap.Error(failure.Err))
		}
	}

	t := &Telemetry{
		provider: provider,
		registry: registry,
		stamper:  stamper,
		logger:   s.logger,
	}
	active = t
	return t, nil
}

func buildSinks(s *setup) ([]export.Sink, error) {
	cfg := s.cfg
	sinks := append([]export.Sink{}, s.sinks...)
	for _, name := range cfg.Exporters {
		switch name {
		case "console":
			sinks = append(sinks, export.NewConsoleSink(os.Stdout))
		case "file":
			sink, err := export.NewFileSink(cfg.OutputPath,
				export.WithServiceName(cfg.ServiceName),
				export.WithFileLogger(s.logger))
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, sink)
		case "http":
			if cfg.Endpoint == "" {
				return nil, errors.New("telemetry: http exporter needs TRACEWEAVE_ENDPOINT")
			}
			httpOpts := []export.HTTPOption{
				export.WithAPIKey(cfg.APIKey),
				export.WithHTTPLogger(s.logger),
				export.WithRetry(export.RetryConfig{
					MaxRetries:      cfg.MaxRetries,
					InitialInterval: export.DefaultRetryConfig().InitialInterval,
					MaxInterval:     export.DefaultRetryConfig().MaxInterval,
				}),
			}
			if proc := deferredProcessor(s); proc != nil {
				httpOpts = append(httpOpts, export.WithTaskProcessor(proc))
			}
			sinks = append(sinks, export.NewHTTPSink(cfg.Endpoint, httpOpts...))
		case "otlp":
			otlpOpts := []otlptracehttp.Option{}
			if cfg.Endpoint != "" {
				otlpOpts = append(otlpOpts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
			}
			sink, err := export.NewOTLPSink(context.Background(), otlpOpts...)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, sink)
		case "memory":
			sinks = append(sinks, export.NewMemorySink())
		default:
			return nil, fmt.Errorf("telemetry: unknown exporter %q", name)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, export.NewConsoleSink(os.Stdout))
	}
	return sinks, nil
}

// deferredProcessor returns a task processor when delivery must be
// deferred, either by configuration or because the host freezes between
// invocations. Returns nil for always-on hosts.
func deferredProcessor(s *setup) export.TaskProcessor {
	if !s.cfg.Deferred && !IsFrozenHost() {
		return nil
	}
	signal := s.signal
	if signal == nil {
		if api := lambdaRuntimeAPI(); api != "" {
			signal = export.NewRuntimeAPISignal("http://"+api+"/2018-06-01/runtime/invocation/next", http.DefaultClient)
		} else {
			// No host signal available, treat every instant as ready.
			signal = export.ReadySignalFunc(func(context.Context) error { return nil })
		}
	}
	return export.NewDeferredProcessor(signal, export.WithDeferredLogger(s.logger))
}

// Tracer returns a tracer from the provider Setup built.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.provider.Tracer(name)
}

// Registry exposes the instrumentation registry for late Register calls.
func (t *Telemetry) Registry() *instrument.Registry {
	return t.registry
}

// SetSessionProperties replaces the session attributes stamped onto every
// subsequently started span as session.<key>.
func (t *Telemetry) SetSessionProperties(props map[string]string) {
	t.stamper.setSession(props)
}

// ForceFlush drains every batch processor and sink.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	return t.provider.ForceFlush(ctx)
}

// Shutdown uninstalls the instrumentation, flushes and closes the
// provider and releases the live instance. Repeated calls are no-ops.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
	}

	t.registry.Unregister()
	err := t.provider.Shutdown(ctx)

	activeMu.Lock()
	if active == t {
		active = nil
	}
	activeMu.Unlock()
	return err
}

package handler

import (
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Option configures the default handler.
type Option func(*Default)

// WithLogger sets the logger used for hydration and cleanup failures.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Default) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithPropagator sets the propagator used to extract inbound trace context.
// Default: W3C trace context.
func WithPropagator(propagator propagation.TextMapPropagator) Option {
	return func(h *Default) {
		if propagator != nil {
			h.propagator = propagator
		}
	}
}

// WithIdentityAttribute sets the attribute PostTask propagates from a child
// span to its parent. Default "agent.name"; empty disables propagation.
func WithIdentityAttribute(key string) Option {
	return func(h *Default) {
		h.identityAttr = key
	}
}

package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/traceweave/traceweave/pkg/scope"
)

const (
	versionAttribute  = "traceweave.version"
	languageAttribute = "traceweave.language"
	workflowAttribute = "workflow.name"
	sessionPrefix     = "session."
	scopePrefix       = "scope."

	sdkVersion  = "0.4.0"
	sdkLanguage = "go"
)

// stampingProcessor annotates every span at start time with the SDK
// identity, the workflow name, the active scopes and any session
// properties. It performs no buffering, so OnEnd is a no-op.
type stampingProcessor struct {
	workflow string

	mu      sync.RWMutex
	session map[string]string
}

func newStampingProcessor(workflow string) *stampingProcessor {
	return &stampingProcessor{workflow: workflow}
}

func (p *stampingProcessor) setSession(props map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = make(map[string]string, len(props))
	for k, v := range props {
		p.session[k] = v
	}
}

func (p *stampingProcessor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	attrs := []attribute.KeyValue{
		attribute.String(versionAttribute, sdkVersion),
		attribute.String(languageAttribute, sdkLanguage),
		attribute.String(workflowAttribute, p.workflow),
	}
	for name, value := range scope.Active(parent) {
		attrs = append(attrs, attribute.String(scopePrefix+name, value))
	}
	p.mu.RLock()
	for k, v := range p.session {
		attrs = append(attrs, attribute.String(sessionPrefix+k, v))
	}
	p.mu.RUnlock()
	s.SetAttributes(attrs...)
}

func (p *stampingProcessor) OnEnd(sdktrace.ReadOnlySpan) {}

func (p *stampingProcessor) Shutdown(context.Context) error { return nil }

func (p *stampingProcessor) ForceFlush(context.Context) error { return nil }

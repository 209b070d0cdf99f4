package export

import (
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NoParent is the sentinel written for a root span's parent id.
const NoParent = "None"

// WireSpan is the JSON form every sink delivers.
type WireSpan struct {
	Name       string         `json:"name"`
	Context    WireContext    `json:"context"`
	ParentID   string         `json:"parent_id"`
	StartTime  string         `json:"start_time"`
	EndTime    string         `json:"end_time"`
	Status     WireStatus     `json:"status"`
	Attributes map[string]any `json:"attributes"`
	Events     []WireEvent    `json:"events"`
	Resource   WireResource   `json:"resource"`
}

// WireContext carries the span's identity: 32 hex chars of trace id, 16 of
// span id, no 0x prefix.
type WireContext struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
}

// WireStatus is UNSET, OK, or ERROR with an optional message.
type WireStatus struct {
	StatusCode  string `json:"status_code"`
	Description string `json:"description,omitempty"`
}

// WireEvent is one named, timestamped sub-record of a span.
type WireEvent struct {
	Name       string         `json:"name"`
	Timestamp  string         `json:"timestamp"`
	Attributes map[string]any `json:"attributes"`
}

// WireResource carries process-wide metadata such as the service name.
type WireResource struct {
	Attributes map[string]any `json:"attributes"`
}

// Envelope is the batch wrapper all sinks POST or store.
type Envelope struct {
	Batch []WireSpan `json:"batch"`
}

// Serialize converts a finished span to its wire form.
func Serialize(span sdktrace.ReadOnlySpan) WireSpan {
	sc := span.SpanContext()
	parent := NoParent
	if span.Parent().IsValid() {
		parent = span.Parent().SpanID().String()
	}

	attrs := make(map[string]any, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}

	events := make([]WireEvent, 0, len(span.Events()))
	for _, event := range span.Events() {
		eventAttrs := make(map[string]any, len(event.Attributes))
		for _, kv := range event.Attributes {
			eventAttrs[string(kv.Key)] = kv.Value.AsInterface()
		}
		events = append(events, WireEvent{
			Name:       event.Name,
			Timestamp:  formatTime(event.Time),
			Attributes: eventAttrs,
		})
	}

	resourceAttrs := map[string]any{}
	if res := span.Resource(); res != nil {
		for _, kv := range res.Attributes() {
			resourceAttrs[string(kv.Key)] = kv.Value.AsInterface()
		}
	}

	return WireSpan{
		Name: span.Name(),
		Context: WireContext{
			TraceID: sc.TraceID().String(),
			SpanID:  sc.SpanID().String(),
		},
		ParentID:  parent,
		StartTime: formatTime(span.StartTime()),
		EndTime:   formatTime(span.EndTime()),
		Status: WireStatus{
			StatusCode:  statusCode(span.Status().Code),
			Description: span.Status().Description,
		},
		Attributes: attrs,
		Events:     events,
		Resource:   WireResource{Attributes: resourceAttrs},
	}
}

// SerializeBatch wraps the spans in the batch envelope.
func SerializeBatch(spans []sdktrace.ReadOnlySpan) Envelope {
	batch := make([]WireSpan, 0, len(spans))
	for _, span := range spans {
		batch = append(batch, Serialize(span))
	}
	return Envelope{Batch: batch}
}

// MarshalBatch serializes the spans to the JSON batch envelope.
func MarshalBatch(spans []sdktrace.ReadOnlySpan) ([]byte, error) {
	return json.Marshal(SerializeBatch(spans))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func statusCode(code codes.Code) string {
	switch code {
	case codes.Ok:
		return "OK"
	case codes.Error:
		return "ERROR"
	default:
		return "UNSET"
	}
}

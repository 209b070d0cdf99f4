package scope

import (
	"context"
	"net/http"
)

// HeaderMapping maps inbound HTTP header names to scope names. It mirrors
// declarative scope configuration: a request carrying a mapped header starts
// the corresponding scope for the duration of its handling.
type HeaderMapping map[string]string

// FromHeaders starts a scope for every mapped header present in the request
// headers. The scope value records both the header name and its value so
// downstream spans stay attributable to the original request.
func FromHeaders(ctx context.Context, headers http.Header, mapping HeaderMapping) context.Context {
	for header, name := range mapping {
		if value := headers.Get(header); value != "" {
			ctx = Start(ctx, name, header+": "+value)
		}
	}
	return ctx
}

// Middleware wraps an http.Handler so every request runs with the mapped
// scopes active. The scopes stop when the handler returns because they live
// on the request context.
func Middleware(mapping HeaderMapping) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := FromHeaders(r.Context(), r.Header, mapping)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

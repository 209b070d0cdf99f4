package scope

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStop(t *testing.T) {
	ctx := context.Background()

	ctx = Start(ctx, "request", "r1")
	assert.Equal(t, map[string]string{"request": "r1"}, Active(ctx))

	inner := Start(ctx, "tenant", "acme")
	assert.Equal(t, map[string]string{"request": "r1", "tenant": "acme"}, Active(inner))

	// The outer context never saw the inner scope.
	assert.Equal(t, map[string]string{"request": "r1"}, Active(ctx))

	stopped := Stop(inner, "request")
	assert.Equal(t, map[string]string{"tenant": "acme"}, Active(stopped))
}

func TestStartGeneratesValue(t *testing.T) {
	ctx := Start(context.Background(), "session", "")
	scopes := Active(ctx)
	require.Contains(t, scopes, "session")
	assert.NotEmpty(t, scopes["session"])
}

func TestStartEmptyNameIsNoop(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, Start(ctx, "", "value"))
}

func TestStopAbsentScopeIsNoop(t *testing.T) {
	ctx := Start(context.Background(), "request", "r1")
	assert.Equal(t, ctx, Stop(ctx, "missing"))
}

func TestStartAll(t *testing.T) {
	ctx := StartAll(context.Background(), map[string]string{
		"request": "r1",
		"tenant":  "acme",
	})
	assert.Equal(t, map[string]string{"request": "r1", "tenant": "acme"}, Active(ctx))
}

func TestRun(t *testing.T) {
	var inside map[string]string
	err := Run(context.Background(), "job", "j42", func(ctx context.Context) error {
		inside = Active(ctx)
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, map[string]string{"job": "j42"}, inside)
}

func TestWrapFunc(t *testing.T) {
	fn := WrapFunc("request", func(args ...any) string {
		return args[0].(string)
	}, func(ctx context.Context, args ...any) (any, error) {
		return Active(ctx)["request"], nil
	})

	got, err := fn(context.Background(), "r7")
	require.NoError(t, err)
	assert.Equal(t, "r7", got)
}

func TestWrapFuncValuePanicFallsBackToGenerated(t *testing.T) {
	fn := WrapFunc("request", func(args ...any) string {
		panic("bad value fn")
	}, func(ctx context.Context, args ...any) (any, error) {
		return Active(ctx)["request"], nil
	})

	got, err := fn(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, got, "scope still starts with a generated value")
}

func TestAmbientAttachDetach(t *testing.T) {
	defer ambient.reset()

	token := Attach("request", "r1")
	assert.Equal(t, map[string]string{"request": "r1"}, Active(context.Background()))

	Detach(token)
	assert.Empty(t, Active(context.Background()))
}

func TestAmbientDetachIsIdempotent(t *testing.T) {
	defer ambient.reset()

	token := Attach("request", "r1")
	Detach(token)
	assert.NotPanics(t, func() { Detach(token) })
	assert.NotPanics(t, func() { Detach(nil) })
	assert.Empty(t, Active(context.Background()))
}

func TestAmbientDetachOutOfOrder(t *testing.T) {
	defer ambient.reset()

	outer := Attach("request", "outer")
	inner := Attach("request", "inner")

	// A stream resolving late can release the outer token first.
	Detach(outer)
	assert.Equal(t, "inner", Active(context.Background())["request"])

	Detach(inner)
	assert.Empty(t, Active(context.Background()))
}

func TestAmbientShadowing(t *testing.T) {
	defer ambient.reset()

	first := Attach("tenant", "a")
	second := Attach("tenant", "b")
	assert.Equal(t, "b", Active(context.Background())["tenant"])

	Detach(second)
	assert.Equal(t, "a", Active(context.Background())["tenant"])
	Detach(first)
}

func TestContextScopesWinOverAmbient(t *testing.T) {
	defer ambient.reset()

	Attach("request", "ambient")
	ctx := Start(context.Background(), "request", "ctx")
	assert.Equal(t, "ctx", Active(ctx)["request"])
}

func TestFromHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-Request-Id", "abc123")
	headers.Set("Unrelated", "ignored")

	ctx := FromHeaders(context.Background(), headers, HeaderMapping{
		"X-Request-Id": "request",
		"X-Missing":    "missing",
	})

	scopes := Active(ctx)
	assert.Equal(t, "X-Request-Id: abc123", scopes["request"])
	assert.NotContains(t, scopes, "missing")
}

func TestMiddleware(t *testing.T) {
	var seen map[string]string
	handler := Middleware(HeaderMapping{"X-Request-Id": "request"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = Active(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "X-Request-Id: abc123", seen["request"])
}

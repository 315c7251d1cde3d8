package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	"github.com/hanpama/typegraph/internal/eventbus"
	"github.com/hanpama/typegraph/internal/events"
	"github.com/hanpama/typegraph/internal/introspection"
	"github.com/hanpama/typegraph/internal/query"
	"github.com/hanpama/typegraph/internal/queryid"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

const shopSDL = `
type Money @parameterType { amount: Decimal!, currency: String! }
type Receipt { id: ID! }

type Shop @service {
  pay(money: Money! @constraint(property: "currency", equals: "USD")): Receipt
}
`

const usdQuery = `{"goals":[{"type":"Receipt"}],"facts":[{"type":"Money","value":{"amount":10,"currency":"USD"}}]}`

var shopSchema = schema.MustBuildFromSDL(shopSDL)

func receipt(t *testing.T) typed.Instance {
	t.Helper()
	v, err := typed.FromRaw(shopSchema, schema.Named("Receipt"), map[string]any{"id": "r-1"}, typed.SourceProvided)
	require.NoError(t, err)
	return v
}

// newTestHandler serves Shop.pay with a fixed receipt. capture, when set,
// sees the context of every call.
func newTestHandler(t *testing.T, capture func(ctx context.Context), opts ...Option) (*Handler, *query.MockInvoker) {
	t.Helper()
	r := receipt(t)
	mock := query.NewMockInvoker(map[string]query.MockHandler{
		"Shop.pay": func(ctx context.Context, _ []typed.Instance) ([]typed.Instance, error) {
			if capture != nil {
				capture(ctx)
			}
			return []typed.Instance{r}, nil
		},
	})
	return New(query.New(shopSchema, []query.Invoker{mock}), opts...), mock
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/query", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestQuery(t *testing.T) {
	h, mock := newTestHandler(t, nil)

	w := post(h, usdQuery)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[QueryResponse](t, w)
	require.NotEmpty(t, resp.ID)
	resp.ID = ""

	want := QueryResponse{
		Goals:       []GoalOutcome{{Goal: "Receipt", Matched: true, Value: map[string]any{"id": "r-1"}}},
		Unmatched:   []string{},
		Invocations: []InvocationInfo{{Operation: "Shop.pay", Invoker: "mock"}},
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, mock.GetCalls(), 1)
}

func TestQueryUnmatchedGoal(t *testing.T) {
	h, mock := newTestHandler(t, nil)

	w := post(h, `{"goals":[{"type":"Receipt"}],"facts":[{"type":"Money","value":{"amount":10,"currency":"GBP"}}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[QueryResponse](t, w)
	require.Equal(t, []string{"Receipt"}, resp.Unmatched)
	require.False(t, resp.Goals[0].Matched)
	require.NotEmpty(t, resp.Goals[0].Reason)
	require.Empty(t, mock.GetCalls())
}

func TestQueryTrace(t *testing.T) {
	h, _ := newTestHandler(t, nil, WithTrace())

	resp := decode[QueryResponse](t, post(h, usdQuery))
	require.NotEmpty(t, resp.Trace)
}

func TestQueryIDIsReported(t *testing.T) {
	var captured string
	h, _ := newTestHandler(t, func(ctx context.Context) { captured, _ = queryid.FromContext(ctx) })

	resp := decode[QueryResponse](t, post(h, usdQuery))
	require.NotEmpty(t, captured)
	require.Equal(t, captured, resp.ID)
}

func TestForwardedHeaders(t *testing.T) {
	var captured metadata.MD
	h, _ := newTestHandler(t, func(ctx context.Context) { captured, _ = metadata.FromOutgoingContext(ctx) }, WithMetadataHeaders("X-Test"))

	req := httptest.NewRequest("POST", "/query", bytes.NewBufferString(usdQuery))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test", "abc")
	req.Header.Set("X-Other", "nope")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"abc"}, captured.Get("x-test"))
	require.Empty(t, captured.Get("x-other"))
}

func TestForwardedHeadersDefaultEmpty(t *testing.T) {
	var captured metadata.MD
	h, _ := newTestHandler(t, func(ctx context.Context) { captured, _ = metadata.FromOutgoingContext(ctx) })

	req := httptest.NewRequest("POST", "/query", bytes.NewBufferString(usdQuery))
	req.Header.Set("X-Test", "abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, captured.Get("x-test"))
}

func TestBatch(t *testing.T) {
	h, mock := newTestHandler(t, nil)

	w := post(h, "["+usdQuery+`,{"goals":[{"type":"Nope"}]}]`)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[[]QueryResponse](t, w)
	require.Len(t, resp, 2)
	require.True(t, resp[0].Goals[0].Matched)
	require.Empty(t, resp[0].Error)
	require.Contains(t, resp[1].Error, `unknown type "Nope"`)
	require.Len(t, mock.GetCalls(), 1)
}

func TestBadRequests(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	tests := map[string]struct {
		body string
		want int
	}{
		"invalid json":     {`{"goals":`, http.StatusBadRequest},
		"no goals":         {`{"goals":[]}`, http.StatusBadRequest},
		"empty batch":      {`[]`, http.StatusBadRequest},
		"bad constraint":   {`{"goals":[{"type":"Receipt","constraints":[{}]}]}`, http.StatusBadRequest},
		"fact of bad type": {`{"goals":[{"type":"Receipt"}],"facts":[{"type":"Money","value":"ten"}]}`, http.StatusBadRequest},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			w := post(h, tc.body)
			require.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}

	req := httptest.NewRequest("GET", "/query", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)

	req = httptest.NewRequest("POST", "/query", bytes.NewBufferString(usdQuery))
	req.Header.Set("Content-Type", "text/plain")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestAbortedQuery(t *testing.T) {
	h := New(query.New(shopSchema, []query.Invoker{query.NewMockInvoker(nil)}))

	w := post(h, usdQuery)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode[QueryResponse](t, w)
	require.Contains(t, resp.Error, "no invoker supports Shop.pay")
	require.Equal(t, []string{"Receipt"}, resp.Unmatched)
}

func TestCORSAndPreflight(t *testing.T) {
	h, _ := newTestHandler(t, nil, WithCORS("*"))

	req := httptest.NewRequest("POST", "/query", bytes.NewBufferString(usdQuery))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	pre := httptest.NewRequest("OPTIONS", "/query", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	require.Equal(t, http.StatusNoContent, pw.Code)
	require.Equal(t, "*", pw.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "X-Test", pw.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSSpecificOrigin(t *testing.T) {
	h, _ := newTestHandler(t, nil, WithCORS("http://app.example"))

	for origin, want := range map[string]string{
		"http://app.example":  "http://app.example",
		"http://evil.example": "",
	} {
		req := httptest.NewRequest("GET", "/healthz", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, want, w.Header().Get("Access-Control-Allow-Origin"), origin)
	}
}

func TestMaxBodyBytes(t *testing.T) {
	h, _ := newTestHandler(t, nil, WithMaxBodyBytes(10))

	w := post(h, usdQuery)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSchema(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	req := httptest.NewRequest("GET", "/schema?edges=1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	doc := decode[introspection.Document](t, w)
	require.Len(t, doc.Services, 1)
	require.Equal(t, "Shop", doc.Services[0].Name)
	require.Equal(t, "mock", doc.Services[0].Operations[0].Invoker)
	require.NotEmpty(t, doc.Graph.Edges)
	require.Positive(t, doc.Graph.Elements)
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	h, _ := newTestHandler(t, nil, WithMetrics(metrics))

	for path, want := range map[string]string{"/healthz": "ok\n", "/metrics": "# metrics\n"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, want, w.Body.String())
	}

	h, _ = newTestHandler(t, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTPEvents(t *testing.T) {
	bus := eventbus.New()
	var (
		mu       sync.Mutex
		started  []string
		finished []int
	)
	eventbus.Subscribe(bus, func(_ context.Context, e events.HTTPStart) {
		mu.Lock()
		defer mu.Unlock()
		started = append(started, e.Request.URL.Path)
	})
	eventbus.Subscribe(bus, func(_ context.Context, e events.HTTPFinish) {
		mu.Lock()
		defer mu.Unlock()
		finished = append(finished, e.Status)
	})
	h, _ := newTestHandler(t, nil, WithEventBus(bus))

	post(h, usdQuery)
	post(h, `{`)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/query", "/query"}, started)
	require.Equal(t, []int{http.StatusOK, http.StatusBadRequest}, finished)
}

func TestPrettyOutput(t *testing.T) {
	h, _ := newTestHandler(t, nil, WithPretty())

	w := post(h, usdQuery)
	require.True(t, strings.Contains(w.Body.String(), "\n  \"goals\""), w.Body.String())
}

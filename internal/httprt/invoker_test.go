package httprt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/typegraph/internal/queryid"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

const accountsSDL = `
type Money @parameterType {
  amount: Decimal!
  currency: String!
}

type Account {
  id: ID!
  balance: Money!
  tags: [String!]
}

type Accounts @service {
  account(id: ID!, expand: Boolean, tags: [String!]): Account @http(url: "/accounts/{id}")
  deposit(id: ID!, money: Money!): Account @http(method: "POST", url: "/accounts/{id}/deposits")
  list(region: String): [Account!] @http(url: "/accounts")
  remove(id: ID!): Account @http(method: "DELETE", url: "/accounts/{id}")
  unbound(id: ID!): Account
}
`

type recorded struct {
	Method string
	Path   string
	Query  map[string][]string
	Body   string
	Header http.Header
}

type accountsServer struct {
	mu   sync.Mutex
	reqs []recorded
}

func (s *accountsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.reqs = append(s.reqs, recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: string(body), Header: r.Header.Clone()})
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/accounts":
		_, _ = io.WriteString(w, `[{"id":"a-1","balance":{"amount":1,"currency":"EUR"}},{"id":"a-2","balance":{"amount":2,"currency":"EUR"}}]`)
	case r.URL.Path == "/accounts/missing":
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"no such account"}`)
	default:
		_, _ = io.WriteString(w, `{"id":"a-1","balance":{"amount":10.5,"currency":"EUR"},"tags":["vip"]}`)
	}
}

func (s *accountsServer) requests() []recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recorded(nil), s.reqs...)
}

type fixture struct {
	schema *schema.Schema
	server *accountsServer
	inv    *Invoker
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	s, err := schema.BuildFromSDL(accountsSDL)
	require.NoError(t, err)
	srv := &accountsServer{}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	inv := NewInvoker(s, append([]Option{WithBaseURL(ts.URL), WithHTTPClient(ts.Client())}, opts...)...)
	return fixture{schema: s, server: srv, inv: inv}
}

func (f fixture) invoke(t *testing.T, ctx context.Context, name string, raw ...any) ([]typed.Instance, error) {
	t.Helper()
	svc, op, ok := f.schema.Operation("Accounts", name)
	require.True(t, ok)
	params := make([]typed.Instance, len(op.Parameters))
	for i, p := range op.Parameters {
		var v any
		if i < len(raw) {
			v = raw[i]
		}
		inst, err := typed.FromRaw(f.schema, p.Type, v, typed.SourceProvided)
		require.NoError(t, err)
		params[i] = inst
	}
	return f.inv.Invoke(ctx, svc, op, params)
}

func TestGetSubstitutesPathAndEncodesQuery(t *testing.T) {
	f := newFixture(t, WithHeader("Authorization", "Bearer t"))

	ctx := queryid.WithID(context.Background(), "q-7")
	out, err := f.invoke(t, ctx, "account", "a-1", true, []any{"vip", "new"})
	require.NoError(t, err)
	require.Len(t, out, 1)

	want := map[string]any{
		"id":      "a-1",
		"balance": map[string]any{"amount": 10.5, "currency": "EUR"},
		"tags":    []any{"vip"},
	}
	if diff := cmp.Diff(want, typed.ToRaw(out[0])); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, typed.FromOperation("Accounts.account"), out[0].Source())

	reqs := f.server.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, http.MethodGet, reqs[0].Method)
	require.Equal(t, "/accounts/a-1", reqs[0].Path)
	if diff := cmp.Diff(map[string][]string{"expand": {"true"}, "tags": {"vip", "new"}}, reqs[0].Query); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
	require.Empty(t, reqs[0].Body)
	require.Equal(t, "q-7", reqs[0].Header.Get(HeaderQueryID))
	require.Equal(t, "Bearer t", reqs[0].Header.Get("Authorization"))
}

func TestPostSendsRemainingParamsAsJSON(t *testing.T) {
	f := newFixture(t)

	_, err := f.invoke(t, context.Background(), "deposit", "a-1", map[string]any{"amount": 5, "currency": "EUR"})
	require.NoError(t, err)

	reqs := f.server.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, http.MethodPost, reqs[0].Method)
	require.Equal(t, "/accounts/a-1/deposits", reqs[0].Path)
	require.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(reqs[0].Body), &body))
	want := map[string]any{"money": map[string]any{"amount": 5.0, "currency": "EUR"}}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestListResultAndNullParams(t *testing.T) {
	f := newFixture(t)

	out, err := f.invoke(t, context.Background(), "list")
	require.NoError(t, err)
	require.Len(t, out, 1)
	coll, ok := out[0].(*typed.Collection)
	require.True(t, ok, "got %T", out[0])
	require.Equal(t, 2, coll.Len())

	reqs := f.server.requests()
	require.Empty(t, reqs[0].Query)
}

func TestEmptyBodyIsNull(t *testing.T) {
	f := newFixture(t)

	out, err := f.invoke(t, context.Background(), "remove", "a-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	_, isNull := out[0].(*typed.Null)
	require.True(t, isNull, "got %T", out[0])
}

func TestNon2xxIsStatusError(t *testing.T) {
	f := newFixture(t)

	_, err := f.invoke(t, context.Background(), "account", "missing")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusNotFound, se.Code)
	require.Contains(t, se.Body, "no such account")
}

func TestCanSupport(t *testing.T) {
	f := newFixture(t)

	svc, op, _ := f.schema.Operation("Accounts", "account")
	require.True(t, f.inv.CanSupport(svc, op))
	svc, op, _ = f.schema.Operation("Accounts", "unbound")
	require.False(t, f.inv.CanSupport(svc, op))
}

func TestExpandURL(t *testing.T) {
	args := map[string]any{"id": "a/1", "n": int64(3), "rest": "kept"}
	got, err := expandURL("http://h/x/{id}/{n}", args)
	require.NoError(t, err)
	require.Equal(t, "http://h/x/a%2F1/3", got)
	require.Equal(t, map[string]any{"rest": "kept"}, args)

	_, err = expandURL("http://h/{missing}", map[string]any{})
	require.ErrorIs(t, err, ErrMissingPathParam)
}

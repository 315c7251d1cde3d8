package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/typegraph/internal/introspection"
	"github.com/hanpama/typegraph/internal/server"
)

const accountsSDL = `
scalar AccountId

type Money @parameterType {
  amount: Decimal!
  currency: String!
}

type Account {
  id: AccountId!
  balance: Money!
}

type Accounts @service {
  account(id: AccountId!): Account @http(url: "/accounts/{id}") @cacheable(ttl: "30s")
}
`

const ledgerSDL = `
type Ledger @service @grpc(service: "bank.Ledger") {
  history(id: AccountId!): [Money!]
}

type Audit @service {
  review(id: AccountId!): Account
}
`

// writeSchema writes each document into a fresh schema root.
func writeSchema(t *testing.T, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, sdl := range docs {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(sdl), 0o644))
	}
	return dir
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestHelp(t *testing.T) {
	out, _, err := runCLI(t, "", "help")
	require.NoError(t, err)
	require.Contains(t, out, "COMMANDS:")

	out, _, err = runCLI(t, "", "help", "serve")
	require.NoError(t, err)
	require.Contains(t, out, "-server.addr")
	require.Contains(t, out, "-grpc.endpoint")

	_, _, err = runCLI(t, "", "help", "nope")
	require.ErrorContains(t, err, `unknown help topic "nope"`)
}

func TestUnknownCommand(t *testing.T) {
	_, stderr, err := runCLI(t, "", "frobnicate")
	require.ErrorContains(t, err, `unknown command "frobnicate"`)
	require.Contains(t, stderr, "USAGE:")

	_, _, err = runCLI(t, "")
	require.ErrorContains(t, err, "missing command")
}

func TestCheck(t *testing.T) {
	root := writeSchema(t, map[string]string{"accounts.graphql": accountsSDL, "ledger/ledger.graphql": ledgerSDL})

	out, _, err := runCLI(t, "", "check", "-schema.root", root)
	require.NoError(t, err)
	require.Contains(t, out, "unbound operation Audit.review\n")
	require.NotContains(t, out, "Ledger.history")
	require.Contains(t, out, "ok: ")
	require.Contains(t, out, "3 services, 3 operations")
}

func TestCheckReportsSchemaErrors(t *testing.T) {
	root := writeSchema(t, map[string]string{"broken.graphql": `type Account { id: Missing! }`})

	_, _, err := runCLI(t, "", "check", "-schema.root", root)
	require.Error(t, err)
}

func TestDescribe(t *testing.T) {
	root := writeSchema(t, map[string]string{"accounts.graphql": accountsSDL})

	out, _, err := runCLI(t, "", "describe", "-schema.root", root, "-edges")
	require.NoError(t, err)

	var doc introspection.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Len(t, doc.Services, 1)
	require.Equal(t, "Accounts", doc.Services[0].Name)
	require.NotEmpty(t, doc.Graph.Edges)
	_, ok := doc.Lookup("Account")
	require.True(t, ok)
}

func TestCompileProto(t *testing.T) {
	root := writeSchema(t, map[string]string{"accounts.graphql": accountsSDL, "ledger.graphql": ledgerSDL})
	outDir := t.TempDir()

	out, _, err := runCLI(t, "", "compile-proto", "-schema.root", root, "-out", outDir)
	require.NoError(t, err)
	files := strings.Fields(out)
	require.NotEmpty(t, files)
	for _, f := range files {
		require.True(t, strings.HasSuffix(f, ".proto"), f)
		_, err := os.Stat(f)
		require.NoError(t, err)
	}

	_, _, err = runCLI(t, "", "compile-proto", "-schema.root", root)
	require.ErrorContains(t, err, "-out is required")
}

func TestQueryOverHTTP(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"a-1","balance":{"amount":5,"currency":"EUR"}}`)
	}))
	defer ts.Close()

	root := writeSchema(t, map[string]string{"accounts.graphql": accountsSDL})
	req := `{"goals":[{"type":"Account"}],"facts":[{"type":"AccountId","value":"a-1"}]}`

	out, _, err := runCLI(t, req, "query", "-schema.root", root, "-http.base-url", ts.URL, "-log.level", "error")
	require.NoError(t, err)

	var resp server.QueryResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Goals, 1)
	require.True(t, resp.Goals[0].Matched, out)
	require.Equal(t, map[string]any{"id": "a-1", "balance": map[string]any{"amount": float64(5), "currency": "EUR"}}, resp.Goals[0].Value)
	require.Equal(t, []invocation{{"Accounts.account", "http"}}, summarize(resp.Invocations))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/accounts/a-1"}, paths)
}

func TestQueryRequestFromFile(t *testing.T) {
	root := writeSchema(t, map[string]string{"accounts.graphql": accountsSDL})
	file := filepath.Join(t.TempDir(), "req.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"goals":[{"type":"Nope"}]}`), 0o644))

	_, _, err := runCLI(t, "", "query", "-schema.root", root, "-f", file)
	require.ErrorContains(t, err, `unknown type "Nope"`)
}

type invocation struct{ operation, invoker string }

func summarize(infos []server.InvocationInfo) []invocation {
	out := make([]invocation, len(infos))
	for i, info := range infos {
		out[i] = invocation{info.Operation, info.Invoker}
	}
	return out
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "typegraph.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  addr: ":9000"
engine:
  max_depth: 4
grpc:
  endpoints:
    "*": ["default:443"]
`), 0o644))

	c := &cli{stderr: io.Discard}
	cfg, err := c.parseFlags("serve", serveUsage, []string{
		"-config", file,
		"-engine.max-depth", "5",
		"-grpc.endpoint", "bank.Ledger=ledger:443",
		"-server.forward-header", "X-Tenant",
		"-http.header", "Authorization=Bearer t",
		"-cache.default-ttl", "2m",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.Addr)
	require.Equal(t, 5, cfg.Engine.MaxDepth)
	require.Equal(t, map[string][]string{"*": {"default:443"}, "bank.Ledger": {"ledger:443"}}, cfg.GRPC.Endpoints)
	require.Equal(t, []string{"X-Tenant"}, cfg.Server.ForwardHeaders)
	require.Equal(t, map[string]string{"Authorization": "Bearer t"}, cfg.HTTP.Headers)
	require.Equal(t, 2*time.Minute, cfg.Cache.DefaultTTL)
}

func TestInvalidConfigIsRejected(t *testing.T) {
	c := &cli{stderr: io.Discard}
	_, err := c.parseFlags("serve", serveUsage, []string{"-engine.concurrency", "0", "-cache.store", "memcached"}, nil)
	require.ErrorContains(t, err, "engine.concurrency must be at least 1")
	require.ErrorContains(t, err, "cache.store must be lru, redis or none")
}

func TestMissingGRPCEndpoint(t *testing.T) {
	root := writeSchema(t, map[string]string{"accounts.graphql": accountsSDL, "ledger.graphql": ledgerSDL})

	_, _, err := runCLI(t, `{"goals":[{"type":"Account"}]}`, "query", "-schema.root", root)
	require.ErrorContains(t, err, "no grpc endpoint for bank.Ledger")
}

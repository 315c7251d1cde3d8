package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hanpama/typegraph/internal/cachert"
	"github.com/hanpama/typegraph/internal/config"
	"github.com/hanpama/typegraph/internal/ctxlog"
	"github.com/hanpama/typegraph/internal/eventbus"
	"github.com/hanpama/typegraph/internal/graph"
	"github.com/hanpama/typegraph/internal/grpcrt"
	"github.com/hanpama/typegraph/internal/grpctp"
	"github.com/hanpama/typegraph/internal/httprt"
	"github.com/hanpama/typegraph/internal/introspection"
	"github.com/hanpama/typegraph/internal/metrics"
	"github.com/hanpama/typegraph/internal/natsrt"
	"github.com/hanpama/typegraph/internal/otel"
	"github.com/hanpama/typegraph/internal/protoreg"
	"github.com/hanpama/typegraph/internal/query"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/server"
	"github.com/hanpama/typegraph/internal/sqlrt"
	"github.com/hanpama/typegraph/internal/typed"
)

const rootUsage = `typegraph: semantic type graph query engine

USAGE:
  typegraph <command> [flags]

COMMANDS:
  serve            Run the HTTP query server
  query            Run one query request (JSON) and print the result
  check            Load and validate the schema, report unbound operations
  describe         Print the schema and its semantic graph as JSON
  compile-proto    Generate .proto files for gRPC-bound services
  help             Show help for any command
`

const commonUsage = `COMMON FLAGS:
  -config <file>                       YAML config file; flags override its values
  -schema.root <dir>                   Schema root directory (default: .)
  -schema.pattern <glob>               Schema file glob (default: **/*.graphql)
  -log.level <level>                   debug, info, warn or error (default: info)
  -log.format <format>                 text or json (default: text)
`

const engineUsage = `ENGINE FLAGS:
  -engine.max-depth N                  Max sub-query nesting (default: 8)
  -engine.max-search-attempts N        Paths tried per goal (default: 25)
  -engine.concurrency N                Goals resolved at once (default: 1)
  -engine.collection-fan-out           Add collection members as facts
  -grpc.endpoint <svc=host:port>       Map a proto service to an endpoint. Repeatable;
                                       use * to set a default:
                                         -grpc.endpoint *=host:port
  -grpc.max-conns-per-endpoint N       Max TCP conns per endpoint (default: 2)
  -grpc.timeout <duration>             RPC timeout (default: 3s)
  -http.base-url <url>                 Base URL for relative @http bindings
  -http.timeout <duration>             HTTP call timeout (default: 5s)
  -http.header <name=value>            Header sent on every HTTP call. Repeatable
  -nats.url <url>                      NATS server; enables @nats bindings
  -nats.timeout <duration>             Request timeout (default: 3s)
  -sql.driver <name>                   pgx or sqlite3 (default: pgx)
  -sql.dsn <dsn>                       Database; enables @sql bindings
  -cache.store <store>                 lru, redis or none (default: lru)
  -cache.size N                        LRU entries (default: 1024)
  -cache.default-ttl <duration>        TTL when @cacheable has none (default: 1m)
  -cache.redis-addr <addr>             Redis address for the redis store
  -cache.redis-prefix <prefix>         Redis key prefix
`

const serveUsage = `serve FLAGS:
  -server.addr <addr>                  HTTP listen address (default: :8080)
  -server.timeout <duration>           Per-request timeout (default: 10s)
  -server.pretty                       Pretty-print JSON responses
  -server.max-body-bytes N             Request body limit (default: 1048576)
  -server.cors-origin <origin>         Allowed CORS origin. Repeatable
  -server.forward-header <name>        Forward HTTP header to gRPC metadata. Repeatable
  -server.trace                        Include evaluated paths in responses
  -otel.endpoint <addr>                OTLP collector endpoint
  -otel.service <name>                 OpenTelemetry service name (default: typegraph)

` + engineUsage + "\n" + commonUsage

const queryUsage = `query FLAGS:
  -f <file>                            Request file, - for stdin (default: -)
  -trace                               Include evaluated paths in the output

` + engineUsage + "\n" + commonUsage

const checkUsage = "check FLAGS:\n\n" + commonUsage

const describeUsage = `describe FLAGS:
  -edges                               List every graph edge

` + commonUsage

const compileProtoUsage = `compile-proto FLAGS:
  -out <dir>                           Output directory for generated .proto files (required)

` + commonUsage

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "typegraph:", err)
		os.Exit(1)
	}
}

// cli holds the standard streams of one run.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	if len(args) == 0 {
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := args[0]
	cmdArgs := args[1:]
	switch cmd {
	case "serve":
		return c.serve(ctx, cmdArgs)
	case "query":
		return c.query(ctx, cmdArgs)
	case "check":
		return c.check(ctx, cmdArgs)
	case "describe":
		return c.describe(ctx, cmdArgs)
	case "compile-proto":
		return c.compileProto(ctx, cmdArgs)
	case "help", "-h", "-help", "--help":
		return c.help(cmdArgs)
	default:
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *cli) help(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.stdout, rootUsage)
		return nil
	}
	usage, ok := map[string]string{
		"serve":         serveUsage,
		"query":         queryUsage,
		"check":         checkUsage,
		"describe":      describeUsage,
		"compile-proto": compileProtoUsage,
	}[args[0]]
	if !ok {
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	fmt.Fprint(c.stdout, usage)
	return nil
}

func (c *cli) serve(ctx context.Context, args []string) error {
	var trace bool
	cfg, err := c.parseFlags("serve", serveUsage, args, func(fs *flag.FlagSet) {
		fs.BoolVar(&trace, "server.trace", trace, "Include evaluated paths in responses")
	})
	if err != nil {
		return err
	}
	ctx = ctxlog.WithLogger(ctx, newLogger(cfg.Log, c.stderr))
	log := ctxlog.FromContext(ctx)

	bus := eventbus.New()
	shutdown, err := otel.Setup(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, bus)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	defer m.Subscribe(bus)()

	engine, closeEngine, err := buildEngine(ctx, cfg, bus)
	if err != nil {
		return err
	}
	defer closeEngine()

	sopts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithMetrics(metrics.Handler(reg)),
		server.WithEventBus(bus),
	}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if trace {
		sopts = append(sopts, server.WithTrace())
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.Server.CORSOrigins...))
	}
	if len(cfg.Server.ForwardHeaders) > 0 {
		sopts = append(sopts, server.WithMetadataHeaders(cfg.Server.ForwardHeaders...))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           otel.Middleware(server.New(engine, sopts...)),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("query server listening", "addr", cfg.Server.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (c *cli) query(ctx context.Context, args []string) error {
	file := "-"
	var trace bool
	cfg, err := c.parseFlags("query", queryUsage, args, func(fs *flag.FlagSet) {
		fs.StringVar(&file, "f", file, "Request file")
		fs.BoolVar(&trace, "trace", trace, "Include evaluated paths")
	})
	if err != nil {
		return err
	}
	ctx = ctxlog.WithLogger(ctx, newLogger(cfg.Log, c.stderr))

	var data []byte
	if file == "-" {
		data, err = io.ReadAll(c.stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	var req server.QueryRequest
	if err := typed.DecodeJSON(data, &req); err != nil {
		return fmt.Errorf("parse request: %w", err)
	}

	engine, closeEngine, err := buildEngine(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer closeEngine()

	facts, goals, err := server.Decode(engine.Schema(), req)
	if err != nil {
		return err
	}
	res, ferr := engine.Find(ctx, facts, goals...)
	if err := writeJSON(c.stdout, server.Encode(res, ferr, trace)); err != nil {
		return err
	}
	return ferr
}

func (c *cli) check(ctx context.Context, args []string) error {
	cfg, err := c.parseFlags("check", checkUsage, args, nil)
	if err != nil {
		return err
	}
	ctx = ctxlog.WithLogger(ctx, newLogger(cfg.Log, c.stderr))

	s, err := schema.Load(ctx, cfg.Schema.Root, cfg.Schema.Pattern)
	if err != nil {
		return err
	}
	if _, err := protoreg.Build(s); err != nil {
		return fmt.Errorf("grpc bindings: %w", err)
	}
	g := graph.Build(s)

	var problems []error
	ops := 0
	for _, svc := range s.Services() {
		for _, op := range svc.Operations {
			ops++
			if !bound(svc, op) {
				fmt.Fprintf(c.stdout, "unbound operation %s\n", op.QualifiedName())
			}
			if _, _, err := op.Metadata.Cache(); err != nil {
				problems = append(problems, fmt.Errorf("%s: %w", op.QualifiedName(), err))
			}
		}
	}
	if err := errors.Join(problems...); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "ok: %d types, %d services, %d operations, %d edges\n",
		len(s.Types()), len(s.Services()), ops, len(g.AllEdges()))
	return nil
}

// bound reports whether any invoker backend is declared for op.
func bound(svc *schema.Service, op *schema.Operation) bool {
	if _, ok := protoreg.Binding(svc, op); ok {
		return true
	}
	return op.Metadata.Has(schema.AnnotationHTTP) ||
		op.Metadata.Has(schema.AnnotationNATS) ||
		op.Metadata.Has(schema.AnnotationSQL)
}

func (c *cli) describe(ctx context.Context, args []string) error {
	var edges bool
	cfg, err := c.parseFlags("describe", describeUsage, args, func(fs *flag.FlagSet) {
		fs.BoolVar(&edges, "edges", edges, "List every graph edge")
	})
	if err != nil {
		return err
	}
	s, err := schema.Load(ctx, cfg.Schema.Root, cfg.Schema.Pattern)
	if err != nil {
		return err
	}
	var opts []introspection.Option
	if edges {
		opts = append(opts, introspection.WithEdges())
	}
	return writeJSON(c.stdout, introspection.Describe(s, graph.Build(s), opts...))
}

func (c *cli) compileProto(ctx context.Context, args []string) error {
	outDir := ""
	cfg, err := c.parseFlags("compile-proto", compileProtoUsage, args, func(fs *flag.FlagSet) {
		fs.StringVar(&outDir, "out", outDir, "Output directory for generated .proto files")
	})
	if err != nil {
		return err
	}
	if outDir == "" {
		fmt.Fprint(c.stderr, compileProtoUsage)
		return fmt.Errorf("-out is required")
	}
	s, err := schema.Load(ctx, cfg.Schema.Root, cfg.Schema.Pattern)
	if err != nil {
		return err
	}
	reg, err := protoreg.Build(s)
	if err != nil {
		return fmt.Errorf("protoreg build: %w", err)
	}
	files, err := protoreg.Render(reg, outDir)
	if err != nil {
		return fmt.Errorf("render proto: %w", err)
	}
	for _, f := range files {
		fmt.Fprintln(c.stdout, f)
	}
	return nil
}

// buildEngine loads the schema and wires an invoker for every configured
// backend. The returned func releases their connections.
func buildEngine(ctx context.Context, cfg *config.Config, bus *eventbus.Bus) (*query.Engine, func(), error) {
	log := ctxlog.FromContext(ctx)
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	s, err := schema.Load(ctx, cfg.Schema.Root, cfg.Schema.Pattern)
	if err != nil {
		return nil, nil, err
	}

	var invokers []query.Invoker
	reg, err := protoreg.Build(s)
	if err != nil {
		return nil, nil, fmt.Errorf("protoreg build: %w", err)
	}
	if reg.Len() > 0 {
		provider := grpctp.NewStaticEndpoints(cfg.GRPC.Endpoints)
		for _, fd := range reg.Files() {
			for i := range fd.Services().Len() {
				name := string(fd.Services().Get(i).FullName())
				if eps, _ := provider.Endpoints(ctx, name); len(eps) == 0 {
					return nil, nil, fmt.Errorf("no grpc endpoint for %s", name)
				}
			}
		}
		tp := grpctp.New(
			grpctp.WithProvider(provider),
			grpctp.WithMaxConnsPerEndpoint(cfg.GRPC.MaxConnsPerEndpoint),
			grpctp.WithRPCTimeout(cfg.GRPC.Timeout),
			grpctp.WithEventBus(bus),
		)
		closers = append(closers, func() { _ = tp.Close() })
		invokers = append(invokers, grpcrt.NewInvoker(s, reg, tp))
	}

	hopts := []httprt.Option{httprt.WithBaseURL(cfg.HTTP.BaseURL), httprt.WithTimeout(cfg.HTTP.Timeout)}
	for k, v := range cfg.HTTP.Headers {
		hopts = append(hopts, httprt.WithHeader(k, v))
	}
	invokers = append(invokers, httprt.NewInvoker(s, hopts...))

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("typegraph"))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		closers = append(closers, nc.Close)
		invokers = append(invokers, natsrt.NewInvoker(s, nc, natsrt.WithTimeout(cfg.NATS.Timeout)))
	}

	if cfg.SQL.DSN != "" {
		db, err := sqlrt.Open(ctx, cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		invokers = append(invokers, sqlrt.NewInvoker(s, db))
	}

	var store cachert.Store
	switch cfg.Cache.Store {
	case "lru":
		store = cachert.NewLRUStore(cfg.Cache.Size, 0)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		closers = append(closers, func() { _ = client.Close() })
		store = cachert.NewRedisStore(client, cfg.Cache.RedisPrefix)
	}
	if store != nil {
		for i, inv := range invokers {
			invokers[i] = cachert.New(inv, s, store,
				cachert.WithDefaultTTL(cfg.Cache.DefaultTTL),
				cachert.WithStoreName(cfg.Cache.Store),
				cachert.WithEventBus(bus),
			)
		}
	}

	names := make([]string, len(invokers))
	for i, inv := range invokers {
		names[i] = query.InvokerName(inv)
	}
	log.Debug("invokers configured", "invokers", names, "cache", cfg.Cache.Store)

	engine := query.New(s, invokers,
		query.WithMaxDepth(cfg.Engine.MaxDepth),
		query.WithMaxSearchAttempts(cfg.Engine.MaxSearchAttempts),
		query.WithConcurrency(cfg.Engine.Concurrency),
		query.WithCollectionFanOut(cfg.Engine.CollectionFanOut),
		query.WithEventBus(bus),
	)
	return engine, cleanup, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

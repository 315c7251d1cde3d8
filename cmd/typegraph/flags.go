package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/hanpama/typegraph/internal/config"
)

// parseFlags builds the configuration of one command. Flags are parsed
// twice: the first pass finds -config, the second applies every flag over
// the file's values so that flags win.
func (c *cli) parseFlags(name, usage string, args []string, extra func(fs *flag.FlagSet)) (*config.Config, error) {
	var path string
	newSet := func(cfg *config.Config) *flag.FlagSet {
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		fs.StringVar(&path, "config", path, "YAML config file")
		bindConfig(fs, cfg)
		if extra != nil {
			extra(fs)
		}
		return fs
	}

	cfg := config.DefaultConfig()
	fs := newSet(cfg)
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(c.stderr, usage)
		return nil, err
	}
	if path != "" {
		fileCfg, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
		fs = newSet(cfg)
		if err := fs.Parse(args); err != nil {
			fmt.Fprint(c.stderr, usage)
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func bindConfig(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Schema.Root, "schema.root", cfg.Schema.Root, "Schema root directory")
	fs.StringVar(&cfg.Schema.Pattern, "schema.pattern", cfg.Schema.Pattern, "Schema file glob")

	fs.StringVar(&cfg.Server.Addr, "server.addr", cfg.Server.Addr, "HTTP listen address")
	fs.DurationVar(&cfg.Server.Timeout, "server.timeout", cfg.Server.Timeout, "Per-request timeout")
	fs.BoolVar(&cfg.Server.Pretty, "server.pretty", cfg.Server.Pretty, "Pretty-print JSON responses")
	fs.Int64Var(&cfg.Server.MaxBodyBytes, "server.max-body-bytes", cfg.Server.MaxBodyBytes, "Request body limit")
	fs.Var((*stringListFlag)(&cfg.Server.CORSOrigins), "server.cors-origin", "Allowed CORS origin")
	fs.Var((*stringListFlag)(&cfg.Server.ForwardHeaders), "server.forward-header", "Forward HTTP header to gRPC metadata")

	fs.IntVar(&cfg.Engine.MaxDepth, "engine.max-depth", cfg.Engine.MaxDepth, "Max sub-query nesting")
	fs.IntVar(&cfg.Engine.MaxSearchAttempts, "engine.max-search-attempts", cfg.Engine.MaxSearchAttempts, "Paths tried per goal")
	fs.IntVar(&cfg.Engine.Concurrency, "engine.concurrency", cfg.Engine.Concurrency, "Goals resolved at once")
	fs.BoolVar(&cfg.Engine.CollectionFanOut, "engine.collection-fan-out", cfg.Engine.CollectionFanOut, "Add collection members as facts")

	fs.Var(&endpointFlag{m: &cfg.GRPC.Endpoints}, "grpc.endpoint", "Map gRPC service to endpoint")
	fs.IntVar(&cfg.GRPC.MaxConnsPerEndpoint, "grpc.max-conns-per-endpoint", cfg.GRPC.MaxConnsPerEndpoint, "Max conns per endpoint")
	fs.DurationVar(&cfg.GRPC.Timeout, "grpc.timeout", cfg.GRPC.Timeout, "RPC timeout")

	fs.StringVar(&cfg.HTTP.BaseURL, "http.base-url", cfg.HTTP.BaseURL, "Base URL for relative @http bindings")
	fs.DurationVar(&cfg.HTTP.Timeout, "http.timeout", cfg.HTTP.Timeout, "HTTP call timeout")
	fs.Var(&headerFlag{m: &cfg.HTTP.Headers}, "http.header", "Header sent on every HTTP call")

	fs.StringVar(&cfg.NATS.URL, "nats.url", cfg.NATS.URL, "NATS server URL")
	fs.DurationVar(&cfg.NATS.Timeout, "nats.timeout", cfg.NATS.Timeout, "NATS request timeout")

	fs.StringVar(&cfg.SQL.Driver, "sql.driver", cfg.SQL.Driver, "SQL driver")
	fs.StringVar(&cfg.SQL.DSN, "sql.dsn", cfg.SQL.DSN, "SQL data source name")

	fs.StringVar(&cfg.Cache.Store, "cache.store", cfg.Cache.Store, "Cache store")
	fs.IntVar(&cfg.Cache.Size, "cache.size", cfg.Cache.Size, "LRU entries")
	fs.DurationVar(&cfg.Cache.DefaultTTL, "cache.default-ttl", cfg.Cache.DefaultTTL, "Default cache TTL")
	fs.StringVar(&cfg.Cache.RedisAddr, "cache.redis-addr", cfg.Cache.RedisAddr, "Redis address")
	fs.StringVar(&cfg.Cache.RedisPrefix, "cache.redis-prefix", cfg.Cache.RedisPrefix, "Redis key prefix")

	fs.StringVar(&cfg.Telemetry.OTLPEndpoint, "otel.endpoint", cfg.Telemetry.OTLPEndpoint, "OTLP collector endpoint")
	fs.StringVar(&cfg.Telemetry.ServiceName, "otel.service", cfg.Telemetry.ServiceName, "OpenTelemetry service name")

	fs.StringVar(&cfg.Log.Level, "log.level", cfg.Log.Level, "Log level")
	fs.StringVar(&cfg.Log.Format, "log.format", cfg.Log.Format, "Log format")
}

type stringListFlag []string

func (s *stringListFlag) String() string { return strings.Join(*s, ",") }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// endpointFlag parses Svc=host:port into a service endpoint map.
type endpointFlag struct {
	m *map[string][]string
}

func (b *endpointFlag) String() string { return "" }

func (b *endpointFlag) Set(v string) error {
	svc, ep, err := splitPair(v)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q", v)
	}
	if *b.m == nil {
		*b.m = map[string][]string{}
	}
	(*b.m)[svc] = append((*b.m)[svc], ep)
	return nil
}

type headerFlag struct {
	m *map[string]string
}

func (h *headerFlag) String() string { return "" }

func (h *headerFlag) Set(v string) error {
	k, val, err := splitPair(v)
	if err != nil {
		return fmt.Errorf("invalid header %q", v)
	}
	if *h.m == nil {
		*h.m = map[string]string{}
	}
	(*h.m)[k] = val
	return nil
}

func splitPair(v string) (string, string, error) {
	k, val, ok := strings.Cut(v, "=")
	k, val = strings.TrimSpace(k), strings.TrimSpace(val)
	if !ok || k == "" || val == "" {
		return "", "", fmt.Errorf("expected key=value")
	}
	return k, val, nil
}

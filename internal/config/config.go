// Package config loads typegraph's YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration. Flags given on the command line
// override the values loaded from a file.
type Config struct {
	Schema    SchemaConfig    `yaml:"schema"`
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	HTTP      HTTPConfig      `yaml:"http"`
	NATS      NATSConfig      `yaml:"nats"`
	SQL       SQLConfig       `yaml:"sql"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// SchemaConfig locates the schema documents.
type SchemaConfig struct {
	// Root is the directory searched for schema files.
	Root string `yaml:"root"`
	// Pattern is a doublestar glob relative to Root.
	Pattern string `yaml:"pattern"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	Timeout      time.Duration `yaml:"timeout"`
	Pretty       bool          `yaml:"pretty"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	CORSOrigins  []string      `yaml:"cors_origins"`
	// ForwardHeaders lists request headers copied into outgoing gRPC
	// metadata.
	ForwardHeaders []string `yaml:"forward_headers"`
}

type EngineConfig struct {
	MaxDepth          int  `yaml:"max_depth"`
	MaxSearchAttempts int  `yaml:"max_search_attempts"`
	Concurrency       int  `yaml:"concurrency"`
	CollectionFanOut  bool `yaml:"collection_fan_out"`
}

type GRPCConfig struct {
	// Endpoints maps a fully-qualified proto service name, or "*", to the
	// addresses serving it.
	Endpoints           map[string][]string `yaml:"endpoints"`
	MaxConnsPerEndpoint int                 `yaml:"max_conns_per_endpoint"`
	Timeout             time.Duration       `yaml:"timeout"`
}

type HTTPConfig struct {
	BaseURL string            `yaml:"base_url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// NATSConfig enables the NATS invoker when URL is set.
type NATSConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SQLConfig enables the SQL invoker when DSN is set.
type SQLConfig struct {
	// Driver is "pgx" or "sqlite3".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// CacheConfig selects the store for @cacheable operations.
type CacheConfig struct {
	// Store is "lru", "redis" or "none".
	Store       string        `yaml:"store"`
	Size        int           `yaml:"size"`
	DefaultTTL  time.Duration `yaml:"default_ttl"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix"`
}

type TelemetryConfig struct {
	// OTLPEndpoint is the collector's gRPC address. Empty disables tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with the defaults used when no file is
// given.
func DefaultConfig() *Config {
	return &Config{
		Schema: SchemaConfig{Root: ".", Pattern: "**/*.graphql"},
		Server: ServerConfig{
			Addr:         ":8080",
			Timeout:      10 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Engine: EngineConfig{
			MaxDepth:          8,
			MaxSearchAttempts: 25,
			Concurrency:       1,
		},
		GRPC: GRPCConfig{
			MaxConnsPerEndpoint: 2,
			Timeout:             3 * time.Second,
		},
		Cache: CacheConfig{
			Store:       "lru",
			Size:        1024,
			DefaultTTL:  time.Minute,
			RedisPrefix: "typegraph:cache:",
		},
		HTTP:      HTTPConfig{Timeout: 5 * time.Second},
		NATS:      NATSConfig{Timeout: 3 * time.Second},
		SQL:       SQLConfig{Driver: "pgx"},
		Telemetry: TelemetryConfig{ServiceName: "typegraph"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// LoadFromFile reads path over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Schema.Pattern == "" {
		errs = append(errs, fmt.Errorf("schema.pattern is required"))
	}
	if c.Server.Timeout < 0 {
		errs = append(errs, fmt.Errorf("server.timeout must not be negative"))
	}
	if c.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must not be negative"))
	}
	if c.Engine.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("engine.max_depth must be at least 1"))
	}
	if c.Engine.MaxSearchAttempts < 1 {
		errs = append(errs, fmt.Errorf("engine.max_search_attempts must be at least 1"))
	}
	if c.Engine.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("engine.concurrency must be at least 1"))
	}
	for svc, addrs := range c.GRPC.Endpoints {
		if len(addrs) == 0 {
			errs = append(errs, fmt.Errorf("grpc.endpoints[%s] has no addresses", svc))
		}
	}
	if c.SQL.DSN != "" && c.SQL.Driver != "pgx" && c.SQL.Driver != "sqlite3" {
		errs = append(errs, fmt.Errorf("sql.driver must be pgx or sqlite3, got %q", c.SQL.Driver))
	}
	switch c.Cache.Store {
	case "lru", "none":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("cache.redis_addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.store must be lru, redis or none, got %q", c.Cache.Store))
	}
	if c.Cache.Store == "lru" && c.Cache.Size < 1 {
		errs = append(errs, fmt.Errorf("cache.size must be at least 1"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

package grpctp

import (
	"time"

	"google.golang.org/grpc"

	"github.com/hanpama/typegraph/internal/eventbus"
)

// Options configures the gRPC transport behavior.
//
// Defaults:
//   - MaxConnsPerEndpoint: 2
//   - RPCTimeout:          3s (used only if the incoming context has no deadline)
//   - DialOptions:         insecure credentials with default backoff
//
// A Provider must be set (StaticEndpoints or a custom implementation); calls
// fail without one.
type Options struct {
	Provider EndpointProvider

	MaxConnsPerEndpoint int
	RPCTimeout          time.Duration

	DialOptions []grpc.DialOption

	// Bus receives GRPCClientStart and GRPCClientFinish events.
	Bus *eventbus.Bus
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConnsPerEndpoint: 2,
		RPCTimeout:          3 * time.Second,
	}
}

func WithProvider(p EndpointProvider) Option { return func(o *Options) { o.Provider = p } }
func WithMaxConnsPerEndpoint(n int) Option   { return func(o *Options) { o.MaxConnsPerEndpoint = n } }
func WithRPCTimeout(d time.Duration) Option  { return func(o *Options) { o.RPCTimeout = d } }
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = opts }
}
func WithEventBus(b *eventbus.Bus) Option { return func(o *Options) { o.Bus = b } }

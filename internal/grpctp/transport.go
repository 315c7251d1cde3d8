// Package grpctp is the production gRPC transport: a bounded set of client
// connections per endpoint, endpoint discovery and default deadlines.
package grpctp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/typegraph/internal/ctxlog"
	"github.com/hanpama/typegraph/internal/eventbus"
	"github.com/hanpama/typegraph/internal/events"
	"github.com/hanpama/typegraph/internal/grpcrt"
	"github.com/hanpama/typegraph/internal/queryid"
)

// Outgoing metadata keys set on every call.
const (
	HeaderService = "x-typegraph-service"
	HeaderQueryID = "x-typegraph-query-id"
)

// Transport implements grpcrt.Transport over real connections.
//
// Each endpoint gets up to MaxConnsPerEndpoint client connections, opened
// lazily and used round-robin. When a service has several endpoints, calls
// rotate over them too. Endpoints without a resolver scheme are dialed as
// given, without DNS resolution by grpc.
type Transport struct {
	opts *Options

	mu     sync.Mutex
	pools  map[string]*connPool // key: endpoint
	turns  map[string]*atomic.Uint64
	closed atomic.Bool
}

var _ grpcrt.Transport = (*Transport)(nil)

func New(opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	return &Transport{
		opts:  o,
		pools: make(map[string]*connPool),
		turns: make(map[string]*atomic.Uint64),
	}
}

// Call sends request to the method's service and waits for the reply. A
// deadline of RPCTimeout is applied when ctx has none.
func (t *Transport) Call(ctx context.Context, method protoreflect.MethodDescriptor, request protoreflect.Message) (protoreflect.Message, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if t.opts.Provider == nil {
		return nil, fmt.Errorf("grpctp: provider not configured")
	}
	service := string(method.Parent().FullName())
	fullMethod := "/" + service + "/" + string(method.Name())

	if _, ok := ctx.Deadline(); !ok && t.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
		defer cancel()
	}

	qid, _ := queryid.FromContext(ctx)
	ctx = metadata.AppendToOutgoingContext(ctx, HeaderService, service)
	if qid != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, HeaderQueryID, qid)
	}

	endpoints, err := t.opts.Provider.Endpoints(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("grpctp: %s: %w", service, err)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("grpctp: %s: %w", service, ErrNoEndpoints)
	}
	cc, endpoint, err := t.conn(service, endpoints)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	eventbus.Publish(ctx, t.opts.Bus, events.GRPCClientStart{QueryID: qid, Service: service, Method: string(method.Name()), Target: endpoint})
	resp := dynamicpb.NewMessage(method.Output())
	err = cc.Invoke(ctx, fullMethod, request, resp)
	duration := time.Since(start)
	eventbus.Publish(ctx, t.opts.Bus, events.GRPCClientFinish{
		QueryID:  qid,
		Service:  service,
		Method:   string(method.Name()),
		Target:   endpoint,
		Code:     status.Code(err),
		Err:      err,
		Duration: duration,
	})
	ctxlog.FromContext(ctx).Debug("grpc call", "method", fullMethod, "target", endpoint, "code", status.Code(err).String(), "duration", duration)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Close closes every connection. Calls after Close fail with ErrClosed.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pools {
		p.close()
	}
	t.pools = map[string]*connPool{}
	return nil
}

// conn picks the next endpoint of service and a connection to it.
func (t *Transport) conn(service string, endpoints []string) (*grpc.ClientConn, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return nil, "", ErrClosed
	}
	turn := t.turns[service]
	if turn == nil {
		turn = new(atomic.Uint64)
		t.turns[service] = turn
	}
	endpoint := endpoints[int(turn.Add(1)-1)%len(endpoints)]

	pool := t.pools[endpoint]
	if pool == nil {
		pool = &connPool{endpoint: endpoint, size: max(t.opts.MaxConnsPerEndpoint, 1)}
		t.pools[endpoint] = pool
	}
	cc, err := pool.next(t.opts.DialOptions)
	return cc, endpoint, err
}

// connPool holds the connections of one endpoint. Callers hold
// Transport.mu.
type connPool struct {
	endpoint string
	size     int
	conns    []*grpc.ClientConn
	turn     int
}

func (p *connPool) next(dialOpts []grpc.DialOption) (*grpc.ClientConn, error) {
	if len(p.conns) < p.size {
		cc, err := grpc.NewClient(dialTarget(p.endpoint), dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("grpctp: dial %s: %w", p.endpoint, err)
		}
		p.conns = append(p.conns, cc)
		return cc, nil
	}
	cc := p.conns[p.turn%len(p.conns)]
	p.turn++
	return cc, nil
}

func (p *connPool) close() {
	for _, cc := range p.conns {
		_ = cc.Close()
	}
	p.conns = nil
}

func dialTarget(endpoint string) string {
	if strings.Contains(endpoint, ":///") {
		return endpoint
	}
	return "passthrough:///" + endpoint
}

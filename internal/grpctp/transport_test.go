package grpctp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/typegraph/internal/eventbus"
	"github.com/hanpama/typegraph/internal/events"
	"github.com/hanpama/typegraph/internal/queryid"
)

// echoMethod builds tsvc.Echo/Say(SayRequest{text}) returns (SayResponse{data}).
func echoMethod(t *testing.T) protoreflect.MethodDescriptor {
	t.Helper()
	str := func(name string) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(name),
			Number: proto.Int32(1),
			Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
		}
	}
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("echo.proto"),
		Package: proto.String("tsvc"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: proto.String("SayRequest"), Field: []*descriptorpb.FieldDescriptorProto{str("text")}},
			{Name: proto.String("SayResponse"), Field: []*descriptorpb.FieldDescriptorProto{str("data")}},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("Echo"),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       proto.String("Say"),
				InputType:  proto.String(".tsvc.SayRequest"),
				OutputType: proto.String(".tsvc.SayResponse"),
			}},
		}},
	}
	files, err := protodesc.NewFiles(&descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{file}})
	require.NoError(t, err)
	d, err := files.FindDescriptorByName("tsvc.Echo.Say")
	require.NoError(t, err)
	return d.(protoreflect.MethodDescriptor)
}

type echoServer struct {
	mu      sync.Mutex
	headers []metadata.MD
}

// handle answers every method by echoing the request's text field, and
// fails when the text is "fail".
func (s *echoServer) handle(md protoreflect.MethodDescriptor) grpc.StreamHandler {
	return func(_ any, stream grpc.ServerStream) error {
		in, _ := metadata.FromIncomingContext(stream.Context())
		s.mu.Lock()
		s.headers = append(s.headers, in)
		s.mu.Unlock()

		req := dynamicpb.NewMessage(md.Input())
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		text := req.Get(md.Input().Fields().ByName("text")).String()
		if text == "fail" {
			return status.Error(codes.FailedPrecondition, "refused")
		}
		resp := dynamicpb.NewMessage(md.Output())
		resp.Set(md.Output().Fields().ByName("data"), protoreflect.ValueOfString("echo: "+text))
		return stream.SendMsg(resp)
	}
}

func startServer(t *testing.T, md protoreflect.MethodDescriptor) (*echoServer, *bufconn.Listener) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	es := &echoServer{}
	srv := grpc.NewServer(grpc.UnknownServiceHandler(es.handle(md)))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return es, lis
}

func newTestTransport(lis *bufconn.Listener, opts ...Option) *Transport {
	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	base := []Option{
		WithProvider(NewStaticEndpoints(map[string][]string{"tsvc.Echo": {"bufnet"}})),
		WithDialOptions(
			grpc.WithContextDialer(dialer),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		),
	}
	return New(append(base, opts...)...)
}

func sayRequest(md protoreflect.MethodDescriptor, text string) protoreflect.Message {
	req := dynamicpb.NewMessage(md.Input())
	req.Set(md.Input().Fields().ByName("text"), protoreflect.ValueOfString(text))
	return req
}

func TestCallRoundTrip(t *testing.T) {
	md := echoMethod(t)
	es, lis := startServer(t, md)

	bus := eventbus.New()
	var (
		mu       sync.Mutex
		started  []events.GRPCClientStart
		finished []events.GRPCClientFinish
	)
	eventbus.Subscribe(bus, func(_ context.Context, e events.GRPCClientStart) {
		mu.Lock()
		defer mu.Unlock()
		started = append(started, e)
	})
	eventbus.Subscribe(bus, func(_ context.Context, e events.GRPCClientFinish) {
		mu.Lock()
		defer mu.Unlock()
		finished = append(finished, e)
	})

	tp := newTestTransport(lis, WithEventBus(bus))
	defer tp.Close()

	ctx := queryid.WithID(context.Background(), "q-1")
	resp, err := tp.Call(ctx, md, sayRequest(md, "hi"))
	require.NoError(t, err)
	require.Equal(t, "echo: hi", resp.Get(md.Output().Fields().ByName("data")).String())

	es.mu.Lock()
	require.Len(t, es.headers, 1)
	require.Equal(t, []string{"tsvc.Echo"}, es.headers[0].Get(HeaderService))
	require.Equal(t, []string{"q-1"}, es.headers[0].Get(HeaderQueryID))
	es.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, started, 1)
	require.Equal(t, events.GRPCClientStart{QueryID: "q-1", Service: "tsvc.Echo", Method: "Say", Target: "bufnet"}, started[0])
	require.Len(t, finished, 1)
	require.Equal(t, codes.OK, finished[0].Code)
	require.NoError(t, finished[0].Err)
}

func TestCallReportsStatus(t *testing.T) {
	md := echoMethod(t)
	_, lis := startServer(t, md)
	tp := newTestTransport(lis)
	defer tp.Close()

	_, err := tp.Call(context.Background(), md, sayRequest(md, "fail"))
	require.Error(t, err)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestConnectionsAreReused(t *testing.T) {
	md := echoMethod(t)
	_, lis := startServer(t, md)
	tp := newTestTransport(lis, WithMaxConnsPerEndpoint(1))
	defer tp.Close()

	for i := 0; i < 3; i++ {
		_, err := tp.Call(context.Background(), md, sayRequest(md, "again"))
		require.NoError(t, err)
	}
	tp.mu.Lock()
	pool := tp.pools["bufnet"]
	tp.mu.Unlock()
	require.NotNil(t, pool)
	require.Len(t, pool.conns, 1)
}

func TestCallsRotateOverEndpointsAndConns(t *testing.T) {
	md := echoMethod(t)
	_, lis := startServer(t, md)
	tp := newTestTransport(lis,
		WithProvider(NewStaticEndpoints(map[string][]string{"tsvc.Echo": {"bufnet-a", "bufnet-b"}})),
		WithMaxConnsPerEndpoint(2),
	)
	defer tp.Close()

	var targets []string
	bus := eventbus.New()
	eventbus.Subscribe(bus, func(_ context.Context, e events.GRPCClientStart) { targets = append(targets, e.Target) })
	tp.opts.Bus = bus

	for i := 0; i < 6; i++ {
		_, err := tp.Call(context.Background(), md, sayRequest(md, "spread"))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"bufnet-a", "bufnet-b", "bufnet-a", "bufnet-b", "bufnet-a", "bufnet-b"}, targets)

	tp.mu.Lock()
	defer tp.mu.Unlock()
	require.Len(t, tp.pools, 2)
	require.Len(t, tp.pools["bufnet-a"].conns, 2)
	require.Len(t, tp.pools["bufnet-b"].conns, 2)
}

func TestDialTarget(t *testing.T) {
	require.Equal(t, "passthrough:///ledger:443", dialTarget("ledger:443"))
	require.Equal(t, "dns:///ledger.svc:443", dialTarget("dns:///ledger.svc:443"))
}

func TestDefaultDeadlineApplies(t *testing.T) {
	md := echoMethod(t)
	lis := bufconn.Listen(1 << 20)
	block := make(chan struct{})
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		select {
		case <-block:
		case <-stream.Context().Done():
		}
		return stream.Context().Err()
	}))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()
	defer close(block)

	tp := newTestTransport(lis, WithRPCTimeout(50*time.Millisecond))
	defer tp.Close()

	_, err := tp.Call(context.Background(), md, sayRequest(md, "slow"))
	require.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestCallErrors(t *testing.T) {
	md := echoMethod(t)

	tp := New()
	_, err := tp.Call(context.Background(), md, sayRequest(md, "x"))
	require.ErrorContains(t, err, "provider not configured")

	tp = New(WithProvider(NewStaticEndpoints(nil)))
	_, err = tp.Call(context.Background(), md, sayRequest(md, "x"))
	require.ErrorIs(t, err, ErrNoEndpoints)

	require.NoError(t, tp.Close())
	_, err = tp.Call(context.Background(), md, sayRequest(md, "x"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestStaticEndpointsWildcard(t *testing.T) {
	p := NewStaticEndpoints(map[string][]string{Wildcard: {"default:443"}})
	p.Set("bank.Ledger", "ledger:443")

	got, err := p.Endpoints(context.Background(), "bank.Ledger")
	require.NoError(t, err)
	require.Equal(t, []string{"ledger:443"}, got)

	got, err = p.Endpoints(context.Background(), "other.Service")
	require.NoError(t, err)
	require.Equal(t, []string{"default:443"}, got)
}

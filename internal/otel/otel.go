// Package otel exports traces for queries, invocations and gRPC calls. Spans
// are opened and closed by event bus subscribers, so the engine and the
// transports stay free of tracing code.
package otel

import (
	"context"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanpama/typegraph/internal/eventbus"
	"github.com/hanpama/typegraph/internal/events"
)

const instrumentation = "github.com/hanpama/typegraph"

// Setup configures an OTLP/gRPC exporter and attaches span subscribers to
// bus. If endpoint is empty, no telemetry is configured and the returned
// shutdown is a no-op.
func Setup(ctx context.Context, endpoint, service string, bus *eventbus.Bus) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Register(bus, tp.Tracer(instrumentation))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Middleware starts a server span for every request. Query spans opened
// while the request is served become its children.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer(instrumentation).Start(r.Context(), "http.request",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethodKey.String(r.Method),
				attribute.String("http.target", r.URL.Path),
			))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type subscriber struct {
	tracer     trace.Tracer
	querySpans sync.Map // query id -> trace.Span
	invSpans   sync.Map // query id/service.operation -> trace.Span
	grpcSpans  sync.Map // query id//service/method -> trace.Span
}

// Register subscribes span handlers to bus and returns a function removing
// them.
func Register(bus *eventbus.Bus, tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	unsubs := []func(){
		eventbus.Subscribe(bus, s.queryStart),
		eventbus.Subscribe(bus, s.queryFinish),
		eventbus.Subscribe(bus, s.invocationStart),
		eventbus.Subscribe(bus, s.invocationFinish),
		eventbus.Subscribe(bus, s.grpcStart),
		eventbus.Subscribe(bus, s.grpcFinish),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (s *subscriber) queryStart(ctx context.Context, e events.QueryStart) {
	_, span := s.tracer.Start(ctx, "typegraph.query")
	span.SetAttributes(
		attribute.String("typegraph.query.id", e.QueryID),
		attribute.StringSlice("typegraph.query.goals", e.Goals),
		attribute.Int("typegraph.query.facts", e.Facts),
	)
	s.querySpans.Store(e.QueryID, span)
}

func (s *subscriber) queryFinish(_ context.Context, e events.QueryFinish) {
	v, ok := s.querySpans.LoadAndDelete(e.QueryID)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(
		attribute.StringSlice("typegraph.query.unmatched", e.Unmatched),
		attribute.Int("typegraph.query.invocations", e.Invocations),
	)
	endSpan(span, e.Err)
}

func (s *subscriber) parent(ctx context.Context, queryID string) context.Context {
	if v, ok := s.querySpans.Load(queryID); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

func invocationKey(queryID, service, operation string) string {
	return queryID + "/" + service + "." + operation
}

func (s *subscriber) invocationStart(ctx context.Context, e events.InvocationStart) {
	_, span := s.tracer.Start(s.parent(ctx, e.QueryID), "typegraph.invoke",
		trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("typegraph.service", e.Service),
		attribute.String("typegraph.operation", e.Operation),
		attribute.String("typegraph.invoker", e.Invoker),
	)
	s.invSpans.Store(invocationKey(e.QueryID, e.Service, e.Operation), span)
}

func (s *subscriber) invocationFinish(ctx context.Context, e events.InvocationFinish) {
	key := invocationKey(e.QueryID, e.Service, e.Operation)
	v, ok := s.invSpans.LoadAndDelete(key)
	if !ok {
		if !e.Cached {
			return
		}
		// Per-query cache hits have no start event.
		_, span := s.tracer.Start(s.parent(ctx, e.QueryID), "typegraph.invoke")
		span.SetAttributes(
			attribute.String("typegraph.service", e.Service),
			attribute.String("typegraph.operation", e.Operation),
		)
		v = span
	}
	span := v.(trace.Span)
	span.SetAttributes(
		attribute.Int("typegraph.results", e.Results),
		attribute.Bool("typegraph.cached", e.Cached),
	)
	endSpan(span, e.Err)
}

func grpcKey(queryID, service, method string) string {
	return queryID + "//" + service + "/" + method
}

func (s *subscriber) grpcStart(ctx context.Context, e events.GRPCClientStart) {
	_, span := s.tracer.Start(s.parent(ctx, e.QueryID), "grpc.client",
		trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		semconv.RPCSystemKey.String("grpc"),
		semconv.RPCServiceKey.String(e.Service),
		semconv.RPCMethodKey.String(e.Method),
		attribute.String("net.peer.name", e.Target),
	)
	s.grpcSpans.Store(grpcKey(e.QueryID, e.Service, e.Method), span)
}

func (s *subscriber) grpcFinish(_ context.Context, e events.GRPCClientFinish) {
	v, ok := s.grpcSpans.LoadAndDelete(grpcKey(e.QueryID, e.Service, e.Method))
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attribute.String("grpc.code", e.Code.String()))
	endSpan(span, e.Err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

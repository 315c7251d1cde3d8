// Package metrics exposes Prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanpama/typegraph/internal/eventbus"
	"github.com/hanpama/typegraph/internal/events"
)

const namespace = "typegraph"

// Metrics holds the collectors. Create it with New and attach it with
// Subscribe.
type Metrics struct {
	Queries        *prometheus.CounterVec
	QueryDuration  prometheus.Histogram
	UnmatchedGoals prometheus.Counter
	SubQueries     prometheus.Counter
	Edges          *prometheus.CounterVec
	Invocations    *prometheus.CounterVec
	InvokeDuration *prometheus.HistogramVec
	CacheLookups   *prometheus.CounterVec
	RepairedParams *prometheus.CounterVec
	GRPCCalls      *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Top-level queries by outcome.",
		}, []string{"outcome"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Top-level query latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		UnmatchedGoals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmatched_goals_total",
			Help:      "Goals no path could resolve.",
		}),
		SubQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subqueries_total",
			Help:      "Nested searches issued for parameter or attribute types.",
		}),
		Edges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_evaluated_total",
			Help:      "Graph edges evaluated by relationship and result.",
		}, []string{"relationship", "ok"}),
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Operation invocations by invoker and outcome.",
		}, []string{"service", "operation", "invoker", "outcome"}),
		InvokeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Operation invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"invoker"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by store and result.",
		}, []string{"store", "result"}),
		RepairedParams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_resolved_total",
			Help:      "Constraint violations handled by outcome.",
		}, []string{"outcome"}),
		GRPCCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_client_calls_total",
			Help:      "Outgoing gRPC calls by method and status code.",
		}, []string{"service", "method", "code"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Served HTTP requests by path and status.",
		}, []string{"path", "status"}),
		HTTPDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Served HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.Queries, m.QueryDuration, m.UnmatchedGoals, m.SubQueries, m.Edges,
		m.Invocations, m.InvokeDuration, m.CacheLookups, m.RepairedParams,
		m.GRPCCalls, m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// Subscribe feeds the collectors from bus and returns a function detaching
// them.
func (m *Metrics) Subscribe(bus *eventbus.Bus) (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(bus, func(_ context.Context, e events.QueryFinish) {
			m.Queries.WithLabelValues(outcome(e.Err)).Inc()
			m.QueryDuration.Observe(e.Duration.Seconds())
			m.UnmatchedGoals.Add(float64(len(e.Unmatched)))
		}),
		eventbus.Subscribe(bus, func(_ context.Context, _ events.SubQuery) {
			m.SubQueries.Inc()
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.EdgeEvaluated) {
			m.Edges.WithLabelValues(e.Relationship, strconv.FormatBool(e.OK)).Inc()
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.InvocationFinish) {
			o := outcome(e.Err)
			if e.Cached {
				o = "cached"
			}
			m.Invocations.WithLabelValues(e.Service, e.Operation, e.Invoker, o).Inc()
			if !e.Cached {
				m.InvokeDuration.WithLabelValues(e.Invoker).Observe(e.Duration.Seconds())
			}
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.CacheLookup) {
			result := "miss"
			if e.Hit {
				result = "hit"
			}
			m.CacheLookups.WithLabelValues(e.Store, result).Inc()
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.ViolationResolved) {
			m.RepairedParams.WithLabelValues(outcome(e.Err)).Inc()
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.GRPCClientFinish) {
			m.GRPCCalls.WithLabelValues(e.Service, e.Method, e.Code.String()).Inc()
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.HTTPFinish) {
			m.HTTPRequests.WithLabelValues(e.Request.URL.Path, strconv.Itoa(e.Status)).Inc()
			m.HTTPDuration.Observe(e.Duration.Seconds())
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

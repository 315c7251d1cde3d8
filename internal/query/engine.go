package query

import (
	"context"
	"time"

	"github.com/hanpama/typegraph/internal/ctxlog"
	"github.com/hanpama/typegraph/internal/eventbus"
	"github.com/hanpama/typegraph/internal/events"
	"github.com/hanpama/typegraph/internal/graph"
	"github.com/hanpama/typegraph/internal/queryid"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// Engine resolves goals against one schema. It is immutable after New and
// safe for concurrent queries.
type Engine struct {
	schema   *schema.Schema
	graph    *graph.Graph
	invokers []Invoker
	registry *Registry
	opts     Options

	zeroParamOps []graph.Element
}

// New builds the semantic graph of s and an engine dispatching to invokers,
// tried in order.
func New(s *schema.Schema, invokers []Invoker, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	e := &Engine{
		schema:   s,
		graph:    graph.Build(s),
		invokers: append([]Invoker(nil), invokers...),
		registry: DefaultRegistry(),
		opts:     o,
	}
	for _, svc := range s.Services() {
		for _, op := range svc.Operations {
			if len(op.Parameters) == 0 {
				e.zeroParamOps = append(e.zeroParamOps, graph.OperationElement(svc.Name, op.Name))
			}
		}
	}
	return e
}

func (e *Engine) Schema() *schema.Schema { return e.schema }
func (e *Engine) Graph() *graph.Graph    { return e.graph }

// Find resolves goals from facts. The returned Result reports every goal as
// matched or unmatched. The error is non-nil only when the query was aborted:
// no invoker supports an operation the search needed, or ctx ended. A
// partial Result is returned alongside it.
func (e *Engine) Find(ctx context.Context, facts []typed.Instance, goals ...Goal) (*Result, error) {
	id, ok := queryid.FromContext(ctx)
	if !ok {
		ctx, id = queryid.NewContext(ctx)
	}
	ctx = ctxlog.With(ctx, "query", id)
	log := ctxlog.FromContext(ctx)

	goalNames := make([]string, len(goals))
	for i, g := range goals {
		goalNames[i] = g.String()
	}
	start := time.Now()
	log.Info("query started", "goals", goalNames, "facts", len(facts))
	eventbus.Publish(ctx, e.opts.Bus, events.QueryStart{QueryID: id, Goals: goalNames, Facts: len(facts)})

	qc := &Context{
		engine: e,
		state:  newQueryState(id, e.opts.ExploredCacheSize),
		costs:  &graph.Costs{},
	}
	for _, f := range facts {
		if f != nil {
			qc.AddFact(f)
		}
	}

	results, err := qc.resolveGoals(ctx, goals)

	qc.state.mu.Lock()
	res := &Result{
		ID:          id,
		Goals:       results,
		Paths:       append([]*EvaluatedPath(nil), qc.state.paths...),
		Invocations: append([]Invocation(nil), qc.state.invocations...),
		SubQueries:  qc.state.subQueries,
	}
	qc.state.mu.Unlock()

	var unmatched []string
	for _, r := range results {
		if !r.Matched {
			res.Unmatched = append(res.Unmatched, r.Goal)
			unmatched = append(unmatched, r.Goal.String())
		}
	}

	duration := time.Since(start)
	if err != nil {
		log.Error("query aborted", "error", err, "duration", duration)
	} else {
		log.Info("query finished", "unmatched", unmatched, "invocations", len(res.Invocations), "duration", duration)
	}
	eventbus.Publish(ctx, e.opts.Bus, events.QueryFinish{
		QueryID:     id,
		Goals:       goalNames,
		Unmatched:   unmatched,
		Invocations: len(res.Invocations),
		Err:         err,
		Duration:    duration,
	})
	return res, err
}

// InvokerFor returns the name of the invoker that would serve op, or false
// when none supports it.
func (e *Engine) InvokerFor(svc *schema.Service, op *schema.Operation) (string, bool) {
	inv := e.selectInvoker(svc, op)
	if inv == nil {
		return "", false
	}
	return InvokerName(inv), true
}

// selectInvoker returns the first invoker supporting op.
func (e *Engine) selectInvoker(svc *schema.Service, op *schema.Operation) Invoker {
	for _, inv := range e.invokers {
		if inv.CanSupport(svc, op) {
			return inv
		}
	}
	return nil
}

package query

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hanpama/typegraph/internal/constraint"
	"github.com/hanpama/typegraph/internal/ctxlog"
	"github.com/hanpama/typegraph/internal/eventbus"
	"github.com/hanpama/typegraph/internal/events"
	"github.com/hanpama/typegraph/internal/graph"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// resolveGoals resolves a batch of goals against the shared facts. The
// returned slice always has one entry per goal; goals not reached before a
// fatal error are reported as aborted.
func (qc *Context) resolveGoals(ctx context.Context, goals []Goal) ([]GoalResult, error) {
	out := make([]GoalResult, len(goals))
	for i, g := range goals {
		out[i] = GoalResult{Goal: g, Reason: "query aborted"}
	}
	if qc.engine.opts.Concurrency <= 1 || len(goals) < 2 {
		for i, g := range goals {
			r, err := qc.resolveGoal(ctx, g)
			if err != nil {
				return out, err
			}
			out[i] = r
		}
		return out, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(qc.engine.opts.Concurrency)
	for i, g := range goals {
		eg.Go(func() error {
			r, err := qc.resolveGoal(egCtx, g)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	return out, eg.Wait()
}

// resolveGoal tries, in order: a top-level fact, a single distinct fact at
// any depth, field-by-field construction for parameter types, and finally a
// graph search.
func (qc *Context) resolveGoal(ctx context.Context, goal Goal) (GoalResult, error) {
	if err := ctx.Err(); err != nil {
		return GoalResult{}, err
	}
	res := GoalResult{Goal: goal}
	t, ok := qc.engine.schema.Type(goal.Type.Name)
	if !ok {
		res.Reason = fmt.Sprintf("unknown type %q", goal.Type.Name)
		return res, nil
	}

	if v, ok := qc.knownValue(goal.Type); ok && qc.accepts(goal, v) {
		res.Value, res.Matched = v, true
		return res, nil
	}
	if qc.inflight[goal.Type.Name] {
		res.Reason = "cyclic search for " + goal.Type.Name
		return res, nil
	}
	frame := qc.withInflight(goal.Type.Name)

	if constructible(t) && !goal.Type.List && !qc.constructing[t.Name] {
		v, err := frame.construct(ctx, t)
		switch {
		case err == nil && qc.accepts(goal, v):
			qc.AddFact(v)
			res.Value, res.Matched = v, true
			return res, nil
		case err != nil && isFatal(err):
			return res, err
		case err != nil:
			ctxlog.FromContext(ctx).Debug("construction failed, searching", "goal", goal.String(), "error", err)
		}
	}
	return frame.search(ctx, goal)
}

// search runs the weighted path search toward goal. Each attempt evaluates
// the cheapest remaining path; a failure raises the weight of the edge it
// failed on and is remembered by signature for the rest of the query. A
// remembered path proposed again has that edge excluded and is marked
// trapped; proposing a trapped path stops the search.
func (qc *Context) search(ctx context.Context, goal Goal) (GoalResult, error) {
	log := ctxlog.FromContext(ctx)
	res := GoalResult{Goal: goal}
	target := graph.TypeElement(goal.Type.Name)
	costs := qc.costs.Inherit()

	res.Reason = "search attempts exhausted"
	for attempt := 0; attempt < qc.engine.opts.MaxSearchAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		path, ok := qc.engine.graph.ShortestPath(qc.sources(), target, costs)
		if !ok {
			res.Reason = "no route found"
			break
		}
		sig := path.Signature()
		if dead, seen := qc.state.explored.Get(sig); seen {
			if dead.trapped {
				log.Debug("path proposed again after exclusion", "goal", goal.String(), "path", path.String())
				res.Reason = "search trapped on " + path.String()
				break
			}
			dead.trapped = true
			qc.state.explored.Add(sig, dead)
			costs.Exclude(dead.failed)
			continue
		}

		log.Debug("evaluating path", "goal", goal.String(), "attempt", attempt, "path", path.String())
		ep, value, failed, err := qc.walk(ctx, goal, path)
		res.Path = ep
		if err != nil {
			return res, err
		}
		if ep.OK {
			v, reason := qc.selectTerminal(goal, value)
			if v != nil {
				res.Value, res.Matched, res.Reason = v, true, ""
				return res, nil
			}
			ep.OK = false
			last := &ep.Edges[len(ep.Edges)-1]
			last.OK, last.Reason = false, reason
			failed = path.Edges[len(path.Edges)-1]
		}
		res.Reason = ep.Edges[len(ep.Edges)-1].Reason
		qc.state.explored.Add(sig, deadEnd{failed: failed})
		costs.Penalize(failed, qc.engine.opts.FailedEdgePenalty)
	}
	if res.Path == nil {
		res.Path = qc.lastPath()
	}
	return res, nil
}

// walk evaluates the edges of path in order, threading the value through.
// It stops at the first failed edge and returns it.
func (qc *Context) walk(ctx context.Context, goal Goal, path graph.Path) (*EvaluatedPath, typed.Instance, graph.Edge, error) {
	ep := &EvaluatedPath{Goal: goal.String(), Start: path.Start}
	defer qc.recordPath(ep)

	var value typed.Instance
	if path.Start.IsFact() {
		value = qc.fact(path.Start.Index)
	}
	for _, e := range path.Edges {
		ev, err := qc.engine.registry.Evaluate(ctx, e, value, qc)
		if err != nil {
			ev = EvaluatedEdge{Edge: e, Value: value, Reason: err.Error()}
		}
		ep.Edges = append(ep.Edges, ev)
		eventbus.Publish(ctx, qc.bus(), events.EdgeEvaluated{
			QueryID:      qc.state.id,
			Relationship: e.Rel.String(),
			From:         e.From.String(),
			To:           e.To.String(),
			OK:           ev.OK,
			Reason:       ev.Reason,
		})
		ctxlog.FromContext(ctx).Debug("edge evaluated", "edge", ev.String())
		if err != nil {
			return ep, nil, e, err
		}
		if !ev.OK {
			return ep, nil, e, nil
		}
		value = ev.Value
	}
	ep.OK = true
	return ep, value, graph.Edge{}, nil
}

// selectTerminal picks the goal value out of the value that reached the goal
// type: the value itself, or the single distinct goal-typed value nested in
// it.
func (qc *Context) selectTerminal(goal Goal, value typed.Instance) (typed.Instance, string) {
	if value == nil {
		return nil, "no value reached " + goal.Type.Name
	}
	if qc.accepts(goal, value) {
		return value, ""
	}
	if goal.Type.List {
		return nil, fmt.Sprintf("%s is not a collection of %s", value.Type().Name, goal.Type.Name)
	}
	var candidates []typed.Instance
	for _, v := range typed.Distinct(typed.FindAll(goal.Type.Name, value)) {
		if qc.accepts(goal, v) {
			candidates = append(candidates, v)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, fmt.Sprintf("%s does not provide %s", typed.Describe(value), goal)
	case 1:
		return candidates[0], ""
	default:
		err := &typed.AmbiguousFieldError{Type: value.Type().Name}
		for _, c := range candidates {
			err.Candidates = append(err.Candidates, typed.Describe(c))
		}
		return nil, err.Error()
	}
}

// accepts reports whether v satisfies the goal type and its constraints.
func (qc *Context) accepts(goal Goal, v typed.Instance) bool {
	if !typed.Satisfies(v, schema.TypeRef{Name: goal.Type.Name, List: goal.Type.List}) {
		return false
	}
	if !goal.Type.List && !typed.HasValue(v) {
		return false
	}
	if len(goal.Constraints) == 0 {
		return true
	}
	p := &schema.Parameter{Name: "goal", Type: goal.Type, Constraints: goal.Constraints}
	ev, err := constraint.Evaluate(qc.engine.schema, p, v, nil)
	if err != nil {
		return false
	}
	return ev.Valid()
}

func constructible(t *schema.Type) bool {
	return t.Kind == schema.TypeKindObject && t.Parameter
}

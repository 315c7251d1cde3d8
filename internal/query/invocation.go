package query

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/hanpama/typegraph/internal/constraint"
	"github.com/hanpama/typegraph/internal/ctxlog"
	"github.com/hanpama/typegraph/internal/eventbus"
	"github.com/hanpama/typegraph/internal/events"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// Invoke runs op. Parameters come, in order of preference, from provided (by
// name), from the preferred values, from the facts, and finally from one
// batched sub-query for everything still missing. Constraint violations are
// repaired before dispatch. Results are cached per query by operation and
// parameter values.
func (qc *Context) Invoke(ctx context.Context, svc *schema.Service, op *schema.Operation, preferred []typed.Instance, provided map[string]typed.Instance) (typed.Instance, error) {
	inv := qc.engine.selectInvoker(svc, op)
	if inv == nil {
		return nil, &NoInvokerFoundError{Operation: op.QualifiedName()}
	}

	params, err := qc.gatherParameters(ctx, op, preferred, provided)
	if err != nil {
		return nil, err
	}
	params, err = qc.enforceConstraints(ctx, op, params)
	if err != nil {
		return nil, err
	}
	return qc.dispatch(ctx, inv, svc, op, params)
}

func (qc *Context) gatherParameters(ctx context.Context, op *schema.Operation, preferred []typed.Instance, provided map[string]typed.Instance) ([]typed.Instance, error) {
	params := make([]typed.Instance, len(op.Parameters))
	var missing []int
	for i, p := range op.Parameters {
		if v, ok := provided[p.Name]; ok && v != nil {
			params[i] = v
			continue
		}
		if v, ok := pickPreferred(preferred, p.Type); ok {
			params[i] = v
			continue
		}
		if v, ok := qc.knownValue(p.Type); ok {
			params[i] = v
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return params, nil
	}

	goals := make([]Goal, len(missing))
	for j, i := range missing {
		goals[j] = Goal{Type: op.Parameters[i].Type}
	}
	results, err := qc.withoutOperation(op).Find(ctx, goals...)
	if err != nil {
		return nil, err
	}
	var unresolved *UnresolvedParametersError
	for j, i := range missing {
		p, r := op.Parameters[i], results[j]
		switch {
		case r.Matched:
			params[i] = r.Value
		case !p.Type.NonNull:
			params[i] = typed.NewNull(qc.engine.schema.MustType(p.Type.Name), typed.SourceConstructed)
		default:
			if unresolved == nil {
				unresolved = &UnresolvedParametersError{Operation: op.QualifiedName()}
			}
			unresolved.Missing = append(unresolved.Missing, p.Type.String())
			if r.Path != nil {
				unresolved.Path = r.Path
			}
		}
	}
	if unresolved != nil {
		if unresolved.Path == nil {
			unresolved.Path = qc.lastPath()
		}
		return nil, unresolved
	}
	return params, nil
}

// pickPreferred prefers an exact match among the preferred values over a
// value nested in one of them.
func pickPreferred(preferred []typed.Instance, ref schema.TypeRef) (typed.Instance, bool) {
	want := schema.TypeRef{Name: ref.Name, List: ref.List}
	for _, v := range preferred {
		if typed.Satisfies(v, want) && (ref.List || typed.HasValue(v)) {
			return v, true
		}
	}
	for _, v := range preferred {
		if found, ok := pickValue(v, ref); ok {
			return found, true
		}
	}
	return nil, false
}

func (qc *Context) enforceConstraints(ctx context.Context, op *schema.Operation, params []typed.Instance) ([]typed.Instance, error) {
	args := argsOf(op, params)
	evals := make([]constraint.Evaluation, len(op.Parameters))
	for i, p := range op.Parameters {
		ev, err := constraint.Evaluate(qc.engine.schema, p, params[i], args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op.QualifiedName(), err)
		}
		evals[i] = ev
	}
	return qc.resolveViolations(ctx, op, evals, args)
}

func argsOf(op *schema.Operation, params []typed.Instance) map[string]typed.Instance {
	args := make(map[string]typed.Instance, len(params))
	for i, p := range op.Parameters {
		args[p.Name] = params[i]
	}
	return args
}

func (qc *Context) dispatch(ctx context.Context, inv Invoker, svc *schema.Service, op *schema.Operation, params []typed.Instance) (typed.Instance, error) {
	log := ctxlog.FromContext(ctx).With("operation", op.QualifiedName())
	name := InvokerName(inv)
	key := invocationKey(op, params)

	if v, ok := qc.cachedResult(key); ok {
		log.Debug("invocation served from query cache")
		qc.recordInvocation(Invocation{Service: svc.Name, Operation: op.Name, Invoker: name, Params: params, Result: v, Cached: true})
		eventbus.Publish(ctx, qc.bus(), events.InvocationFinish{
			QueryID: qc.state.id, Service: svc.Name, Operation: op.Name, Invoker: name, Results: 1, Cached: true,
		})
		return v, nil
	}

	eventbus.Publish(ctx, qc.bus(), events.InvocationStart{QueryID: qc.state.id, Service: svc.Name, Operation: op.Name, Invoker: name})
	start := time.Now()
	out, err := inv.Invoke(ctx, svc, op, params)
	var result typed.Instance
	if err == nil {
		result, err = qc.shapeResult(op, out)
	}
	if err != nil {
		err = &InvocationError{Service: svc.Name, Operation: op.Name, Err: err}
	}
	duration := time.Since(start)
	eventbus.Publish(ctx, qc.bus(), events.InvocationFinish{
		QueryID: qc.state.id, Service: svc.Name, Operation: op.Name, Invoker: name,
		Results: len(out), Err: err, Duration: duration,
	})
	qc.recordInvocation(Invocation{Service: svc.Name, Operation: op.Name, Invoker: name, Params: params, Result: result, Err: err})
	if err != nil {
		log.Warn("invocation failed", "invoker", name, "error", err, "duration", duration)
		return nil, err
	}
	log.Debug("invocation finished", "invoker", name, "result", typed.Describe(result), "duration", duration)

	if vs, cerr := constraint.CheckContract(qc.engine.schema, op, argsOf(op, params), result); cerr != nil {
		log.Warn("contract check failed", "error", cerr)
	} else {
		for _, v := range vs {
			log.Warn("result breaks declared contract", "violation", v.Error())
		}
	}
	qc.storeResult(key, result)
	return result, nil
}

// shapeResult turns the instances returned by an invoker into the single
// value of op's return type.
func (qc *Context) shapeResult(op *schema.Operation, out []typed.Instance) (typed.Instance, error) {
	t := qc.engine.schema.MustType(op.Returns.Name)
	src := typed.FromOperation(op.QualifiedName())
	if op.Returns.List {
		if len(out) == 1 {
			if coll, ok := out[0].(*typed.Collection); ok && coll.Type().Name == t.Name {
				return coll, nil
			}
		}
		for _, v := range out {
			if v == nil || v.Type().Name != t.Name {
				return nil, fmt.Errorf("returned %s, want %s", describeType(v), t.Name)
			}
		}
		return typed.NewCollection(t, out, src), nil
	}
	switch len(out) {
	case 0:
		return typed.NewNull(t, src), nil
	case 1:
		if out[0] == nil {
			return typed.NewNull(t, src), nil
		}
		if out[0].Type().Name != t.Name {
			return nil, fmt.Errorf("returned %s, want %s", describeType(out[0]), t.Name)
		}
		return out[0], nil
	default:
		return nil, fmt.Errorf("returned %d values for single-valued %s", len(out), op.Returns)
	}
}

func describeType(v typed.Instance) string {
	if v == nil {
		return "nil"
	}
	return v.Type().Name
}

func invocationKey(op *schema.Operation, params []typed.Instance) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(op.QualifiedName())
	for _, p := range params {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(typed.Key(p))
	}
	return d.Sum64()
}

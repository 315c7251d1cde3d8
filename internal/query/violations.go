package query

import (
	"context"
	"maps"

	"golang.org/x/sync/errgroup"

	"github.com/hanpama/typegraph/internal/constraint"
	"github.com/hanpama/typegraph/internal/ctxlog"
	"github.com/hanpama/typegraph/internal/eventbus"
	"github.com/hanpama/typegraph/internal/events"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// resolveViolations returns the final value of every parameter of op. Valid
// values pass through untouched; a value with one violation is repaired by
// the first operation whose contract can fix it; more than one violation
// fails the invocation. Parameters are repaired independently.
func (qc *Context) resolveViolations(ctx context.Context, op *schema.Operation, evals []constraint.Evaluation, args map[string]typed.Instance) ([]typed.Instance, error) {
	out := make([]typed.Instance, len(evals))
	var pending []int
	for i, ev := range evals {
		if ev.Valid() {
			out[i] = ev.Value
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(1, qc.engine.opts.Concurrency))
	for _, i := range pending {
		eg.Go(func() error {
			v, err := qc.resolveViolation(egCtx, op, evals[i], args)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (qc *Context) resolveViolation(ctx context.Context, op *schema.Operation, ev constraint.Evaluation, args map[string]typed.Instance) (typed.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ev.Violations) > 1 {
		return nil, &MultipleViolationsError{Operation: op.QualifiedName(), Parameter: ev.Param.Name, Violations: ev.Violations}
	}
	v := ev.Violations[0]
	fail := func(reason string) error {
		return &NoResolutionError{Operation: op.QualifiedName(), Parameter: ev.Param.Name, Violation: v, Reason: reason}
	}

	key := op.QualifiedName() + "(" + ev.Param.Name + "): " + v.Error()
	if qc.repairing[key] {
		return nil, fail("repair already in progress")
	}
	log := ctxlog.FromContext(ctx)
	s := qc.engine.schema
	for _, svc := range s.Services() {
		for _, cand := range svc.Operations {
			if cand.QualifiedName() == op.QualifiedName() {
				continue
			}
			advice, ok := v.Advice(s, svc, cand)
			if !ok {
				continue
			}
			log.Debug("repairing violation", "violation", v.Error(), "repair", cand.QualifiedName())
			fixed, err := qc.repair(ctx, op, key, v, advice)
			if err == nil {
				repaired := maps.Clone(args)
				repaired[ev.Param.Name] = fixed
				re, rerr := constraint.Evaluate(s, ev.Param, fixed, repaired)
				switch {
				case rerr != nil:
					err = rerr
				case !re.Valid():
					err = fail(cand.QualifiedName() + " did not produce a valid value")
				}
			}
			eventbus.Publish(ctx, qc.bus(), events.ViolationResolved{
				QueryID:    qc.state.id,
				Operation:  op.QualifiedName(),
				Parameter:  ev.Param.Name,
				RepairedBy: cand.QualifiedName(),
				Err:        err,
			})
			if err != nil {
				if isFatal(err) {
					return nil, err
				}
				if _, ok := err.(*NoResolutionError); ok {
					return nil, err
				}
				return nil, fail(err.Error())
			}
			log.Info("violation repaired", "operation", op.QualifiedName(), "parameter", ev.Param.Name, "repair", cand.QualifiedName())
			return fixed, nil
		}
	}
	return nil, fail("no operation can repair it")
}

// repair invokes the advised operation with the offending value preferred
// and substitutes its result. The consuming operation is excluded and the
// violation is marked in progress for the nested invocation.
func (qc *Context) repair(ctx context.Context, op *schema.Operation, key string, v *constraint.Violation, advice constraint.Advice) (typed.Instance, error) {
	frame := qc.withoutOperation(op).withRepairing(key)
	result, err := frame.Invoke(ctx, advice.Service, advice.Operation, []typed.Instance{v.Root}, advice.Provided)
	if err != nil {
		return nil, err
	}
	return v.Resolve(result)
}

package query

import (
	"context"
	"fmt"

	"github.com/hanpama/typegraph/internal/graph"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// EdgeEvaluator validates one traversed edge and produces the value carried
// past it. A returned error aborts the query; an edge that merely does not
// hold is reported through EvaluatedEdge.OK and Reason.
type EdgeEvaluator interface {
	Evaluate(ctx context.Context, edge graph.Edge, previous typed.Instance, qc *Context) (EvaluatedEdge, error)
}

// EdgeEvaluatorFunc adapts a function to EdgeEvaluator.
type EdgeEvaluatorFunc func(ctx context.Context, edge graph.Edge, previous typed.Instance, qc *Context) (EvaluatedEdge, error)

func (f EdgeEvaluatorFunc) Evaluate(ctx context.Context, edge graph.Edge, previous typed.Instance, qc *Context) (EvaluatedEdge, error) {
	return f(ctx, edge, previous, qc)
}

// Registry dispatches edges to the evaluator of their relationship. It holds
// exactly one evaluator per relationship.
type Registry struct {
	evaluators []EdgeEvaluator
}

// NewRegistry builds a registry from evaluators. It panics unless every
// relationship has an evaluator.
func NewRegistry(evaluators map[graph.Relationship]EdgeEvaluator) *Registry {
	rels := graph.Relationships()
	r := &Registry{evaluators: make([]EdgeEvaluator, len(rels))}
	for _, rel := range rels {
		ev, ok := evaluators[rel]
		if !ok || ev == nil {
			panic(fmt.Sprintf("query: no evaluator registered for %s", rel))
		}
		r.evaluators[rel] = ev
	}
	for rel := range evaluators {
		if !rel.Valid() {
			panic(fmt.Sprintf("query: evaluator registered for unknown %s", rel))
		}
	}
	return r
}

// DefaultRegistry returns the evaluators used by New.
func DefaultRegistry() *Registry {
	pass := EdgeEvaluatorFunc(passThrough)
	return NewRegistry(map[graph.Relationship]EdgeEvaluator{
		graph.RequiresParameter:          EdgeEvaluatorFunc(evaluateRequiresParameter),
		graph.Provides:                   EdgeEvaluatorFunc(evaluateProvides),
		graph.IsAttributeOf:              pass,
		graph.HasAttribute:               pass,
		graph.IsTypeOf:                   pass,
		graph.IsParameterOn:              pass,
		graph.TypePresentAsAttributeType: pass,
		graph.IsInstanceOf:               pass,
	})
}

// Evaluate runs the evaluator registered for the edge's relationship.
func (r *Registry) Evaluate(ctx context.Context, edge graph.Edge, previous typed.Instance, qc *Context) (EvaluatedEdge, error) {
	if !edge.Rel.Valid() {
		panic(fmt.Sprintf("query: edge %s has an unknown relationship", edge))
	}
	return r.evaluators[edge.Rel].Evaluate(ctx, edge, previous, qc)
}

func mustFit(edge graph.Edge) {
	if !edge.Fits() {
		panic(fmt.Sprintf("query: edge %s does not fit its relationship", edge))
	}
}

// passThrough forwards the value unchanged. Structural edges only move the
// search between types; picking a nested value is left to the consumer.
func passThrough(_ context.Context, edge graph.Edge, previous typed.Instance, _ *Context) (EvaluatedEdge, error) {
	mustFit(edge)
	return EvaluatedEdge{Edge: edge, Value: previous, OK: true}, nil
}

// evaluateRequiresParameter produces the value of the parameter the edge
// leads to: taken from the value reaching the edge when possible, discovered
// otherwise.
func evaluateRequiresParameter(ctx context.Context, edge graph.Edge, previous typed.Instance, qc *Context) (EvaluatedEdge, error) {
	mustFit(edge)
	_, op, ok := qc.engine.schema.Operation(edge.To.Name, edge.To.Member)
	if !ok || edge.To.Index < 0 || edge.To.Index >= len(op.Parameters) {
		panic(fmt.Sprintf("query: parameter %s is not in the schema", edge.To))
	}
	p := op.Parameters[edge.To.Index]

	if v, ok := pickValue(previous, p.Type); ok {
		return EvaluatedEdge{Edge: edge, Value: v, OK: true}, nil
	}
	v, err := qc.withoutOperation(op).DiscoverParameter(ctx, p.Type)
	if err != nil {
		if isFatal(err) {
			return EvaluatedEdge{Edge: edge, Value: previous}, err
		}
		return EvaluatedEdge{Edge: edge, Value: previous, Reason: err.Error()}, nil
	}
	return EvaluatedEdge{Edge: edge, Value: v, OK: true}, nil
}

// evaluateProvides invokes the operation the edge leaves, offering the value
// reaching it as a preferred parameter. The result is added to the facts.
func evaluateProvides(ctx context.Context, edge graph.Edge, previous typed.Instance, qc *Context) (EvaluatedEdge, error) {
	mustFit(edge)
	svc, op, ok := qc.engine.schema.Operation(edge.From.Name, edge.From.Member)
	if !ok {
		panic(fmt.Sprintf("query: operation %s is not in the schema", edge.From))
	}
	var preferred []typed.Instance
	if previous != nil {
		preferred = append(preferred, previous)
	}
	result, err := qc.Invoke(ctx, svc, op, preferred, nil)
	if err != nil {
		if isFatal(err) {
			return EvaluatedEdge{Edge: edge, Value: previous}, err
		}
		return EvaluatedEdge{Edge: edge, Value: previous, Reason: err.Error()}, nil
	}
	if !op.Returns.List && !typed.HasValue(result) {
		return EvaluatedEdge{Edge: edge, Value: result, Reason: op.QualifiedName() + " returned null"}, nil
	}
	qc.AddFact(result)
	if coll, ok := result.(*typed.Collection); ok && qc.engine.opts.CollectionFanOut {
		for _, item := range coll.Items() {
			if typed.HasValue(item) {
				qc.AddFact(item)
			}
		}
	}
	return EvaluatedEdge{Edge: edge, Value: result, OK: true}, nil
}

// pickValue returns v itself when it stands for ref, or the single distinct
// value of ref nested in it.
func pickValue(v typed.Instance, ref schema.TypeRef) (typed.Instance, bool) {
	if v == nil {
		return nil, false
	}
	want := schema.TypeRef{Name: ref.Name, List: ref.List}
	if typed.Satisfies(v, want) && (ref.List || typed.HasValue(v)) {
		return v, true
	}
	if ref.List {
		return nil, false
	}
	found := typed.Distinct(typed.FindAll(ref.Name, v))
	if len(found) == 1 {
		return found[0], true
	}
	return nil, false
}

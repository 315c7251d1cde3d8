package query

import (
	"context"

	"github.com/hanpama/typegraph/internal/ctxlog"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// DiscoverParameter returns a value for ref. A known fact wins; otherwise
// parameter types are constructed field by field and the result is added to
// the facts. Anything else is unresolved.
func (qc *Context) DiscoverParameter(ctx context.Context, ref schema.TypeRef) (typed.Instance, error) {
	if v, ok := qc.knownValue(ref); ok {
		return v, nil
	}
	t, ok := qc.engine.schema.Type(ref.Name)
	if !ok || ref.List || !constructible(t) || qc.constructing[t.Name] {
		return nil, &UnresolvedParametersError{Missing: []string{ref.String()}, Path: qc.lastPath()}
	}
	v, err := qc.construct(ctx, t)
	if err != nil {
		return nil, err
	}
	qc.AddFact(v)
	return v, nil
}

// construct builds a value of t from values for each of its attributes. The
// type joins the constructing set for the duration, so a nested attribute of
// the same type is searched for instead of built again.
func (qc *Context) construct(ctx context.Context, t *schema.Type) (typed.Instance, error) {
	frame := qc.withConstructing(t.Name)
	fields := make(map[string]typed.Instance, len(t.Attributes))
	for _, a := range t.Attributes {
		v, err := frame.constructAttribute(ctx, t, a)
		if err != nil {
			return nil, err
		}
		fields[a.Name] = v
	}
	ctxlog.FromContext(ctx).Debug("constructed value", "type", t.Name)
	return typed.NewObject(t, fields, typed.SourceConstructed), nil
}

func (qc *Context) constructAttribute(ctx context.Context, owner *schema.Type, a *schema.Attribute) (typed.Instance, error) {
	if v, ok := qc.knownValue(a.Type); ok {
		return v, nil
	}
	at := qc.engine.schema.MustType(a.Type.Name)

	if !at.IsScalar() && !a.Type.List && !qc.constructing[at.Name] {
		v, err := qc.construct(ctx, at)
		if err == nil {
			return v, nil
		}
		if isFatal(err) {
			return nil, err
		}
		ctxlog.FromContext(ctx).Debug("nested construction failed", "attribute", owner.Name+"."+a.Name, "error", err)
	}

	results, err := qc.Find(ctx, Goal{Type: a.Type})
	if err != nil {
		return nil, err
	}
	r := results[0]
	switch {
	case r.Matched:
		return r.Value, nil
	case !a.Type.NonNull:
		return typed.NewNull(at, typed.SourceConstructed), nil
	}
	path := r.Path
	if path == nil {
		path = qc.lastPath()
	}
	return nil, &UnresolvedParametersError{Missing: []string{owner.Name + "." + a.Name}, Path: path}
}

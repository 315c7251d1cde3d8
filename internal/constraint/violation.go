package constraint

import (
	"fmt"
	"strings"

	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// Violation is one failed constraint. It carries the offending value, the
// type required at the constrained property, the property path and both
// sides of the comparison, which is enough to look for a repair.
type Violation struct {
	Constraint   schema.Constraint
	Root         typed.Instance
	RequiredType *schema.Type
	Path         []string
	Expected     any
	Actual       any

	// Set when Root is a member of a collection parameter.
	container *typed.Collection
	index     int
}

func (v *Violation) Error() string {
	prop := "value"
	if len(v.Path) > 0 {
		prop = strings.Join(v.Path, ".")
	}
	return fmt.Sprintf("%s %s: expected %v, got %v", v.Root.Type().Name, prop, v.Expected, v.Actual)
}

// Advice tells the resolver how to call a repairing operation. The offending
// value is always offered as a preferred parameter; Provided pins additional
// parameters by name.
type Advice struct {
	Service   *schema.Service
	Operation *schema.Operation
	Provided  map[string]typed.Instance
	// FieldLevel marks repairs whose result replaces the property rather than
	// the whole value.
	FieldLevel bool
}

// Advice reports whether op, judged only by its declared contract, can
// produce a value that fixes v.
func (v *Violation) Advice(s *schema.Schema, svc *schema.Service, op *schema.Operation) (Advice, bool) {
	if op.Contract == nil || op.Returns.List || v.Root == nil {
		return Advice{}, false
	}
	rootType := v.Root.Type()

	if op.Returns.Name == rootType.Name {
		for _, c := range op.Contract.Constraints {
			provided, ok := v.contractFixesProperty(s, op, rootType, c)
			if ok {
				return Advice{Service: svc, Operation: op, Provided: provided}, true
			}
		}
	}
	if len(v.Path) > 0 && v.RequiredType != nil && op.Returns.Name == v.RequiredType.Name {
		for _, c := range op.Contract.Constraints {
			ptp, ok := c.(schema.PropertyToParameter)
			if !ok || !ptp.Property.IsSelf() {
				continue
			}
			if k, ok := ptp.Expected.(schema.Constant); ok && typed.ValuesEqual(k.Value, v.Expected) {
				return Advice{Service: svc, Operation: op, FieldLevel: true}, true
			}
		}
	}
	return Advice{}, false
}

func (v *Violation) contractFixesProperty(s *schema.Schema, op *schema.Operation, rootType *schema.Type, c schema.Constraint) (map[string]typed.Instance, bool) {
	switch c := c.(type) {
	case schema.AttributeConstantValue:
		if len(v.Path) == 1 && v.Path[0] == c.Field && typed.ValuesEqual(c.Value, v.Expected) {
			return nil, true
		}
	case schema.PropertyToParameter:
		path, err := typed.ResolveProperty(rootType, c.Property)
		if err != nil || !samePath(path, v.Path) {
			return nil, false
		}
		switch e := c.Expected.(type) {
		case schema.Constant:
			if typed.ValuesEqual(e.Value, v.Expected) {
				return nil, true
			}
		case schema.RelativeParameter:
			p, _ := op.Parameter(e.Param)
			if p == nil || v.RequiredType == nil {
				return nil, false
			}
			inst, err := pinned(s, p.Type, e.Path, typed.NewScalar(v.RequiredType, v.Expected, typed.SourceRepaired))
			if err != nil {
				return nil, false
			}
			return map[string]typed.Instance{e.Param: inst}, true
		}
	}
	return nil, false
}

// pinned builds a value of ref whose only set field, at path, is leaf.
func pinned(s *schema.Schema, ref schema.TypeRef, path []string, leaf typed.Instance) (typed.Instance, error) {
	if len(path) == 0 {
		if leaf.Type().Name != ref.Name {
			return nil, fmt.Errorf("cannot use %s as %s", leaf.Type().Name, ref.Name)
		}
		return leaf, nil
	}
	t, ok := s.Type(ref.Name)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", ref.Name)
	}
	a := t.Attribute(path[0])
	if a == nil {
		return nil, fmt.Errorf("type %s has no attribute %q", t.Name, path[0])
	}
	child, err := pinned(s, a.Type, path[1:], leaf)
	if err != nil {
		return nil, err
	}
	return typed.NewObject(t, map[string]typed.Instance{a.Name: child}, typed.SourceRepaired), nil
}

// Resolve substitutes a repair result. A result of the offending value's own
// type replaces it whole; any other result replaces the constrained property.
// The returned value is the corrected parameter value, rebuilt into its
// collection when the violation was found on a member.
func (v *Violation) Resolve(result typed.Instance) (typed.Instance, error) {
	if !typed.HasValue(result) {
		return nil, fmt.Errorf("repair of %s produced no value", v.Root.Type().Name)
	}
	var fixed typed.Instance
	if result.Type().Name == v.Root.Type().Name {
		fixed = result
	} else {
		if v.RequiredType == nil || result.Type().Name != v.RequiredType.Name {
			return nil, fmt.Errorf("repair produced %s, need %s or %s", result.Type().Name, v.Root.Type().Name, requiredName(v))
		}
		replaced, err := typed.ReplaceAt(v.Root, v.Path, result)
		if err != nil {
			return nil, err
		}
		fixed = replaced
	}
	if v.container == nil {
		return fixed, nil
	}
	items := v.container.Items()
	items[v.index] = fixed
	return typed.NewCollection(v.container.Type(), items, typed.SourceRepaired), nil
}

func requiredName(v *Violation) string {
	if v.RequiredType == nil {
		return "?"
	}
	return v.RequiredType.Name
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Package constraint evaluates declared constraints against typed values and
// describes how a failed constraint could be repaired.
package constraint

import (
	"fmt"

	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// Evaluation is the outcome of checking one parameter value.
type Evaluation struct {
	Param      *schema.Parameter
	Value      typed.Instance
	Violations []*Violation
}

// Valid reports whether no constraint was violated.
func (e Evaluation) Valid() bool { return len(e.Violations) == 0 }

// Evaluate checks every constraint declared on param against value. args
// holds the other parameter values of the same invocation by name, for
// constraints relative to another parameter. Collection values are checked
// member by member.
func Evaluate(s *schema.Schema, param *schema.Parameter, value typed.Instance, args map[string]typed.Instance) (Evaluation, error) {
	ev := Evaluation{Param: param, Value: value}
	if len(param.Constraints) == 0 || !typed.HasValue(value) {
		return ev, nil
	}
	if coll, ok := value.(*typed.Collection); ok {
		for i, item := range coll.Items() {
			vs, err := check(s, param.Constraints, item, args)
			if err != nil {
				return ev, fmt.Errorf("%s[%d]: %w", param.Name, i, err)
			}
			for _, v := range vs {
				v.container, v.index = coll, i
			}
			ev.Violations = append(ev.Violations, vs...)
		}
		return ev, nil
	}
	vs, err := check(s, param.Constraints, value, args)
	if err != nil {
		return ev, fmt.Errorf("%s: %w", param.Name, err)
	}
	ev.Violations = vs
	return ev, nil
}

// CheckContract checks an operation result against the operation's declared
// contract and returns the broken clauses.
func CheckContract(s *schema.Schema, op *schema.Operation, args map[string]typed.Instance, result typed.Instance) ([]*Violation, error) {
	if op.Contract == nil || !typed.HasValue(result) {
		return nil, nil
	}
	if _, ok := result.(*typed.Collection); ok {
		return nil, nil
	}
	var out []*Violation
	var plain []schema.Constraint
	for _, c := range op.Contract.Constraints {
		derived, ok := c.(schema.ReturnValueDerivedFromParameter)
		if !ok {
			plain = append(plain, c)
			continue
		}
		src, ok := args[derived.Param]
		if !ok {
			continue
		}
		expected, _ := typed.Get(src, derived.Path)
		if !typed.Equal(expected, result) {
			out = append(out, &Violation{
				Constraint:   c,
				Root:         result,
				RequiredType: result.Type(),
				Expected:     typed.ToRaw(expected),
				Actual:       typed.ToRaw(result),
			})
		}
	}
	vs, err := check(s, plain, result, args)
	if err != nil {
		return nil, err
	}
	return append(out, vs...), nil
}

func check(s *schema.Schema, cs []schema.Constraint, value typed.Instance, args map[string]typed.Instance) ([]*Violation, error) {
	var out []*Violation
	for _, c := range cs {
		var (
			path     []string
			expected any
		)
		switch c := c.(type) {
		case schema.AttributeConstantValue:
			path, expected = []string{c.Field}, c.Value
		case schema.PropertyToParameter:
			p, err := typed.ResolveProperty(value.Type(), c.Property)
			if err != nil {
				return nil, err
			}
			path = p
			switch e := c.Expected.(type) {
			case schema.Constant:
				expected = e.Value
			case schema.RelativeParameter:
				arg, ok := args[e.Param]
				if !ok {
					return nil, fmt.Errorf("constraint %s refers to unavailable parameter %q", c, e.Param)
				}
				if v, ok := typed.Get(arg, e.Path); ok {
					expected = typed.ToRaw(v)
				}
			}
		default:
			// Derivation clauses only describe return values.
			continue
		}
		if expected == nil {
			continue
		}
		actual, _ := typed.Get(value, path)
		var raw any
		if actual != nil {
			raw = typed.ToRaw(actual)
		}
		if typed.ValuesEqual(expected, raw) {
			continue
		}
		out = append(out, &Violation{
			Constraint:   c,
			Root:         value,
			RequiredType: requiredType(s, value.Type(), path),
			Path:         path,
			Expected:     expected,
			Actual:       raw,
		})
	}
	return out, nil
}

func requiredType(s *schema.Schema, root *schema.Type, path []string) *schema.Type {
	cur := root
	for _, seg := range path {
		a := cur.Attribute(seg)
		if a == nil {
			return nil
		}
		next, ok := s.Type(a.Type.Name)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

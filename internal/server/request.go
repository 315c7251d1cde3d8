package server

import (
	"errors"
	"fmt"

	"github.com/hanpama/typegraph/internal/query"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Goals []GoalSpec `json:"goals"`
	Facts []FactSpec `json:"facts"`
}

// GoalSpec names a wanted type. Constraints narrow which values satisfy it.
type GoalSpec struct {
	Type        string           `json:"type"`
	List        bool             `json:"list,omitempty"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
}

// ConstraintSpec is either {"attribute", "value"} or {"property", "equals"}.
type ConstraintSpec struct {
	Attribute string `json:"attribute,omitempty"`
	Value     any    `json:"value,omitempty"`
	Property  string `json:"property,omitempty"`
	Equals    any    `json:"equals,omitempty"`
}

// FactSpec is a known value of a schema type.
type FactSpec struct {
	Type  string `json:"type"`
	List  bool   `json:"list,omitempty"`
	Value any    `json:"value"`
}

// Decode turns a request into engine facts and goals.
func Decode(s *schema.Schema, req QueryRequest) ([]typed.Instance, []query.Goal, error) {
	if len(req.Goals) == 0 {
		return nil, nil, errors.New("at least one goal is required")
	}
	goals := make([]query.Goal, len(req.Goals))
	for i, g := range req.Goals {
		if _, ok := s.Type(g.Type); !ok {
			return nil, nil, fmt.Errorf("goals[%d]: unknown type %q", i, g.Type)
		}
		goal := query.Goal{Type: schema.TypeRef{Name: g.Type, List: g.List}}
		for j, c := range g.Constraints {
			sc, err := c.constraint()
			if err != nil {
				return nil, nil, fmt.Errorf("goals[%d].constraints[%d]: %w", i, j, err)
			}
			goal.Constraints = append(goal.Constraints, sc)
		}
		goals[i] = goal
	}
	facts := make([]typed.Instance, len(req.Facts))
	for i, f := range req.Facts {
		v, err := typed.FromRaw(s, schema.TypeRef{Name: f.Type, List: f.List}, f.Value, typed.SourceProvided)
		if err != nil {
			return nil, nil, fmt.Errorf("facts[%d]: %w", i, err)
		}
		facts[i] = v
	}
	return facts, goals, nil
}

func (c ConstraintSpec) constraint() (schema.Constraint, error) {
	switch {
	case c.Attribute != "":
		if c.Value == nil {
			return nil, errors.New("'attribute' requires 'value'")
		}
		return schema.AttributeConstantValue{Field: c.Attribute, Value: c.Value}, nil
	case c.Property != "":
		if c.Equals == nil {
			return nil, errors.New("'property' requires 'equals'")
		}
		return schema.PropertyToParameter{
			Property: schema.ParsePropertyIdentifier(c.Property),
			Operator: schema.OperatorEqual,
			Expected: schema.Constant{Value: c.Equals},
		}, nil
	}
	return nil, errors.New("expected 'attribute' or 'property'")
}

// QueryResponse is the answer to one QueryRequest.
type QueryResponse struct {
	ID          string           `json:"id,omitempty"`
	Goals       []GoalOutcome    `json:"goals"`
	Unmatched   []string         `json:"unmatched"`
	Invocations []InvocationInfo `json:"invocations"`
	Trace       []string         `json:"trace,omitempty"`
	Error       string           `json:"error,omitempty"`
}

type GoalOutcome struct {
	Goal    string `json:"goal"`
	Matched bool   `json:"matched"`
	Value   any    `json:"value,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type InvocationInfo struct {
	Operation string `json:"operation"`
	Invoker   string `json:"invoker"`
	Cached    bool   `json:"cached,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Encode renders a result. err is the abort error returned by Find, if any.
func Encode(res *query.Result, err error, trace bool) QueryResponse {
	out := QueryResponse{Goals: []GoalOutcome{}, Unmatched: []string{}, Invocations: []InvocationInfo{}}
	if err != nil {
		out.Error = err.Error()
	}
	if res == nil {
		return out
	}
	out.ID = res.ID
	for _, g := range res.Goals {
		o := GoalOutcome{Goal: g.Goal.String(), Matched: g.Matched, Reason: g.Reason}
		if g.Matched && g.Value != nil {
			o.Value = typed.ToRaw(g.Value)
		}
		out.Goals = append(out.Goals, o)
	}
	for _, g := range res.Unmatched {
		out.Unmatched = append(out.Unmatched, g.String())
	}
	for _, inv := range res.Invocations {
		info := InvocationInfo{Operation: inv.Service + "." + inv.Operation, Invoker: inv.Invoker, Cached: inv.Cached}
		if inv.Err != nil {
			info.Error = inv.Err.Error()
		}
		out.Invocations = append(out.Invocations, info)
	}
	if trace {
		out.Trace = res.Trace()
	}
	return out
}

package query

import (
	"strings"

	"github.com/hanpama/typegraph/internal/graph"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// Goal is a requested type, optionally constrained. It is used both for
// top-level queries and for sub-queries.
type Goal struct {
	Type        schema.TypeRef
	Constraints []schema.Constraint
}

// GoalFor returns an unconstrained goal for a single value of typeName.
func GoalFor(typeName string) Goal { return Goal{Type: schema.Named(typeName)} }

func (g Goal) String() string {
	ref := schema.TypeRef{Name: g.Type.Name, List: g.Type.List}
	if len(g.Constraints) == 0 {
		return ref.String()
	}
	parts := make([]string, len(g.Constraints))
	for i, c := range g.Constraints {
		parts[i] = c.String()
	}
	return ref.String() + "(" + strings.Join(parts, ", ") + ")"
}

// GoalResult is the outcome for one goal. Unmatched goals carry the reason
// and, when a search ran, the last path it tried.
type GoalResult struct {
	Goal    Goal
	Value   typed.Instance
	Matched bool
	Reason  string
	Path    *EvaluatedPath
}

// EvaluatedEdge is one evaluated graph step.
type EvaluatedEdge struct {
	Edge   graph.Edge
	Value  typed.Instance
	OK     bool
	Reason string
}

// String renders "source -[Relationship]-> target (value) ✔" or, for a
// failed step, "... ✘ reason".
func (e EvaluatedEdge) String() string {
	s := e.Edge.String() + " (" + typed.Describe(e.Value) + ")"
	if e.OK {
		return s + " ✔"
	}
	return s + " ✘ " + e.Reason
}

// EvaluatedPath is the evaluation record of one proposed path.
type EvaluatedPath struct {
	Goal  string
	Start graph.Element
	Edges []EvaluatedEdge
	OK    bool
}

// Lines renders the path one edge per line.
func (p *EvaluatedPath) Lines() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.Edges))
	for i, e := range p.Edges {
		out[i] = e.String()
	}
	return out
}

func (p *EvaluatedPath) String() string {
	return strings.Join(p.Lines(), "\n")
}

// Invocation records one dispatch, or cache hit, of an operation.
type Invocation struct {
	Service   string
	Operation string
	Invoker   string
	Params    []typed.Instance
	Result    typed.Instance
	Err       error
	Cached    bool
}

// Result is the answer to a top-level query. Every requested goal appears in
// Goals, in request order; Unmatched repeats the goals that did not resolve.
type Result struct {
	ID          string
	Goals       []GoalResult
	Unmatched   []Goal
	Paths       []*EvaluatedPath
	Invocations []Invocation
	SubQueries  int
}

// FullyResolved reports whether every goal matched.
func (r *Result) FullyResolved() bool { return len(r.Unmatched) == 0 }

// Value returns the value of the first matched goal of typeName.
func (r *Result) Value(typeName string) (typed.Instance, bool) {
	for _, g := range r.Goals {
		if g.Matched && g.Goal.Type.Name == typeName {
			return g.Value, true
		}
	}
	return nil, false
}

// Trace renders every evaluated path, one edge per line.
func (r *Result) Trace() []string {
	var out []string
	for _, p := range r.Paths {
		out = append(out, p.Lines()...)
	}
	return out
}

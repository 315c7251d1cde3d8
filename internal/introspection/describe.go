// Package introspection describes a loaded schema and its semantic graph as
// a JSON-friendly document. It backs GET /schema and the describe command.
package introspection

import (
	"github.com/hanpama/typegraph/internal/graph"
	"github.com/hanpama/typegraph/internal/schema"
)

// Document is the description of one schema.
type Document struct {
	Types    []Type    `json:"types"`
	Services []Service `json:"services"`
	Graph    Graph     `json:"graph"`
}

type Type struct {
	Name        string       `json:"name"`
	Kind        string       `json:"kind"`
	Description string       `json:"description,omitempty"`
	Parameter   bool         `json:"parameter,omitempty"`
	Attributes  []Field      `json:"attributes,omitempty"`
	EnumValues  []string     `json:"enumValues,omitempty"`
	Metadata    []Annotation `json:"metadata,omitempty"`
}

type Field struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

type Service struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Operations  []Operation  `json:"operations"`
	Metadata    []Annotation `json:"metadata,omitempty"`
}

type Operation struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Parameters  []Field      `json:"parameters"`
	Returns     string       `json:"returns"`
	Contract    []string     `json:"contract,omitempty"`
	Metadata    []Annotation `json:"metadata,omitempty"`
	// Invoker names the backend serving the operation, empty when none does.
	Invoker string `json:"invoker,omitempty"`
}

type Annotation struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Graph summarizes the semantic graph. Edges is filled only when requested.
type Graph struct {
	Elements      int            `json:"elements"`
	Relationships map[string]int `json:"relationships"`
	Edges         []string       `json:"edges,omitempty"`
}

// InvokerResolver reports which invoker serves an operation.
type InvokerResolver func(svc *schema.Service, op *schema.Operation) (string, bool)

type options struct {
	edges   bool
	invoker InvokerResolver
}

type Option func(*options)

// WithEdges lists every graph edge in the document.
func WithEdges() Option { return func(o *options) { o.edges = true } }

// WithInvokers annotates operations with the invoker that serves them.
func WithInvokers(r InvokerResolver) Option { return func(o *options) { o.invoker = r } }

// Describe builds the document for s and its graph g.
func Describe(s *schema.Schema, g *graph.Graph, opts ...Option) *Document {
	var o options
	for _, f := range opts {
		f(&o)
	}
	doc := &Document{
		Types:    make([]Type, 0, len(s.Types())),
		Services: make([]Service, 0, len(s.Services())),
	}
	for _, t := range s.Types() {
		doc.Types = append(doc.Types, describeType(t))
	}
	for _, svc := range s.Services() {
		doc.Services = append(doc.Services, describeService(svc, o.invoker))
	}
	if g != nil {
		doc.Graph = describeGraph(g, o.edges)
	}
	return doc
}

// Lookup returns the described type named name.
func (d *Document) Lookup(name string) (Type, bool) {
	for _, t := range d.Types {
		if t.Name == name {
			return t, true
		}
	}
	return Type{}, false
}

func describeType(t *schema.Type) Type {
	out := Type{
		Name:        t.Name,
		Kind:        string(t.Kind),
		Description: t.Description,
		Parameter:   t.Parameter,
		EnumValues:  t.EnumValues,
		Metadata:    describeMetadata(t.Metadata),
	}
	for _, a := range t.Attributes {
		out.Attributes = append(out.Attributes, Field{Name: a.Name, Type: a.Type.String(), Description: a.Description})
	}
	return out
}

func describeService(svc *schema.Service, resolve InvokerResolver) Service {
	out := Service{
		Name:        svc.Name,
		Description: svc.Description,
		Operations:  make([]Operation, 0, len(svc.Operations)),
		Metadata:    describeMetadata(svc.Metadata),
	}
	for _, op := range svc.Operations {
		d := Operation{
			Name:        op.Name,
			Description: op.Description,
			Parameters:  make([]Field, 0, len(op.Parameters)),
			Returns:     op.Returns.String(),
			Metadata:    describeMetadata(op.Metadata),
		}
		for _, p := range op.Parameters {
			f := Field{Name: p.Name, Type: p.Type.String()}
			for _, c := range p.Constraints {
				f.Constraints = append(f.Constraints, c.String())
			}
			d.Parameters = append(d.Parameters, f)
		}
		if op.Contract != nil {
			for _, c := range op.Contract.Constraints {
				d.Contract = append(d.Contract, c.String())
			}
		}
		if resolve != nil {
			d.Invoker, _ = resolve(svc, op)
		}
		out.Operations = append(out.Operations, d)
	}
	return out
}

func describeMetadata(m schema.Metadata) []Annotation {
	if len(m) == 0 {
		return nil
	}
	out := make([]Annotation, len(m))
	for i, a := range m {
		out[i] = Annotation{Name: a.Name, Args: a.Args}
	}
	return out
}

func describeGraph(g *graph.Graph, withEdges bool) Graph {
	out := Graph{
		Elements:      len(g.Elements()),
		Relationships: make(map[string]int),
	}
	edges := g.AllEdges()
	for _, e := range edges {
		out.Relationships[e.Rel.String()]++
		if withEdges {
			out.Edges = append(out.Edges, e.String())
		}
	}
	return out
}

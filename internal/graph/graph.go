// Package graph models a schema as a graph of typed elements and finds
// weighted shortest paths through it.
//
// The graph is built once per schema and is read-only afterwards; per-query
// state (exclusions, penalties) lives in Costs.
package graph

import (
	"github.com/hanpama/typegraph/internal/schema"
)

// Graph is the static semantic graph of a schema. Instance vertices of facts
// are not stored; their single IsInstanceOf edge is derived on demand.
type Graph struct {
	elements []Element
	out      map[Element][]Edge
}

// Build derives the graph from s. For every object type T with attribute a of
// type A it adds
//
//	T -HasAttribute-> T.a, T.a -IsAttributeOf-> T, T.a -IsTypeOf-> A
//
// and for every operation S.o with parameter i of type P returning R
//
//	P -RequiresParameter-> S.o#i -IsParameterOn-> S.o
//	S.o -Provides-> instance(R) -IsInstanceOf-> R
//
// A -TypePresentAsAttributeType-> T.a is not built. Every type sharing an
// attribute type with the goal would be one hop from it, and none of those
// routes can carry a value of the goal type.
func Build(s *schema.Schema) *Graph {
	g := &Graph{out: make(map[Element][]Edge)}
	for _, t := range s.Types() {
		g.add(TypeElement(t.Name))
	}
	for _, t := range s.Types() {
		if t.Kind != schema.TypeKindObject {
			continue
		}
		owner := TypeElement(t.Name)
		for _, a := range t.Attributes {
			attr := AttributeElement(t.Name, a.Name)
			attrType := TypeElement(a.Type.Name)
			g.add(attr)
			g.link(owner, HasAttribute, attr)
			g.link(attr, IsAttributeOf, owner)
			g.link(attr, IsTypeOf, attrType)
		}
	}
	for _, svc := range s.Services() {
		for _, op := range svc.Operations {
			opElem := OperationElement(svc.Name, op.Name)
			g.add(opElem)
			for i, p := range op.Parameters {
				param := ParameterElement(svc.Name, op.Name, i)
				g.add(param)
				g.link(TypeElement(p.Type.Name), RequiresParameter, param)
				g.link(param, IsParameterOn, opElem)
			}
			out := InstanceElement(op.Returns.Name)
			if _, seen := g.out[out]; !seen {
				g.add(out)
				g.link(out, IsInstanceOf, TypeElement(op.Returns.Name))
			}
			g.link(opElem, Provides, out)
		}
	}
	return g
}

func (g *Graph) add(e Element) {
	if _, ok := g.out[e]; ok {
		return
	}
	g.out[e] = nil
	g.elements = append(g.elements, e)
}

func (g *Graph) link(from Element, rel Relationship, to Element) {
	e := Edge{From: from, Rel: rel, To: to}
	if !e.Fits() {
		panic("graph: edge does not fit its relationship: " + e.String())
	}
	g.out[from] = append(g.out[from], e)
}

// Elements returns every static element in insertion order.
func (g *Graph) Elements() []Element {
	return append([]Element(nil), g.elements...)
}

// Has reports whether e is a vertex of the graph. Fact elements are
// considered present when their type is.
func (g *Graph) Has(e Element) bool {
	if e.IsFact() {
		_, ok := g.out[TypeElement(e.Name)]
		return ok
	}
	_, ok := g.out[e]
	return ok
}

// Edges returns the outgoing edges of e in insertion order.
func (g *Graph) Edges(e Element) []Edge {
	if e.IsFact() {
		return []Edge{{From: e, Rel: IsInstanceOf, To: TypeElement(e.Name)}}
	}
	return g.out[e]
}

// AllEdges returns every static edge grouped by source in insertion order.
func (g *Graph) AllEdges() []Edge {
	var out []Edge
	for _, e := range g.elements {
		out = append(out, g.out[e]...)
	}
	return out
}

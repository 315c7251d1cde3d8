package graph

import (
	"container/heap"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultWeight is the cost of an edge that has not been penalized.
const DefaultWeight = 1

// Costs holds the per-query adjustments applied on top of the static graph.
// The zero value is ready to use. Costs is not safe for concurrent use.
type Costs struct {
	excludedEdges    map[Edge]bool
	excludedElements map[Element]bool
	penalties        map[Edge]int
}

// Exclude removes an edge from consideration.
func (c *Costs) Exclude(e Edge) {
	if c.excludedEdges == nil {
		c.excludedEdges = make(map[Edge]bool)
	}
	c.excludedEdges[e] = true
}

// ExcludeElement removes every edge into or out of e.
func (c *Costs) ExcludeElement(e Element) {
	if c.excludedElements == nil {
		c.excludedElements = make(map[Element]bool)
	}
	c.excludedElements[e] = true
}

// Penalize raises the weight of an edge by n.
func (c *Costs) Penalize(e Edge, n int) {
	if c.penalties == nil {
		c.penalties = make(map[Edge]int)
	}
	c.penalties[e] += n
}

// Excluded reports whether e or one of its endpoints is excluded.
func (c *Costs) Excluded(e Edge) bool {
	if c == nil {
		return false
	}
	return c.excludedEdges[e] || c.excludedElements[e.From] || c.excludedElements[e.To]
}

// Weight returns the current weight of e.
func (c *Costs) Weight(e Edge) int {
	if c == nil {
		return DefaultWeight
	}
	return DefaultWeight + c.penalties[e]
}

// Inherit returns fresh Costs carrying only the element exclusions of c.
// Sub-queries start with clean penalties but never walk back into operations
// their parent has excluded.
func (c *Costs) Inherit() *Costs {
	out := &Costs{}
	if c == nil {
		return out
	}
	for e := range c.excludedElements {
		out.ExcludeElement(e)
	}
	return out
}

// Path is a route from a start element through a sequence of edges.
type Path struct {
	Start Element
	Edges []Edge
	Cost  int
}

// End returns the last element of the path.
func (p Path) End() Element {
	if len(p.Edges) == 0 {
		return p.Start
	}
	return p.Edges[len(p.Edges)-1].To
}

// Signature hashes the start element and the edge sequence. The cost is not
// part of the signature, so a re-weighted proposal of the same route hashes
// the same.
func (p Path) Signature() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(p.Start.String())
	for _, e := range p.Edges {
		_, _ = d.WriteString("|")
		_, _ = d.WriteString(e.String())
	}
	return d.Sum64()
}

func (p Path) String() string {
	var b strings.Builder
	b.WriteString(p.Start.String())
	for _, e := range p.Edges {
		b.WriteString(" -[" + e.Rel.String() + "]-> " + e.To.String())
	}
	return b.String()
}

// ShortestPath runs Dijkstra from every source at once toward target. Ties
// are broken by discovery order, so equal inputs always yield the same path.
func (g *Graph) ShortestPath(sources []Element, target Element, costs *Costs) (Path, bool) {
	dist := make(map[Element]int)
	prev := make(map[Element]Edge)
	origin := make(map[Element]Element)
	done := make(map[Element]bool)

	pq := &queue{}
	seq := 0
	push := func(e Element, d int) {
		heap.Push(pq, &queueItem{elem: e, dist: d, seq: seq})
		seq++
	}
	for _, s := range sources {
		if _, seen := dist[s]; seen || costs.excludedElement(s) {
			continue
		}
		dist[s] = 0
		origin[s] = s
		push(s, 0)
	}

	for pq.Len() > 0 {
		it := heap.Pop(pq).(*queueItem)
		if done[it.elem] || it.dist > dist[it.elem] {
			continue
		}
		done[it.elem] = true
		if it.elem == target {
			return g.buildPath(it.elem, origin[it.elem], prev, it.dist), true
		}
		for _, e := range g.Edges(it.elem) {
			if costs.Excluded(e) || done[e.To] {
				continue
			}
			nd := it.dist + costs.Weight(e)
			if cur, seen := dist[e.To]; seen && cur <= nd {
				continue
			}
			dist[e.To] = nd
			prev[e.To] = e
			origin[e.To] = origin[it.elem]
			push(e.To, nd)
		}
	}
	return Path{}, false
}

func (c *Costs) excludedElement(e Element) bool {
	return c != nil && c.excludedElements[e]
}

func (g *Graph) buildPath(end, start Element, prev map[Element]Edge, cost int) Path {
	var edges []Edge
	for cur := end; cur != start; {
		e := prev[cur]
		edges = append(edges, e)
		cur = e.From
	}
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}
	return Path{Start: start, Edges: edges, Cost: cost}
}

type queueItem struct {
	elem Element
	dist int
	seq  int
}

type queue []*queueItem

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].seq < q[j].seq
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(*queueItem)) }
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

package query

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hanpama/typegraph/internal/eventbus"
	"github.com/hanpama/typegraph/internal/events"
	"github.com/hanpama/typegraph/internal/graph"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// queryState is owned by one top-level query and shared by every nested
// Context of it. All fields are guarded by mu; the LRU locks itself.
type queryState struct {
	id string

	mu          sync.Mutex
	facts       []typed.Instance
	factKeys    map[string]int
	paths       []*EvaluatedPath
	invocations []Invocation
	subQueries  int
	results     map[uint64]typed.Instance

	// explored maps the signature of every failed path to how it failed.
	explored *lru.Cache[uint64, deadEnd]
}

// deadEnd is the memo of one failed path. trapped is set once the path has
// been proposed again and its failing edge excluded.
type deadEnd struct {
	failed  graph.Edge
	trapped bool
}

func newQueryState(id string, exploredSize int) *queryState {
	explored, err := lru.New[uint64, deadEnd](exploredSize)
	if err != nil {
		panic(err)
	}
	return &queryState{
		id:       id,
		factKeys: make(map[string]int),
		results:  make(map[uint64]typed.Instance),
		explored: explored,
	}
}

// Context is the per-query state seen by one search frame. Nested frames
// (sub-queries, repairs) share the facts and history of the query and carry
// their own exclusions and guards, so a Context value is never mutated after
// creation.
type Context struct {
	engine *Engine
	state  *queryState

	depth int
	// costs carries the operation exclusions of this frame.
	costs *graph.Costs
	// inflight holds the goal types being searched by enclosing frames.
	inflight map[string]bool
	// constructing holds the types being built field by field by enclosing
	// frames.
	constructing map[string]bool
	// repairing holds the violations being repaired by enclosing frames.
	repairing map[string]bool
}

// ID returns the id of the query.
func (qc *Context) ID() string { return qc.state.id }

// Schema returns the schema the query runs against.
func (qc *Context) Schema() *schema.Schema { return qc.engine.schema }

func (qc *Context) bus() *eventbus.Bus { return qc.engine.opts.Bus }

// Facts returns a snapshot of the known facts in insertion order.
func (qc *Context) Facts() []typed.Instance {
	qc.state.mu.Lock()
	defer qc.state.mu.Unlock()
	return append([]typed.Instance(nil), qc.state.facts...)
}

// AddFact appends inst unless an equal fact is already known. It returns the
// index of the fact.
func (qc *Context) AddFact(inst typed.Instance) int {
	k := typed.Key(inst)
	qc.state.mu.Lock()
	defer qc.state.mu.Unlock()
	if i, ok := qc.state.factKeys[k]; ok {
		return i
	}
	qc.state.facts = append(qc.state.facts, inst)
	i := len(qc.state.facts) - 1
	qc.state.factKeys[k] = i
	return i
}

func (qc *Context) fact(i int) typed.Instance {
	qc.state.mu.Lock()
	defer qc.state.mu.Unlock()
	return qc.state.facts[i]
}

// topLevelFact returns the first top-level fact satisfying ref.
func (qc *Context) topLevelFact(ref schema.TypeRef) (typed.Instance, bool) {
	want := schema.TypeRef{Name: ref.Name, List: ref.List}
	for _, f := range qc.Facts() {
		if typed.Satisfies(f, want) && (ref.List || typed.HasValue(f)) {
			return f, true
		}
	}
	return nil, false
}

// anyDepthFact returns the single distinct value of typeName found at any
// depth of the facts. More than one distinct candidate is ambiguous and
// yields nothing.
func (qc *Context) anyDepthFact(typeName string) (typed.Instance, bool) {
	found := typed.Distinct(typed.FindAll(typeName, qc.Facts()...))
	if len(found) == 1 {
		return found[0], true
	}
	return nil, false
}

// knownValue looks ref up among the facts: top level first, then any depth.
// Collections are satisfied by a collection fact or by all top-level facts
// of the member type.
func (qc *Context) knownValue(ref schema.TypeRef) (typed.Instance, bool) {
	if v, ok := qc.topLevelFact(ref); ok {
		return v, true
	}
	if ref.List {
		return qc.collectMembers(ref)
	}
	return qc.anyDepthFact(ref.Name)
}

func (qc *Context) collectMembers(ref schema.TypeRef) (typed.Instance, bool) {
	var members []typed.Instance
	for _, f := range qc.Facts() {
		if typed.Satisfies(f, ref.Member()) && typed.HasValue(f) {
			members = append(members, f)
		}
	}
	if len(members) == 0 {
		return nil, false
	}
	return typed.NewCollection(qc.engine.schema.MustType(ref.Name), members, typed.SourceConstructed), true
}

// sources returns the start elements of a search: one per fact plus every
// operation without parameters.
func (qc *Context) sources() []graph.Element {
	facts := qc.Facts()
	out := make([]graph.Element, 0, len(facts)+len(qc.engine.zeroParamOps))
	for i, f := range facts {
		if typed.HasValue(f) {
			out = append(out, graph.FactElement(f.Type().Name, i))
		}
	}
	return append(out, qc.engine.zeroParamOps...)
}

func (qc *Context) recordPath(p *EvaluatedPath) {
	qc.state.mu.Lock()
	defer qc.state.mu.Unlock()
	qc.state.paths = append(qc.state.paths, p)
}

// lastPath returns the most recently evaluated path, for diagnostics.
func (qc *Context) lastPath() *EvaluatedPath {
	qc.state.mu.Lock()
	defer qc.state.mu.Unlock()
	if n := len(qc.state.paths); n > 0 {
		return qc.state.paths[n-1]
	}
	return nil
}

func (qc *Context) recordInvocation(inv Invocation) {
	qc.state.mu.Lock()
	defer qc.state.mu.Unlock()
	qc.state.invocations = append(qc.state.invocations, inv)
}

func (qc *Context) cachedResult(key uint64) (typed.Instance, bool) {
	qc.state.mu.Lock()
	defer qc.state.mu.Unlock()
	v, ok := qc.state.results[key]
	return v, ok
}

func (qc *Context) storeResult(key uint64, v typed.Instance) {
	qc.state.mu.Lock()
	defer qc.state.mu.Unlock()
	qc.state.results[key] = v
}

// Find resolves goals in a nested frame. It is the sub-query entry point
// used by parameter discovery and invocation; the batch counts as one
// sub-query however many goals it holds.
func (qc *Context) Find(ctx context.Context, goals ...Goal) ([]GoalResult, error) {
	names := make([]string, len(goals))
	for i, g := range goals {
		names[i] = g.String()
	}
	if qc.depth >= qc.engine.opts.MaxDepth {
		out := make([]GoalResult, len(goals))
		for i, g := range goals {
			out[i] = GoalResult{Goal: g, Reason: "maximum sub-query depth reached"}
		}
		return out, nil
	}

	qc.state.mu.Lock()
	qc.state.subQueries++
	qc.state.mu.Unlock()
	eventbus.Publish(ctx, qc.bus(), events.SubQuery{QueryID: qc.state.id, Goals: names, Depth: qc.depth + 1})

	child := qc.derive()
	child.depth++
	return child.resolveGoals(ctx, goals)
}

// derive copies the frame. Guard maps are shared until one is extended with
// a with* helper, which copies it first.
func (qc *Context) derive() *Context {
	c := *qc
	return &c
}

// withoutOperation returns a frame in which op can no longer be traversed.
func (qc *Context) withoutOperation(op *schema.Operation) *Context {
	c := qc.derive()
	c.costs = qc.costs.Inherit()
	c.costs.ExcludeElement(graph.OperationElement(op.Service, op.Name))
	return c
}

func (qc *Context) withInflight(typeName string) *Context {
	c := qc.derive()
	c.inflight = extend(qc.inflight, typeName)
	return c
}

func (qc *Context) withConstructing(typeName string) *Context {
	c := qc.derive()
	c.constructing = extend(qc.constructing, typeName)
	return c
}

func (qc *Context) withRepairing(key string) *Context {
	c := qc.derive()
	c.repairing = extend(qc.repairing, key)
	return c
}

func extend(m map[string]bool, key string) map[string]bool {
	out := make(map[string]bool, len(m)+1)
	for k := range m {
		out[k] = true
	}
	out[key] = true
	return out
}

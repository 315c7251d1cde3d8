// Package query resolves typed goals by searching a semantic graph of a
// schema and invoking the operations found along the way.
//
// # Overview
//
// A query names one or more goal types, optionally constrained, and supplies
// initial facts. The engine answers each goal with a value or an explicit
// unmatched marker. It never reports a partial answer as complete.
//
// # Goal Resolution
//
// Each goal is tried in a fixed order, the first success winning:
//  1. A top-level fact of the goal type.
//  2. The single distinct value of the goal type found at any depth of the
//     facts. Two or more distinct candidates are ambiguous and skipped.
//  3. For parameter types (objects declared @parameterType), construction
//     field by field (see Parameter Discovery).
//  4. A graph search.
//
// # Graph Search
//
// The search starts from every fact and every operation without parameters
// and looks for the cheapest path to the goal type (graph.ShortestPath). The
// edges of the path are then evaluated in order through the Registry; each
// evaluator receives the value produced so far and returns the value carried
// on. Structural edges pass the value through. RequiresParameter edges pick
// or discover the parameter value and Provides edges invoke the operation.
//
// When an edge fails:
//   - its weight is raised by Options.FailedEdgePenalty, so the next attempt
//     prefers other routes;
//   - the path signature (graph.Path.Signature) is stored with the failed
//     edge in a per-query LRU.
//
// A path proposed again is not re-evaluated. The first time, its failed edge
// is excluded outright; the second time the search gives up as trapped. The
// search also stops when no path remains or after Options.MaxSearchAttempts.
//
// When the goal type is reached, the value arriving there is accepted if it
// satisfies the goal. Otherwise the single distinct accepted value nested in
// it is used; several candidates fail the path with an ambiguity.
//
// # Parameter Discovery
//
// A parameter type is built from one value per attribute. Each attribute is
// looked up among the facts, built recursively when it is an object type not
// already under construction in this call chain, and otherwise searched for
// with a sub-query. A nullable attribute that cannot be found is set to null;
// a non-null one fails the construction naming Type.attribute.
//
// # Invocation
//
// Context.Invoke gathers parameters from provided values, preferred values
// (usually the value that reached the RequiresParameter edge) and facts, and
// issues a single batched sub-query for all that remain. The operation being
// invoked is excluded from that sub-query. Parameter constraints are then
// evaluated (package constraint). A value with exactly one violation is
// repaired by the first operation, in schema order, whose declared contract
// can fix it; two or more violations fail closed. The first Invoker whose
// CanSupport matches receives the values. Results are cached for the rest of
// the query by operation and parameter values.
//
// # Errors
//
// NoInvokerFoundError and context cancellation abort the query; Engine.Find
// returns them along with a partial Result. Every other error fails one edge
// and the search moves on. The error types match the sentinel errors of this
// package with errors.Is.
//
// # Concurrency
//
// An Engine is safe for concurrent queries; each query owns its facts,
// history and memo. Options.Concurrency above 1 lets the goals of one batch,
// and the repairs of distinct parameters, proceed in parallel. The default of
// 1 keeps resolution deterministic.
package query

package query

import (
	"context"
	"fmt"

	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// Invoker executes one class of operations against a backend.
//
// General contract
//   - The engine holds an ordered list of invokers fixed at construction time
//     and dispatches each operation to the first one whose CanSupport returns
//     true. CanSupport must be cheap and free of I/O; it is usually a match on
//     the operation's metadata (see schema.Metadata).
//   - Invoke receives the parameter values in declaration order, already
//     gathered, validated and repaired by the engine. It must not retain or
//     mutate them.
//   - Invoke returns zero, one or many instances. For operations returning a
//     collection every member is one element of the slice; for single-valued
//     operations the engine treats zero results as null and more than one as
//     an invocation failure.
//   - Returned instances must be built against the engine's schema (see
//     typed.FromRaw) and should carry typed.FromOperation as their source.
//
// Errors
//   - Any returned error is attributed to the remote call and wrapped in an
//     InvocationError. It fails the edge being evaluated; the search goes on
//     with other paths. The engine never retries.
//   - Timeouts are an invoker concern. Invokers should honor ctx and return
//     ctx.Err() when it is done.
//
// Concurrency
//   - Implementations must be safe for concurrent use; concurrent queries
//     share one invoker list.
type Invoker interface {
	CanSupport(svc *schema.Service, op *schema.Operation) bool
	Invoke(ctx context.Context, svc *schema.Service, op *schema.Operation, params []typed.Instance) ([]typed.Instance, error)
}

// Named is implemented by invokers that want a readable name in events and
// invocation records.
type Named interface {
	Name() string
}

// InvokerName returns inv's Name, or its Go type when it has none.
func InvokerName(inv Invoker) string {
	if n, ok := inv.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", inv)
}

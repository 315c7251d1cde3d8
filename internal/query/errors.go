package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanpama/typegraph/internal/constraint"
)

// Sentinel errors. Every typed error below matches exactly one of them with
// errors.Is.
var (
	ErrUnresolvedOperationParameters = errors.New("unresolved operation parameters")
	ErrNoInvokerFound                = errors.New("no invoker found")
	ErrInvocationFailure             = errors.New("invocation failed")
	ErrUnsupportedMultipleViolations = errors.New("multiple constraint violations are not supported")
	ErrNoResolutionFound             = errors.New("no resolution found")
)

// UnresolvedParametersError reports parameters, or attributes under
// construction, that could not be found, constructed or searched for.
type UnresolvedParametersError struct {
	// Operation is the qualified operation name, empty during construction.
	Operation string
	// Missing names the unresolved types or Type.attribute pairs.
	Missing []string
	// Path is the last evaluated path of the query, for diagnostics.
	Path *EvaluatedPath
}

func (e *UnresolvedParametersError) Error() string {
	msg := "unresolved parameters " + strings.Join(e.Missing, ", ")
	if e.Operation != "" {
		msg += " for " + e.Operation
	}
	return msg
}

func (e *UnresolvedParametersError) Is(target error) bool {
	return target == ErrUnresolvedOperationParameters
}

// NoInvokerFoundError is a configuration error: no registered invoker
// supports the operation. It aborts the whole query.
type NoInvokerFoundError struct {
	Operation string
}

func (e *NoInvokerFoundError) Error() string {
	return "no invoker supports " + e.Operation
}

func (e *NoInvokerFoundError) Is(target error) bool { return target == ErrNoInvokerFound }

// InvocationError wraps a failure reported by an invoker.
type InvocationError struct {
	Service   string
	Operation string
	Err       error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoking %s.%s: %v", e.Service, e.Operation, e.Err)
}

func (e *InvocationError) Is(target error) bool { return target == ErrInvocationFailure }
func (e *InvocationError) Unwrap() error        { return e.Err }

// MultipleViolationsError is returned when one parameter value fails more
// than one constraint. No repair is attempted.
type MultipleViolationsError struct {
	Operation  string
	Parameter  string
	Violations []*constraint.Violation
}

func (e *MultipleViolationsError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Error()
	}
	return fmt.Sprintf("%s(%s): %d violations [%s]", e.Operation, e.Parameter, len(e.Violations), strings.Join(parts, "; "))
}

func (e *MultipleViolationsError) Is(target error) bool {
	return target == ErrUnsupportedMultipleViolations
}

// NoResolutionError is returned when a single violation could not be
// repaired. It also matches ErrUnresolvedOperationParameters, since the
// parameter is left without a valid value.
type NoResolutionError struct {
	Operation string
	Parameter string
	Violation *constraint.Violation
	Reason    string
}

func (e *NoResolutionError) Error() string {
	msg := fmt.Sprintf("%s(%s): no resolution for %v", e.Operation, e.Parameter, e.Violation)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *NoResolutionError) Is(target error) bool {
	return target == ErrNoResolutionFound || target == ErrUnresolvedOperationParameters
}

// isFatal reports errors that must abort the query instead of failing a
// single edge: missing invokers and cancellation.
func isFatal(err error) bool {
	return errors.Is(err, ErrNoInvokerFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

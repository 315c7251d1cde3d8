package query

import (
	"context"
	"sync"

	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// MockHandler answers one operation for MockInvoker.
type MockHandler func(ctx context.Context, params []typed.Instance) ([]typed.Instance, error)

// MockCall records one MockInvoker.Invoke call.
type MockCall struct {
	Operation string
	Params    []any
}

// MockInvoker supports every operation that has a handler registered under
// its qualified name ("Service.operation") and records every call.
type MockInvoker struct {
	mu       sync.Mutex
	handlers map[string]MockHandler
	calls    []MockCall
}

// NewMockInvoker creates a MockInvoker with the provided handlers.
func NewMockInvoker(handlers map[string]MockHandler) *MockInvoker {
	m := &MockInvoker{handlers: make(map[string]MockHandler, len(handlers))}
	for k, h := range handlers {
		m.handlers[k] = h
	}
	return m
}

// NewMockValueHandler returns a handler that always returns values.
func NewMockValueHandler(values ...typed.Instance) MockHandler {
	return func(context.Context, []typed.Instance) ([]typed.Instance, error) {
		return values, nil
	}
}

// NewMockErrorHandler returns a handler that always fails with err.
func NewMockErrorHandler(err error) MockHandler {
	return func(context.Context, []typed.Instance) ([]typed.Instance, error) {
		return nil, err
	}
}

// SetHandler registers or replaces the handler for an operation.
func (m *MockInvoker) SetHandler(qualifiedName string, h MockHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[qualifiedName] = h
}

func (m *MockInvoker) Name() string { return "mock" }

func (m *MockInvoker) CanSupport(_ *schema.Service, op *schema.Operation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[op.QualifiedName()]
	return ok
}

func (m *MockInvoker) Invoke(ctx context.Context, _ *schema.Service, op *schema.Operation, params []typed.Instance) ([]typed.Instance, error) {
	m.mu.Lock()
	h := m.handlers[op.QualifiedName()]
	raw := make([]any, len(params))
	for i, p := range params {
		raw[i] = typed.ToRaw(p)
	}
	m.calls = append(m.calls, MockCall{Operation: op.QualifiedName(), Params: raw})
	m.mu.Unlock()

	return h(ctx, params)
}

// GetCalls returns a copy of the recorded calls in order.
func (m *MockInvoker) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Operations returns the qualified names of the recorded calls in order.
func (m *MockInvoker) Operations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Operation
	}
	return out
}

// Reset clears recorded calls; handlers remain.
func (m *MockInvoker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

package grpcrt

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// CallRecord captures a single Call invocation for assertions.
type CallRecord struct {
	Method protoreflect.MethodDescriptor
	// FullMethod is "/<service full name>/<method>".
	FullMethod string
	// Request is a deep copy of the input.
	Request proto.Message
}

// MockHandler answers a call on behalf of MockTransport.
type MockHandler func(method protoreflect.MethodDescriptor, request protoreflect.Message) (protoreflect.Message, error)

// MockTransport implements Transport. It returns pre-seeded responses in
// order, or delegates to a handler, and records every call.
type MockTransport struct {
	mu        sync.Mutex
	responses []protoreflect.Message
	errs      []error
	handler   MockHandler
	idx       int
	calls     []CallRecord
}

// NewMockTransport returns the provided responses for successive calls.
func NewMockTransport(responses ...protoreflect.Message) *MockTransport {
	return &MockTransport{responses: append([]protoreflect.Message(nil), responses...)}
}

// NewMockTransportWithErrors seeds per-call errors alongside responses. For
// call i a non-nil errs[i] is returned instead of responses[i].
func NewMockTransportWithErrors(responses []protoreflect.Message, errs []error) *MockTransport {
	return &MockTransport{
		responses: append([]protoreflect.Message(nil), responses...),
		errs:      append([]error(nil), errs...),
	}
}

// NewMockTransportFunc answers every call with h.
func NewMockTransportFunc(h MockHandler) *MockTransport {
	return &MockTransport{handler: h}
}

func (m *MockTransport) Call(_ context.Context, method protoreflect.MethodDescriptor, request protoreflect.Message) (protoreflect.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reqClone proto.Message
	if request != nil {
		reqClone = proto.Clone(request.Interface())
	}
	full := ""
	if method != nil {
		full = fmt.Sprintf("/%s/%s", method.Parent().FullName(), method.Name())
	}
	m.calls = append(m.calls, CallRecord{Method: method, FullMethod: full, Request: reqClone})

	if m.handler != nil {
		return m.handler(method, request)
	}
	if m.idx >= len(m.responses) && m.idx >= len(m.errs) {
		return nil, fmt.Errorf("mock transport: no more responses")
	}
	i := m.idx
	m.idx++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return nil, nil
}

// Calls returns a snapshot of recorded calls.
func (m *MockTransport) Calls() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallRecord, len(m.calls))
	copy(out, m.calls)
	return out
}

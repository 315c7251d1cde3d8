package grpcrt

import (
	"context"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Transport performs one unary gRPC call with dynamic messages.
//
// Provided implementations:
//   - internal/grpctp.Transport: pooled client with endpoint discovery and
//     default deadlines
//   - MockTransport: canned responses for tests
//
// Implementations MUST be safe for concurrent use; concurrent queries share
// one invoker and therefore one transport.
type Transport interface {
	Call(ctx context.Context, method protoreflect.MethodDescriptor, request protoreflect.Message) (protoreflect.Message, error)
}

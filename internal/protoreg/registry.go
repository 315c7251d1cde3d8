package protoreg

import (
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/hanpama/typegraph/internal/schema"
)

// Registry holds the descriptors built from a schema. It is immutable and
// safe for concurrent use.
type Registry struct {
	files   []protoreflect.FileDescriptor
	methods map[string]protoreflect.MethodDescriptor
}

// Files returns one file descriptor per proto package, in the order the
// packages were first bound.
func (r *Registry) Files() []protoreflect.FileDescriptor {
	return r.files
}

// Method returns the method bound to op, or nil when op is not bound to gRPC.
func (r *Registry) Method(op *schema.Operation) protoreflect.MethodDescriptor {
	if r == nil {
		return nil
	}
	return r.methods[op.QualifiedName()]
}

// Len returns the number of bound methods.
func (r *Registry) Len() int {
	return len(r.methods)
}

// Package grpcrt invokes schema operations bound to gRPC methods. Requests
// and responses are dynamic messages built from the descriptors of package
// protoreg; the wire call itself is delegated to a Transport.
package grpcrt

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/typegraph/internal/protoreg"
	"github.com/hanpama/typegraph/internal/query"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// Invoker implements query.Invoker for operations that have a method in the
// registry.
//
// Invariants and boundaries:
//   - Registry trust: CanSupport is the only gate. Invoke on an operation the
//     registry does not know is a programming error and panics.
//   - Parameter mapping: parameter i is written to the request field named
//     after parameter i. Null parameters leave the field unset.
//   - Response mapping: the "data" field is decoded against the operation's
//     return type. An unset singular message is a null result.
type Invoker struct {
	schema    *schema.Schema
	reg       *protoreg.Registry
	transport Transport
}

var _ query.Invoker = (*Invoker)(nil)

func NewInvoker(s *schema.Schema, registry *protoreg.Registry, transport Transport) *Invoker {
	return &Invoker{schema: s, reg: registry, transport: transport}
}

func (i *Invoker) Name() string { return "grpc" }

func (i *Invoker) CanSupport(_ *schema.Service, op *schema.Operation) bool {
	return i.reg.Method(op) != nil
}

func (i *Invoker) Invoke(ctx context.Context, _ *schema.Service, op *schema.Operation, params []typed.Instance) ([]typed.Instance, error) {
	md := i.reg.Method(op)
	if md == nil {
		panic(fmt.Sprintf("grpcrt: no method descriptor for %s", op.QualifiedName()))
	}

	req := dynamicpb.NewMessage(md.Input())
	args := make(map[string]any, len(op.Parameters))
	for idx, p := range op.Parameters {
		args[p.Name] = typed.ToRaw(params[idx])
	}
	if err := setMessageFields(req, args); err != nil {
		return nil, fmt.Errorf("build %s: %w", md.Input().FullName(), err)
	}

	resp, err := i.transport.Call(ctx, md, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("empty response from %s", md.FullName())
	}
	raw, err := i.handleResponse(resp)
	if err != nil {
		return nil, err
	}
	v, err := typed.FromRaw(i.schema, op.Returns, raw, typed.FromOperation(op.QualifiedName()))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", md.Output().FullName(), err)
	}
	return []typed.Instance{v}, nil
}

// handleResponse extracts the top-level "data" field from a response message.
func (i *Invoker) handleResponse(resp protoreflect.Message) (any, error) {
	fd := resp.Descriptor().Fields().ByName(protoreflect.Name(protoreg.DataField))
	if fd == nil {
		return nil, fmt.Errorf("missing data field in %s", resp.Descriptor().FullName())
	}
	if !fd.IsList() && fd.HasPresence() && !resp.Has(fd) {
		return nil, nil
	}
	return i.decodeField(fd, resp.Get(fd)), nil
}

package grpcrt

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/typegraph/internal/protoreg"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

const ledgerSDL = `
enum Region {
  EU
  US
}

type Money @parameterType {
  amount: Decimal!
  currency: String!
}

type Account {
  id: ID!
  balance: Money!
  region: Region
  tags: [String!]
}

type Ledger @service @grpc(service: "bank.Ledger") {
  deposit(accountId: ID!, money: Money!): Account
  find(region: Region): [Account!]
  missing(id: ID!): Account
}

type Local @service {
  lookup(id: ID!): Account
}
`

type fixture struct {
	schema *schema.Schema
	reg    *protoreg.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s, err := schema.BuildFromSDL(ledgerSDL)
	require.NoError(t, err)
	reg, err := protoreg.Build(s)
	require.NoError(t, err)
	return fixture{schema: s, reg: reg}
}

func (f fixture) op(t *testing.T, service, name string) (*schema.Service, *schema.Operation) {
	t.Helper()
	svc, op, ok := f.schema.Operation(service, name)
	require.True(t, ok)
	return svc, op
}

func (f fixture) value(t *testing.T, ref schema.TypeRef, raw any) typed.Instance {
	t.Helper()
	v, err := typed.FromRaw(f.schema, ref, raw, typed.SourceProvided)
	require.NoError(t, err)
	return v
}

// respond builds a response message whose data field holds raw.
func respond(t *testing.T, md protoreflect.MethodDescriptor, raw any) protoreflect.Message {
	t.Helper()
	resp := dynamicpb.NewMessage(md.Output())
	require.NoError(t, setMessageFields(resp, map[string]any{protoreg.DataField: raw}))
	return resp
}

func TestInvokeBuildsRequestAndDecodesResponse(t *testing.T) {
	f := newFixture(t)
	svc, op := f.op(t, "Ledger", "deposit")
	md := f.reg.Method(op)
	require.NotNil(t, md)

	account := map[string]any{
		"id":      "a-1",
		"balance": map[string]any{"amount": 10.5, "currency": "EUR"},
		"region":  "EU",
		"tags":    []any{"vip"},
	}
	mt := NewMockTransport(respond(t, md, account))
	inv := NewInvoker(f.schema, f.reg, mt)

	params := []typed.Instance{
		f.value(t, schema.NonNullNamed("ID"), "a-1"),
		f.value(t, schema.NonNullNamed("Money"), map[string]any{"amount": 10.5, "currency": "EUR"}),
	}
	out, err := inv.Invoke(context.Background(), svc, op, params)
	require.NoError(t, err)
	require.Len(t, out, 1)
	if diff := cmp.Diff(account, typed.ToRaw(out[0])); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, typed.FromOperation("Ledger.deposit"), out[0].Source())

	calls := mt.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "/bank.Ledger/Deposit", calls[0].FullMethod)
	req := calls[0].Request.ProtoReflect()
	in := md.Input().Fields()
	require.Equal(t, "a-1", req.Get(in.ByName("account_id")).String())
	money := req.Get(in.ByName("money")).Message()
	require.Equal(t, 10.5, money.Get(money.Descriptor().Fields().ByName("amount")).Float())
	require.Equal(t, "EUR", money.Get(money.Descriptor().Fields().ByName("currency")).String())
}

func TestInvokeListResult(t *testing.T) {
	f := newFixture(t)
	svc, op := f.op(t, "Ledger", "find")
	md := f.reg.Method(op)

	var gotRegion protoreflect.EnumNumber
	mt := NewMockTransportFunc(func(_ protoreflect.MethodDescriptor, req protoreflect.Message) (protoreflect.Message, error) {
		gotRegion = req.Get(req.Descriptor().Fields().ByName("region")).Enum()
		return respond(t, md, []any{
			map[string]any{"id": "a-1", "balance": map[string]any{"amount": 1.0, "currency": "USD"}, "region": "US"},
			map[string]any{"id": "a-2", "balance": map[string]any{"amount": 2.0, "currency": "USD"}, "region": "US"},
		}), nil
	})
	inv := NewInvoker(f.schema, f.reg, mt)

	out, err := inv.Invoke(context.Background(), svc, op, []typed.Instance{f.value(t, schema.Named("Region"), "US")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	coll, ok := out[0].(*typed.Collection)
	require.True(t, ok, "got %T", out[0])
	require.Equal(t, 2, coll.Len())

	want := md.Input().Fields().ByName("region").Enum().Values().ByName("REGION_US").Number()
	require.Equal(t, want, gotRegion)
}

func TestInvokeUnsetDataIsNull(t *testing.T) {
	f := newFixture(t)
	svc, op := f.op(t, "Ledger", "missing")
	md := f.reg.Method(op)

	inv := NewInvoker(f.schema, f.reg, NewMockTransport(dynamicpb.NewMessage(md.Output())))
	out, err := inv.Invoke(context.Background(), svc, op, []typed.Instance{f.value(t, schema.NonNullNamed("ID"), "nope")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	_, isNull := out[0].(*typed.Null)
	require.True(t, isNull, "got %T", out[0])
}

func TestNullParameterLeavesFieldUnset(t *testing.T) {
	f := newFixture(t)
	svc, op := f.op(t, "Ledger", "find")
	md := f.reg.Method(op)

	mt := NewMockTransport(respond(t, md, []any{}))
	inv := NewInvoker(f.schema, f.reg, mt)
	region := typed.NewNull(f.schema.MustType("Region"), typed.SourceConstructed)
	_, err := inv.Invoke(context.Background(), svc, op, []typed.Instance{region})
	require.NoError(t, err)

	req := mt.Calls()[0].Request.ProtoReflect()
	require.False(t, req.Has(md.Input().Fields().ByName("region")))
}

func TestTransportErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	svc, op := f.op(t, "Ledger", "missing")
	boom := errors.New("unavailable")

	inv := NewInvoker(f.schema, f.reg, NewMockTransportWithErrors(nil, []error{boom}))
	_, err := inv.Invoke(context.Background(), svc, op, []typed.Instance{f.value(t, schema.NonNullNamed("ID"), "x")})
	require.ErrorIs(t, err, boom)
}

func TestCanSupport(t *testing.T) {
	f := newFixture(t)
	inv := NewInvoker(f.schema, f.reg, NewMockTransport())

	svc, op := f.op(t, "Ledger", "deposit")
	require.True(t, inv.CanSupport(svc, op))
	svc, op = f.op(t, "Local", "lookup")
	require.False(t, inv.CanSupport(svc, op))
}

package sqlrt

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

const ledgerSDL = `
type Money @parameterType {
  amount: Decimal!
  currency: String!
}

type Account {
  id: ID!
  ownerName: String!
  active: Boolean!
  balance: Money
  tags: [String!]
}

type Ledger @service {
  account(id: ID!): Account @sql(query: "SELECT id, owner_name, active, balance, tags, 'x' AS extra FROM accounts WHERE id = ?")
  byOwner(owner: String!): [Account!] @sql(query: "SELECT id, owner_name, active FROM accounts WHERE owner_name = ? ORDER BY id")
  anyActive(active: Boolean!): Account @sql(query: "SELECT id, owner_name, active FROM accounts WHERE active = ?")
  countActive(active: Boolean!): Int @sql(query: "SELECT COUNT(*) FROM accounts WHERE active = ?")
  broken(id: ID!): Account @sql(query: "SELECT * FROM nowhere WHERE id = ?")
  remote(id: ID!): Account
}
`

func openLedger(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE accounts (
		id TEXT PRIMARY KEY,
		owner_name TEXT NOT NULL,
		active INTEGER NOT NULL,
		balance TEXT,
		tags TEXT
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO accounts VALUES
		('a-1', 'ada', 1, '{"amount":10.5,"currency":"EUR"}', '["vip"]'),
		('a-2', 'ada', 1, NULL, NULL),
		('a-3', 'bob', 0, NULL, NULL)`)
	require.NoError(t, err)
	return db
}

func invoke(t *testing.T, s *schema.Schema, inv *Invoker, name string, raw ...any) ([]typed.Instance, error) {
	t.Helper()
	svc, op, ok := s.Operation("Ledger", name)
	require.True(t, ok)
	params := make([]typed.Instance, len(op.Parameters))
	for i, p := range op.Parameters {
		inst, err := typed.FromRaw(s, p.Type, raw[i], typed.SourceProvided)
		require.NoError(t, err)
		params[i] = inst
	}
	return inv.Invoke(context.Background(), svc, op, params)
}

func TestRowMapsOntoAttributes(t *testing.T) {
	s := schema.MustBuildFromSDL(ledgerSDL)
	inv := NewInvoker(s, openLedger(t))

	out, err := invoke(t, s, inv, "account", "a-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	want := map[string]any{
		"id":        "a-1",
		"ownerName": "ada",
		"active":    true,
		"balance":   map[string]any{"amount": 10.5, "currency": "EUR"},
		"tags":      []any{"vip"},
	}
	if diff := cmp.Diff(want, typed.ToRaw(out[0])); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, typed.FromOperation("Ledger.account"), out[0].Source())
}

func TestNoRowsIsNull(t *testing.T) {
	s := schema.MustBuildFromSDL(ledgerSDL)
	inv := NewInvoker(s, openLedger(t))

	out, err := invoke(t, s, inv, "account", "nope")
	require.NoError(t, err)
	_, isNull := out[0].(*typed.Null)
	require.True(t, isNull, "got %T", out[0])
}

func TestListReturn(t *testing.T) {
	s := schema.MustBuildFromSDL(ledgerSDL)
	inv := NewInvoker(s, openLedger(t))

	out, err := invoke(t, s, inv, "byOwner", "ada")
	require.NoError(t, err)
	coll, ok := out[0].(*typed.Collection)
	require.True(t, ok, "got %T", out[0])
	require.Equal(t, 2, coll.Len())
	require.Equal(t, "a-2", typed.ToRaw(coll.Items()[1]).(map[string]any)["id"])

	out, err = invoke(t, s, inv, "byOwner", "nobody")
	require.NoError(t, err)
	require.Equal(t, 0, out[0].(*typed.Collection).Len())
}

func TestScalarReturnReadsFirstColumn(t *testing.T) {
	s := schema.MustBuildFromSDL(ledgerSDL)
	inv := NewInvoker(s, openLedger(t))

	out, err := invoke(t, s, inv, "countActive", true)
	require.NoError(t, err)
	require.Equal(t, int64(2), typed.ToRaw(out[0]))
}

func TestErrors(t *testing.T) {
	s := schema.MustBuildFromSDL(ledgerSDL)
	inv := NewInvoker(s, openLedger(t))

	_, err := invoke(t, s, inv, "anyActive", true)
	require.ErrorIs(t, err, ErrTooManyRows)

	_, err = invoke(t, s, inv, "broken", "a-1")
	require.ErrorContains(t, err, "no such table")
}

func TestCanSupport(t *testing.T) {
	s := schema.MustBuildFromSDL(ledgerSDL)
	inv := NewInvoker(s, nil)

	svc, op, _ := s.Operation("Ledger", "account")
	require.True(t, inv.CanSupport(svc, op))
	svc, op, _ = s.Operation("Ledger", "remote")
	require.False(t, inv.CanSupport(svc, op))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	require.ErrorContains(t, err, "unsupported driver")
}

func TestColumnMatching(t *testing.T) {
	typ := schema.MustBuildFromSDL(ledgerSDL).MustType("Account")
	require.Equal(t, "ownerName", attributeFor(typ, "owner_name").Name)
	require.Equal(t, "ownerName", attributeFor(typ, "OWNERNAME").Name)
	require.Nil(t, attributeFor(typ, "extra"))
}

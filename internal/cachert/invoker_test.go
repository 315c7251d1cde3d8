package cachert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/typegraph/internal/eventbus"
	"github.com/hanpama/typegraph/internal/events"
	"github.com/hanpama/typegraph/internal/query"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

const ratesSDL = `
type Money @parameterType {
  amount: Decimal!
  currency: String!
}

type Rates @service {
  toUSD(money: Money!): Money @cacheable(ttl: "5m")
  history(currency: String!): [Money!] @cacheable
  live(money: Money!): Money
}
`

type fixture struct {
	schema *schema.Schema
	next   *query.MockInvoker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := schema.MustBuildFromSDL(ratesSDL)
	money := func(amount float64) typed.Instance {
		v, err := typed.FromRaw(s, schema.Named("Money"), map[string]any{"amount": amount, "currency": "USD"}, typed.FromOperation("Rates.toUSD"))
		require.NoError(t, err)
		return v
	}
	history, err := typed.FromRaw(s, schema.ListOf("Money"), []any{
		map[string]any{"amount": 1.0, "currency": "USD"},
		map[string]any{"amount": 2.0, "currency": "USD"},
	}, typed.FromOperation("Rates.history"))
	require.NoError(t, err)

	next := query.NewMockInvoker(map[string]query.MockHandler{
		"Rates.toUSD":   query.NewMockValueHandler(money(11)),
		"Rates.history": query.NewMockValueHandler(history),
		"Rates.live":    query.NewMockValueHandler(money(12)),
	})
	return fixture{schema: s, next: next}
}

func (f fixture) invoke(t *testing.T, inv *Invoker, name string, raw any) []typed.Instance {
	t.Helper()
	svc, op, ok := f.schema.Operation("Rates", name)
	require.True(t, ok)
	p, err := typed.FromRaw(f.schema, op.Parameters[0].Type, raw, typed.SourceProvided)
	require.NoError(t, err)
	out, err := inv.Invoke(context.Background(), svc, op, []typed.Instance{p})
	require.NoError(t, err)
	return out
}

func TestCacheableResultsAreReused(t *testing.T) {
	f := newFixture(t)
	bus := eventbus.New()
	var (
		mu      sync.Mutex
		lookups []events.CacheLookup
	)
	eventbus.Subscribe(bus, func(_ context.Context, e events.CacheLookup) {
		mu.Lock()
		defer mu.Unlock()
		lookups = append(lookups, e)
	})
	inv := New(f.next, f.schema, NewLRUStore(16, time.Hour), WithEventBus(bus))

	eur := map[string]any{"amount": 10.0, "currency": "EUR"}
	first := f.invoke(t, inv, "toUSD", eur)
	second := f.invoke(t, inv, "toUSD", eur)

	require.Equal(t, []string{"Rates.toUSD"}, f.next.Operations())
	if diff := cmp.Diff(typed.ToRaw(first[0]), typed.ToRaw(second[0])); diff != "" {
		t.Errorf("cached result mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, typed.FromOperation("Rates.toUSD"), second[0].Source())

	f.invoke(t, inv, "toUSD", map[string]any{"amount": 20.0, "currency": "EUR"})
	require.Len(t, f.next.Operations(), 2)

	mu.Lock()
	defer mu.Unlock()
	hits := []bool{}
	for _, l := range lookups {
		hits = append(hits, l.Hit)
	}
	require.Equal(t, []bool{false, true, false}, hits)
	require.Equal(t, "lru", lookups[0].Store)
}

func TestCollectionsSurviveTheCache(t *testing.T) {
	f := newFixture(t)
	inv := New(f.next, f.schema, NewLRUStore(16, time.Hour))

	f.invoke(t, inv, "history", "USD")
	out := f.invoke(t, inv, "history", "USD")

	require.Len(t, f.next.Operations(), 1)
	require.Len(t, out, 1)
	coll, ok := out[0].(*typed.Collection)
	require.True(t, ok, "got %T", out[0])
	require.Equal(t, 2, coll.Len())
}

func TestUncacheablePassesThrough(t *testing.T) {
	f := newFixture(t)
	inv := New(f.next, f.schema, NewLRUStore(16, time.Hour))

	m := map[string]any{"amount": 1.0, "currency": "EUR"}
	f.invoke(t, inv, "live", m)
	f.invoke(t, inv, "live", m)
	require.Equal(t, []string{"Rates.live", "Rates.live"}, f.next.Operations())
}

func TestErrorsAreNotCached(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("rates down")
	f.next.SetHandler("Rates.toUSD", query.NewMockErrorHandler(boom))
	inv := New(f.next, f.schema, NewLRUStore(16, time.Hour))

	svc, op, _ := f.schema.Operation("Rates", "toUSD")
	p, err := typed.FromRaw(f.schema, op.Parameters[0].Type, map[string]any{"amount": 1.0, "currency": "EUR"}, typed.SourceProvided)
	require.NoError(t, err)
	for n := 0; n < 2; n++ {
		_, err := inv.Invoke(context.Background(), svc, op, []typed.Instance{p})
		require.ErrorIs(t, err, boom)
	}
	require.Len(t, f.next.Operations(), 2)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store offline")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store offline")
}

func TestStoreFailuresAreMisses(t *testing.T) {
	f := newFixture(t)
	inv := New(f.next, f.schema, failingStore{})

	out := f.invoke(t, inv, "toUSD", map[string]any{"amount": 1.0, "currency": "EUR"})
	require.Len(t, out, 1)
	require.Len(t, f.next.Operations(), 1)
}

func TestNameAndSupportDelegate(t *testing.T) {
	f := newFixture(t)
	inv := New(f.next, f.schema, NewLRUStore(1, 0))

	require.Equal(t, "mock", inv.Name())
	svc, op, _ := f.schema.Operation("Rates", "live")
	require.True(t, inv.CanSupport(svc, op))
}

func TestKeyDependsOnParams(t *testing.T) {
	s := schema.MustBuildFromSDL(ratesSDL)
	_, op, _ := s.Operation("Rates", "history")
	a, _ := typed.FromRaw(s, schema.NonNullNamed("String"), "USD", typed.SourceProvided)
	b, _ := typed.FromRaw(s, schema.NonNullNamed("String"), "EUR", typed.SourceConstructed)
	a2, _ := typed.FromRaw(s, schema.NonNullNamed("String"), "USD", typed.SourceConstructed)

	require.NotEqual(t, Key(op, []typed.Instance{a}), Key(op, []typed.Instance{b}))
	require.Equal(t, Key(op, []typed.Instance{a}), Key(op, []typed.Instance{a2}))
}

package typed

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/typegraph/internal/schema"
)

const testSDL = `
type Money { amount: Decimal!, currency: String! }
type Address { street: String, city: String }
type Person { name: String!, address: Address, home: Address, wallet: Money, tags: [String] }
`

func TestFromRawAndToRaw(t *testing.T) {
	s := schema.MustBuildFromSDL(testSDL)
	raw := map[string]any{
		"name":    "Ada",
		"address": map[string]any{"street": "Main", "city": "London"},
		"wallet":  map[string]any{"amount": "12.5", "currency": "GBP"},
		"tags":    []any{"a", "b"},
		"ignored": true,
	}
	inst, err := FromRaw(s, schema.Named("Person"), raw, SourceProvided)
	require.NoError(t, err)

	want := map[string]any{
		"name":    "Ada",
		"address": map[string]any{"street": "Main", "city": "London"},
		"wallet":  map[string]any{"amount": 12.5, "currency": "GBP"},
		"tags":    []any{"a", "b"},
	}
	if diff := cmp.Diff(want, ToRaw(inst)); diff != "" {
		t.Errorf("ToRaw mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, SourceProvided, inst.Source())

	_, err = FromRaw(s, schema.Named("Money"), map[string]any{"amount": true}, SourceProvided)
	require.Error(t, err)
}

func TestEqualNormalizesNumbers(t *testing.T) {
	s := schema.MustBuildFromSDL(testSDL)
	a, err := FromRaw(s, schema.Named("Money"), map[string]any{"amount": 100, "currency": "GBP"}, SourceProvided)
	require.NoError(t, err)
	b, err := FromRaw(s, schema.Named("Money"), map[string]any{"amount": 100.0, "currency": "GBP"}, FromOperation("Svc.op"))
	require.NoError(t, err)
	require.True(t, Equal(a, b))
	require.Equal(t, Key(a), Key(b))
	require.True(t, ValuesEqual(int64(3), 3.0))
	require.False(t, ValuesEqual("3", 3))
}

func TestIntCoercion(t *testing.T) {
	s := schema.MustBuildFromSDL(testSDL)
	tests := map[string]struct {
		raw     any
		want    int64
		wantErr bool
	}{
		"int64 above 2^53":       {raw: int64(9007199254740993), want: 9007199254740993},
		"json number above 2^53": {raw: json.Number("9007199254740993"), want: 9007199254740993},
		"max int64":              {raw: json.Number("9223372036854775807"), want: math.MaxInt64},
		"integral float":         {raw: 42.0, want: 42},
		"integral json exponent": {raw: json.Number("4e2"), want: 400},
		"min int64 float":        {raw: -9223372036854775808.0, want: math.MinInt64},
		"float out of range":     {raw: 1e30, wantErr: true},
		"float at 2^63":          {raw: 9223372036854775808.0, wantErr: true},
		"json number overflow":   {raw: json.Number("9223372036854775808"), wantErr: true},
		"uint64 overflow":        {raw: uint64(math.MaxUint64), wantErr: true},
		"fraction":               {raw: 1.5, wantErr: true},
		"fractional json number": {raw: json.Number("1.5"), wantErr: true},
		"string":                 {raw: "12", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			v, err := FromRaw(s, schema.Named("Int"), tt.raw, SourceProvided)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, ToRaw(v))
		})
	}
}

func TestLargeIntsStayDistinct(t *testing.T) {
	s := schema.MustBuildFromSDL(testSDL)
	a, err := FromRaw(s, schema.Named("Int"), int64(9007199254740993), SourceProvided)
	require.NoError(t, err)
	b, err := FromRaw(s, schema.Named("Int"), int64(9007199254740992), SourceProvided)
	require.NoError(t, err)

	require.False(t, Equal(a, b))
	require.NotEqual(t, Key(a), Key(b))
	require.Len(t, Distinct([]Instance{a, b}), 2)
	require.False(t, ValuesEqual(int64(9007199254740993), float64(9007199254740992)))
	require.False(t, ValuesEqual(int64(1), 1.5))
}

func TestDecodeJSONKeepsIntegers(t *testing.T) {
	s := schema.MustBuildFromSDL(testSDL)
	var raw any
	require.NoError(t, DecodeJSON([]byte(`{"n": 9007199254740993, "f": 0.25}`), &raw))

	m := raw.(map[string]any)
	n, err := FromRaw(s, schema.Named("Int"), m["n"], SourceProvided)
	require.NoError(t, err)
	require.Equal(t, int64(9007199254740993), ToRaw(n))
	f, err := FromRaw(s, schema.Named("Float"), m["f"], SourceProvided)
	require.NoError(t, err)
	require.Equal(t, 0.25, ToRaw(f))

	require.Error(t, DecodeJSON([]byte(`{} {}`), &raw))
	require.Error(t, DecodeJSON([]byte(`{`), &raw))
}

func TestHasValue(t *testing.T) {
	s := schema.MustBuildFromSDL(testSDL)
	str := s.MustType("String")
	require.False(t, HasValue(nil))
	require.False(t, HasValue(NewNull(str, SourceProvided)))
	require.False(t, HasValue(NewScalar(str, "", SourceProvided)))
	require.True(t, HasValue(NewScalar(str, "x", SourceProvided)))
}

func TestFindAllAndDistinct(t *testing.T) {
	s := schema.MustBuildFromSDL(testSDL)
	p, err := FromRaw(s, schema.Named("Person"), map[string]any{
		"name":    "Ada",
		"address": map[string]any{"city": "London"},
		"home":    map[string]any{"city": "London"},
	}, SourceProvided)
	require.NoError(t, err)

	found := FindAll("Address", p)
	require.Len(t, found, 2)
	require.Len(t, Distinct(found), 1)

	var paths [][]string
	Walk(p, func(path []string, v Instance) bool {
		if v.Type().Name == "String" {
			paths = append(paths, path)
		}
		return true
	})
	want := [][]string{{"name"}, {"address", "city"}, {"home", "city"}}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("walk paths mismatch (-want +got):\n%s", diff)
	}
}

func TestReplaceAtRebuildsOnlyThePath(t *testing.T) {
	s := schema.MustBuildFromSDL(testSDL)
	p, err := FromRaw(s, schema.Named("Person"), map[string]any{
		"name":    "Ada",
		"address": map[string]any{"city": "London"},
		"wallet":  map[string]any{"amount": 1, "currency": "GBP"},
	}, SourceProvided)
	require.NoError(t, err)

	usd := NewScalar(s.MustType("String"), "USD", SourceRepaired)
	got, err := ReplaceAt(p, []string{"wallet", "currency"}, usd)
	require.NoError(t, err)

	cur, ok := Get(got, []string{"wallet", "currency"})
	require.True(t, ok)
	require.Equal(t, "USD", ToRaw(cur))

	orig, _ := Get(p, []string{"wallet", "currency"})
	require.Equal(t, "GBP", ToRaw(orig), "original must be untouched")

	oldAddr, _ := Get(p, []string{"address"})
	newAddr, _ := Get(got, []string{"address"})
	require.Same(t, oldAddr, newAddr, "unaffected subtrees are shared")

	_, err = ReplaceAt(p, []string{"nope"}, usd)
	require.Error(t, err)
}

func TestResolveProperty(t *testing.T) {
	s := schema.MustBuildFromSDL(testSDL)
	path, err := ResolveProperty(s.MustType("Person"), schema.ParsePropertyIdentifier("type:Money"))
	require.NoError(t, err)
	require.Equal(t, []string{"wallet"}, path)

	_, err = ResolveProperty(s.MustType("Person"), schema.ParsePropertyIdentifier("type:Address"))
	require.True(t, errors.Is(err, ErrAmbiguousFieldMatch))

	path, err = ResolveProperty(s.MustType("Person"), schema.ParsePropertyIdentifier("wallet.currency"))
	require.NoError(t, err)
	require.Equal(t, []string{"wallet", "currency"}, path)
}

func TestSatisfies(t *testing.T) {
	s := schema.MustBuildFromSDL(testSDL)
	m, err := FromRaw(s, schema.Named("Money"), map[string]any{"amount": 1, "currency": "USD"}, SourceProvided)
	require.NoError(t, err)
	list := NewCollection(s.MustType("Money"), []Instance{m}, SourceProvided)
	require.True(t, Satisfies(m, schema.NonNullNamed("Money")))
	require.False(t, Satisfies(m, schema.ListOf("Money")))
	require.True(t, Satisfies(list, schema.ListOf("Money")))
	require.False(t, Satisfies(NewNull(s.MustType("Money"), SourceProvided), schema.NonNullNamed("Money")))
}

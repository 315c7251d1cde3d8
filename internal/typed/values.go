package typed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/hanpama/typegraph/internal/schema"
)

// FromRaw builds an instance of ref from a decoded JSON value. Scalars are
// normalized: Int becomes int64, Float and Decimal become float64, ID becomes
// string. Unknown object fields are ignored.
//
// Int accepts integers of any Go type, json.Number and integral floats; a
// value outside the int64 range is an error rather than a truncation.
func FromRaw(s *schema.Schema, ref schema.TypeRef, raw any, src Source) (Instance, error) {
	t, ok := s.Type(ref.Name)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", ref.Name)
	}
	if raw == nil {
		if ref.List {
			return NewCollection(t, nil, src), nil
		}
		return NewNull(t, src), nil
	}
	if ref.List {
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("expected list of %s, got %T", t.Name, raw)
		}
		out := make([]Instance, len(items))
		for i, it := range items {
			v, err := FromRaw(s, ref.Member(), it, src)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return NewCollection(t, out, src), nil
	}

	switch t.Kind {
	case schema.TypeKindObject:
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object for %s, got %T", t.Name, raw)
		}
		fields := make(map[string]Instance, len(t.Attributes))
		for _, a := range t.Attributes {
			fv, present := m[a.Name]
			if !present {
				continue
			}
			v, err := FromRaw(s, a.Type, fv, src)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name, a.Name, err)
			}
			fields[a.Name] = v
		}
		return NewObject(t, fields, src), nil
	case schema.TypeKindEnum:
		str, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected enum %s, got %T", t.Name, raw)
		}
		for _, ev := range t.EnumValues {
			if ev == str {
				return NewScalar(t, str, src), nil
			}
		}
		return nil, fmt.Errorf("%q is not a value of enum %s", str, t.Name)
	default:
		v, err := coerceScalar(t.Name, raw)
		if err != nil {
			return nil, err
		}
		return NewScalar(t, v, src), nil
	}
}

func coerceScalar(name string, raw any) (any, error) {
	switch name {
	case schema.ScalarString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case schema.ScalarID:
		switch v := raw.(type) {
		case string:
			return v, nil
		case json.Number:
			return v.String(), nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case int:
			return strconv.Itoa(v), nil
		}
	case schema.ScalarBoolean:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case schema.ScalarInt:
		n, ok, err := toInt(raw)
		if err != nil {
			return nil, fmt.Errorf("cannot use %v as %s: %w", raw, name, err)
		}
		if ok {
			return n, nil
		}
	case schema.ScalarFloat, schema.ScalarDecimal:
		if s, ok := raw.(string); ok && name == schema.ScalarDecimal {
			f, err := strconv.ParseFloat(s, 64)
			if err == nil {
				return f, nil
			}
		}
		if f, ok := toFloat(raw); ok {
			return f, nil
		}
	default:
		// Custom scalars are opaque apart from numbers, which take their
		// canonical form so that equal values compare and key alike.
		if n, ok := number(raw); ok {
			return n, nil
		}
		return raw, nil
	}
	return nil, fmt.Errorf("cannot use %v (%T) as %s", raw, raw, name)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// errIntRange is returned for numbers that do not fit an int64.
var errIntRange = errors.New("out of int64 range")

// 2^63 is exact in float64; int64 holds [-2^63, 2^63).
const twoTo63 = float64(1 << 63)

// toInt converts v to an int64 without losing precision. ok is false when v
// is not a number or has a fractional part.
func toInt(v any) (n int64, ok bool, err error) {
	switch x := v.(type) {
	case int:
		return int64(x), true, nil
	case int32:
		return int64(x), true, nil
	case int64:
		return x, true, nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, false, errIntRange
		}
		return int64(x), true, nil
	case json.Number:
		if n, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
			return n, true, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, false, errIntRange
		}
		return floatToInt(f)
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	}
	return 0, false, nil
}

func floatToInt(f float64) (int64, bool, error) {
	if math.IsNaN(f) || f != math.Trunc(f) {
		return 0, false, nil
	}
	if f < -twoTo63 || f >= twoTo63 {
		return 0, false, errIntRange
	}
	return int64(f), true, nil
}

// number returns the canonical form of a numeric value: an int64 when the
// value is integral and fits, a float64 otherwise.
func number(v any) (any, bool) {
	if n, ok, err := toInt(v); ok && err == nil {
		return n, true
	}
	if f, ok := toFloat(v); ok {
		return f, true
	}
	return nil, false
}

func normalize(v any) any {
	if n, ok := number(v); ok {
		return n
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, fv := range t {
			out[k] = normalize(fv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, it := range t {
			out[i] = normalize(it)
		}
		return out
	}
	return v
}

// ValuesEqual compares two plain values, treating numbers of any Go numeric
// type as equal when they have the same value. Integers compare exactly.
func ValuesEqual(a, b any) bool {
	na, aNum := number(a)
	nb, bNum := number(b)
	if aNum || bNum {
		return aNum && bNum && na == nb
	}
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !ValuesEqual(v, w) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

// DecodeJSON unmarshals data into v keeping numbers as json.Number, so that
// integers survive until FromRaw coerces them.
func DecodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// Equal reports whether two instances have the same type and value. The
// source is not compared.
func Equal(a, b Instance) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type().Name != b.Type().Name {
		return false
	}
	_, ac := a.(*Collection)
	_, bc := b.(*Collection)
	if ac != bc {
		return false
	}
	return ValuesEqual(ToRaw(a), ToRaw(b))
}

// HasValue reports whether inst carries a usable value. Nil, Null, a nil
// scalar and the empty string do not.
func HasValue(inst Instance) bool {
	switch v := inst.(type) {
	case nil:
		return false
	case *Null:
		return false
	case *Scalar:
		if v.value == nil {
			return false
		}
		if s, ok := v.value.(string); ok && s == "" {
			return false
		}
	}
	return true
}

// Satisfies reports whether inst can stand for a value of ref.
func Satisfies(inst Instance, ref schema.TypeRef) bool {
	if inst == nil || inst.Type().Name != ref.Name {
		return false
	}
	_, isList := inst.(*Collection)
	if isList != ref.List {
		return false
	}
	if ref.NonNull && !isList && !HasValue(inst) {
		return false
	}
	return true
}

// ErrAmbiguousFieldMatch is matched by AmbiguousFieldError.
var ErrAmbiguousFieldMatch = errors.New("ambiguous field match")

// AmbiguousFieldError reports more than one candidate for a structural lookup.
type AmbiguousFieldError struct {
	Type       string
	Candidates []string
}

func (e *AmbiguousFieldError) Error() string {
	return fmt.Sprintf("ambiguous field match on %s: candidates %v", e.Type, e.Candidates)
}

func (e *AmbiguousFieldError) Is(target error) bool { return target == ErrAmbiguousFieldMatch }

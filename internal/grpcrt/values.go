package grpcrt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/typegraph/internal/protoreg"
)

// setMessageFields writes plain values keyed by schema name into msg. Keys
// without a matching field are ignored and nil values leave the field unset.
func setMessageFields(msg protoreflect.Message, data map[string]any) error {
	fields := msg.Descriptor().Fields()
	for k, v := range data {
		fd := fields.ByName(protoreg.FieldName(k))
		if fd == nil || v == nil {
			continue
		}
		if fd.IsList() {
			items, ok := v.([]any)
			if !ok {
				return fmt.Errorf("%s: expected list, got %T", k, v)
			}
			list := msg.Mutable(fd).List()
			for _, it := range items {
				if it == nil {
					continue
				}
				pv, err := toProtoValue(fd, it)
				if err != nil {
					return fmt.Errorf("%s: %w", k, err)
				}
				list.Append(pv)
			}
			continue
		}
		pv, err := toProtoValue(fd, v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		msg.Set(fd, pv)
	}
	return nil
}

func toProtoValue(fd protoreflect.FieldDescriptor, v any) (protoreflect.Value, error) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		if b, ok := v.(bool); ok {
			return protoreflect.ValueOfBool(b), nil
		}
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		if n, ok := asInt64(v); ok && n >= math.MinInt32 && n <= math.MaxInt32 {
			return protoreflect.ValueOfInt32(int32(n)), nil
		}
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		if n, ok := asInt64(v); ok {
			return protoreflect.ValueOfInt64(n), nil
		}
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		if n, ok := asInt64(v); ok && n >= 0 && n <= math.MaxUint32 {
			return protoreflect.ValueOfUint32(uint32(n)), nil
		}
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		if n, ok := asInt64(v); ok && n >= 0 {
			return protoreflect.ValueOfUint64(uint64(n)), nil
		}
	case protoreflect.FloatKind:
		if f, ok := asFloat64(v); ok {
			return protoreflect.ValueOfFloat32(float32(f)), nil
		}
	case protoreflect.DoubleKind:
		if f, ok := asFloat64(v); ok {
			return protoreflect.ValueOfFloat64(f), nil
		}
	case protoreflect.StringKind:
		switch s := v.(type) {
		case string:
			return protoreflect.ValueOfString(s), nil
		case json.Number:
			return protoreflect.ValueOfString(s.String()), nil
		}
	case protoreflect.BytesKind:
		switch b := v.(type) {
		case []byte:
			return protoreflect.ValueOfBytes(b), nil
		case string:
			decoded, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return protoreflect.Value{}, fmt.Errorf("bytes field %s: %w", fd.Name(), err)
			}
			return protoreflect.ValueOfBytes(decoded), nil
		}
	case protoreflect.EnumKind:
		if s, ok := v.(string); ok {
			ed := fd.Enum()
			if ev := ed.Values().ByName(protoreg.EnumValueName(string(ed.Name()), s)); ev != nil {
				return protoreflect.ValueOfEnum(ev.Number()), nil
			}
			return protoreflect.Value{}, fmt.Errorf("%q is not a value of %s", s, ed.FullName())
		}
	case protoreflect.MessageKind:
		if m, ok := v.(map[string]any); ok {
			msg := dynamicpb.NewMessage(fd.Message())
			if err := setMessageFields(msg, m); err != nil {
				return protoreflect.Value{}, err
			}
			return protoreflect.ValueOfMessage(msg), nil
		}
	}
	return protoreflect.Value{}, fmt.Errorf("cannot use %v (%T) as %s field %s", v, v, fd.Kind(), fd.Name())
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// decodeField converts a field value into plain values typed.FromRaw
// accepts. Messages become maps keyed by schema attribute name.
func (i *Invoker) decodeField(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	if fd.IsList() {
		lst := v.List()
		out := make([]any, 0, lst.Len())
		for j := 0; j < lst.Len(); j++ {
			out = append(out, i.handleValue(fd, lst.Get(j)))
		}
		return out
	}
	return i.handleValue(fd, v)
}

func (i *Invoker) handleValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return v.Bool()
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return v.Int()
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind, protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return v.Uint()
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return v.Float()
	case protoreflect.StringKind:
		return v.String()
	case protoreflect.BytesKind:
		return base64.StdEncoding.EncodeToString(v.Bytes())
	case protoreflect.EnumKind:
		ed := fd.Enum()
		ev := ed.Values().ByNumber(v.Enum())
		if ev == nil {
			return nil
		}
		if t, ok := i.schema.Type(string(ed.Name())); ok {
			if s, ok := protoreg.SchemaEnumValue(t.EnumValues, t.Name, ev.Name()); ok {
				return s
			}
			return nil
		}
		return string(ev.Name())
	case protoreflect.MessageKind:
		return i.decodeMessage(v.Message())
	default:
		return nil
	}
}

// decodeMessage maps msg back onto the attributes of the schema type it was
// built from. Unset fields with presence are left out.
func (i *Invoker) decodeMessage(msg protoreflect.Message) map[string]any {
	desc := msg.Descriptor()
	out := map[string]any{}
	t, ok := i.schema.Type(string(desc.Name()))
	if !ok {
		return out
	}
	for _, a := range t.Attributes {
		fd := desc.Fields().ByName(protoreg.FieldName(a.Name))
		if fd == nil {
			continue
		}
		if !fd.IsList() && fd.HasPresence() && !msg.Has(fd) {
			continue
		}
		out[a.Name] = i.decodeField(fd, msg.Get(fd))
	}
	return out
}

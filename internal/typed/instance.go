// Package typed holds the immutable values ("facts") the engine reasons about.
// Every Instance is paired with the schema type it is known to satisfy.
// Instances are never edited; ReplaceAt and Object.With rebuild the path from
// the root to the changed field and share every other subtree.
package typed

import (
	"encoding/json"
	"strings"

	"github.com/hanpama/typegraph/internal/schema"
)

// Source records where an instance came from.
type Source string

const (
	SourceProvided    Source = "provided"
	SourceConstructed Source = "constructed"
	SourceRepaired    Source = "repaired"
)

// FromOperation returns the source of a value produced by an operation.
func FromOperation(qualifiedName string) Source { return Source("operation:" + qualifiedName) }

// Operation returns the qualified operation name of an operation source.
func (s Source) Operation() (string, bool) {
	return strings.CutPrefix(string(s), "operation:")
}

// Instance is one typed value: *Scalar, *Object, *Collection or *Null.
type Instance interface {
	// Type is the schema type the value satisfies. For a Collection it is the
	// member type.
	Type() *schema.Type
	Source() Source
	json.Marshaler
	instance()
}

// Scalar is a scalar or enum value.
type Scalar struct {
	typ   *schema.Type
	value any
	src   Source
}

func NewScalar(t *schema.Type, value any, src Source) *Scalar {
	return &Scalar{typ: t, value: value, src: src}
}

func (s *Scalar) Type() *schema.Type { return s.typ }
func (s *Scalar) Source() Source     { return s.src }
func (s *Scalar) Value() any         { return s.value }

// Object is a composite value whose fields follow the type's attributes.
type Object struct {
	typ    *schema.Type
	fields map[string]Instance
	src    Source
}

// NewObject copies fields into a new Object. Fields not declared by t are
// dropped.
func NewObject(t *schema.Type, fields map[string]Instance, src Source) *Object {
	o := &Object{typ: t, fields: make(map[string]Instance, len(t.Attributes)), src: src}
	for _, a := range t.Attributes {
		if v, ok := fields[a.Name]; ok && v != nil {
			o.fields[a.Name] = v
		}
	}
	return o
}

func (o *Object) Type() *schema.Type { return o.typ }
func (o *Object) Source() Source     { return o.src }

// Field returns the value of the named attribute.
func (o *Object) Field(name string) (Instance, bool) {
	v, ok := o.fields[name]
	return v, ok
}

// Fields returns the present fields in attribute declaration order.
func (o *Object) Fields() []Field {
	out := make([]Field, 0, len(o.fields))
	for _, a := range o.typ.Attributes {
		if v, ok := o.fields[a.Name]; ok {
			out = append(out, Field{Name: a.Name, Value: v})
		}
	}
	return out
}

// With returns a copy of o with one field replaced. o is left untouched.
func (o *Object) With(name string, v Instance, src Source) *Object {
	fields := make(map[string]Instance, len(o.fields)+1)
	for k, fv := range o.fields {
		fields[k] = fv
	}
	fields[name] = v
	return &Object{typ: o.typ, fields: fields, src: src}
}

// Field is one named member of an Object.
type Field struct {
	Name  string
	Value Instance
}

// Collection is a list of members of one type.
type Collection struct {
	typ   *schema.Type
	items []Instance
	src   Source
}

func NewCollection(member *schema.Type, items []Instance, src Source) *Collection {
	return &Collection{typ: member, items: append([]Instance(nil), items...), src: src}
}

func (c *Collection) Type() *schema.Type { return c.typ }
func (c *Collection) Source() Source     { return c.src }
func (c *Collection) Len() int           { return len(c.items) }

// Items returns a copy of the members.
func (c *Collection) Items() []Instance { return append([]Instance(nil), c.items...) }

// Null is a typed absence of value.
type Null struct {
	typ *schema.Type
	src Source
}

func NewNull(t *schema.Type, src Source) *Null { return &Null{typ: t, src: src} }

func (n *Null) Type() *schema.Type { return n.typ }
func (n *Null) Source() Source     { return n.src }

func (*Scalar) instance()     {}
func (*Object) instance()     {}
func (*Collection) instance() {}
func (*Null) instance()       {}

func (s *Scalar) MarshalJSON() ([]byte, error)     { return json.Marshal(ToRaw(s)) }
func (o *Object) MarshalJSON() ([]byte, error)     { return json.Marshal(ToRaw(o)) }
func (c *Collection) MarshalJSON() ([]byte, error) { return json.Marshal(ToRaw(c)) }
func (n *Null) MarshalJSON() ([]byte, error)       { return []byte("null"), nil }

// ToRaw converts an instance into plain JSON-compatible Go values.
func ToRaw(inst Instance) any {
	switch v := inst.(type) {
	case *Scalar:
		return v.value
	case *Object:
		m := make(map[string]any, len(v.fields))
		for k, fv := range v.fields {
			m[k] = ToRaw(fv)
		}
		return m
	case *Collection:
		out := make([]any, len(v.items))
		for i, it := range v.items {
			out[i] = ToRaw(it)
		}
		return out
	default:
		return nil
	}
}

// Key is a stable identity for an instance: its type name plus its canonical
// JSON encoding.
func Key(inst Instance) string {
	if inst == nil {
		return "<nil>"
	}
	b, err := json.Marshal(normalize(ToRaw(inst)))
	if err != nil {
		return inst.Type().Name + ":<unencodable>"
	}
	prefix := inst.Type().Name
	if _, ok := inst.(*Collection); ok {
		prefix = "[" + prefix + "]"
	}
	return prefix + ":" + string(b)
}

// Describe renders an instance for trace lines.
func Describe(inst Instance) string {
	if inst == nil {
		return "-"
	}
	b, err := json.Marshal(inst)
	if err != nil {
		return inst.Type().Name
	}
	return inst.Type().Name + string(b)
}

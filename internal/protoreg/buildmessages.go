package protoreg

import (
	"fmt"
	"strings"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/hanpama/typegraph/internal/schema"
)

// message returns the message declared for object type t in f, declaring it
// and its fields on first use. The builder is registered before its fields
// are resolved so self references terminate.
func (b *builder) message(f *protoFile, t *schema.Type) (*protobuilder.MessageBuilder, error) {
	if mb, ok := f.messages[t.Name]; ok {
		return mb, nil
	}
	name := protoreflect.Name(t.Name)
	if err := f.claim(name, "type "+t.Name); err != nil {
		return nil, err
	}
	mb := protobuilder.NewMessage(name)
	mb.SetComments(comment(t.Description))
	f.messages[t.Name] = mb
	f.fb.AddMessage(mb)

	fields := make([]*protobuilder.FieldBuilder, 0, len(t.Attributes))
	for _, a := range t.Attributes {
		rt, err := b.resolveTypeRef(f, a.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, a.Name, err)
		}
		fb := rt.field(nameProtoField(a.Name))
		fb.SetComments(comment(a.Description))
		mb.AddField(fb)
		fields = append(fields, fb)
	}
	numberFields(fields)
	return mb, nil
}

// enum returns the enum declared for t in f. Values are prefixed with the
// enum name and a zero <ENUM>_UNSPECIFIED value is added as proto3 requires.
func (b *builder) enum(f *protoFile, t *schema.Type) (*protobuilder.EnumBuilder, error) {
	if eb, ok := f.enums[t.Name]; ok {
		return eb, nil
	}
	name := protoreflect.Name(t.Name)
	if err := f.claim(name, "enum "+t.Name); err != nil {
		return nil, err
	}
	eb := protobuilder.NewEnum(name)
	eb.SetComments(comment(t.Description))

	zero := protobuilder.NewEnumValue(nameProtoEnumValue(t.Name, "UNSPECIFIED"))
	zero.SetNumber(0)
	eb.AddValue(zero)

	values := make([]*protobuilder.EnumValueBuilder, 0, len(t.EnumValues))
	for _, v := range t.EnumValues {
		if strings.ToUpper(v) == "UNSPECIFIED" {
			continue
		}
		evb := protobuilder.NewEnumValue(nameProtoEnumValue(t.Name, v))
		eb.AddValue(evb)
		values = append(values, evb)
	}
	numberEnumValues(values)

	f.enums[t.Name] = eb
	f.fb.AddEnum(eb)
	return eb, nil
}

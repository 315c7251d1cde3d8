package protoreg

import (
	"fmt"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/hanpama/typegraph/internal/schema"
)

// AnnotationProto overrides the wire type of a custom scalar, for example
// `scalar Cents @proto(type: "int64")`. Custom scalars default to string.
const AnnotationProto = "proto"

type resolvedType struct {
	isRepeated bool
	isOptional bool
	fieldType  *protobuilder.FieldType
}

// field builds a field of the resolved type. Nullable scalars and enums are
// proto3 optional so an unset field reads back as null rather than a zero
// value; message fields carry presence already.
func (rt resolvedType) field(name protoreflect.Name) *protobuilder.FieldBuilder {
	fb := protobuilder.NewField(name, rt.fieldType)
	if rt.isOptional {
		fb.SetOptional()
		if rt.fieldType.Kind() != protoreflect.MessageKind {
			fb.SetProto3Optional(true)
		}
	}
	if rt.isRepeated {
		fb.SetRepeated()
	}
	return fb
}

func (b *builder) resolveTypeRef(f *protoFile, ref schema.TypeRef) (resolvedType, error) {
	ft, err := b.mapNamedType(f, ref.Name)
	if err != nil {
		return resolvedType{}, err
	}
	if ref.List {
		return resolvedType{isRepeated: true, fieldType: ft}, nil
	}
	return resolvedType{isOptional: !ref.NonNull, fieldType: ft}, nil
}

func (b *builder) mapNamedType(f *protoFile, name string) (*protobuilder.FieldType, error) {
	t, ok := b.schema.Type(name)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", name)
	}
	switch t.Kind {
	case schema.TypeKindEnum:
		eb, err := b.enum(f, t)
		if err != nil {
			return nil, err
		}
		return protobuilder.FieldTypeEnum(eb), nil
	case schema.TypeKindObject:
		mb, err := b.message(f, t)
		if err != nil {
			return nil, err
		}
		return protobuilder.FieldTypeMessage(mb), nil
	}
	kind, err := scalarKind(t)
	if err != nil {
		return nil, err
	}
	return protobuilder.FieldTypeScalar(kind), nil
}

var builtinScalarKinds = map[string]protoreflect.Kind{
	schema.ScalarString:  protoreflect.StringKind,
	schema.ScalarID:      protoreflect.StringKind,
	schema.ScalarInt:     protoreflect.Int64Kind,
	schema.ScalarFloat:   protoreflect.DoubleKind,
	schema.ScalarDecimal: protoreflect.DoubleKind,
	schema.ScalarBoolean: protoreflect.BoolKind,
}

func scalarKind(t *schema.Type) (protoreflect.Kind, error) {
	if k, ok := builtinScalarKinds[t.Name]; ok {
		return k, nil
	}
	a, ok := t.Metadata.Get(AnnotationProto)
	if !ok {
		return protoreflect.StringKind, nil
	}
	k, ok := scalars[a.String("type")]
	if !ok {
		return 0, fmt.Errorf("scalar %s: unsupported proto type %q", t.Name, a.String("type"))
	}
	return k, nil
}

var scalars = map[string]protoreflect.Kind{
	protoreflect.BoolKind.String():     protoreflect.BoolKind,
	protoreflect.Int32Kind.String():    protoreflect.Int32Kind,
	protoreflect.Sint32Kind.String():   protoreflect.Sint32Kind,
	protoreflect.Uint32Kind.String():   protoreflect.Uint32Kind,
	protoreflect.Int64Kind.String():    protoreflect.Int64Kind,
	protoreflect.Sint64Kind.String():   protoreflect.Sint64Kind,
	protoreflect.Uint64Kind.String():   protoreflect.Uint64Kind,
	protoreflect.Sfixed32Kind.String(): protoreflect.Sfixed32Kind,
	protoreflect.Fixed32Kind.String():  protoreflect.Fixed32Kind,
	protoreflect.FloatKind.String():    protoreflect.FloatKind,
	protoreflect.Sfixed64Kind.String(): protoreflect.Sfixed64Kind,
	protoreflect.Fixed64Kind.String():  protoreflect.Fixed64Kind,
	protoreflect.DoubleKind.String():   protoreflect.DoubleKind,
	protoreflect.StringKind.String():   protoreflect.StringKind,
	protoreflect.BytesKind.String():    protoreflect.BytesKind,
}

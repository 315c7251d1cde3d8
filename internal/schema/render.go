package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Render produces SDL from the Schema. Types and services keep declaration
// order; builtin scalars are omitted.
func Render(s *Schema) string {
	if s == nil {
		return ""
	}
	var b strings.Builder

	for _, typ := range s.Types() {
		if IsBuiltinScalar(typ.Name) {
			continue
		}
		switch typ.Kind {
		case TypeKindScalar:
			renderDescription(&b, "", typ.Description)
			b.WriteString("scalar " + typ.Name)
			renderMetadata(&b, typ.Metadata)
			b.WriteString("\n\n")
		case TypeKindEnum:
			renderEnum(&b, typ)
		case TypeKindObject:
			renderObject(&b, typ)
		}
	}
	for _, svc := range s.Services() {
		renderService(&b, svc)
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// ----- render helpers -----

func renderDescription(b *strings.Builder, indent, desc string) {
	if desc == "" {
		return
	}
	escaped := strings.ReplaceAll(desc, "\"", "\\\"")
	b.WriteString(indent + "\"\"\"\n")
	b.WriteString(indent + escaped)
	b.WriteString("\n" + indent + "\"\"\"\n")
}

func renderEnum(b *strings.Builder, typ *Type) {
	renderDescription(b, "", typ.Description)
	b.WriteString("enum " + typ.Name)
	renderMetadata(b, typ.Metadata)
	b.WriteString(" {\n")
	for _, v := range typ.EnumValues {
		b.WriteString("  " + v + "\n")
	}
	b.WriteString("}\n\n")
}

func renderObject(b *strings.Builder, typ *Type) {
	renderDescription(b, "", typ.Description)
	b.WriteString("type " + typ.Name)
	if typ.Parameter {
		b.WriteString(" @" + directiveParameterType)
	}
	renderMetadata(b, typ.Metadata)
	b.WriteString(" {\n")
	for _, a := range typ.Attributes {
		renderDescription(b, "  ", a.Description)
		b.WriteString("  " + a.Name + ": " + a.Type.String() + "\n")
	}
	b.WriteString("}\n\n")
}

func renderService(b *strings.Builder, svc *Service) {
	renderDescription(b, "", svc.Description)
	b.WriteString("type " + svc.Name + " @" + directiveService)
	renderMetadata(b, svc.Metadata)
	b.WriteString(" {\n")
	for _, op := range svc.Operations {
		renderOperation(b, op)
	}
	b.WriteString("}\n\n")
}

func renderOperation(b *strings.Builder, op *Operation) {
	renderDescription(b, "  ", op.Description)
	b.WriteString("  " + op.Name)
	if len(op.Parameters) > 0 {
		b.WriteString("(")
		for i, p := range op.Parameters {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.Name + ": " + p.Type.String())
			for _, c := range p.Constraints {
				b.WriteString(" " + renderConstraint(directiveConstraint, c))
			}
			renderMetadata(b, p.Metadata)
		}
		b.WriteString(")")
	}
	b.WriteString(": " + op.Returns.String())
	if op.Contract != nil {
		for _, c := range op.Contract.Constraints {
			if _, ok := c.(ReturnValueDerivedFromParameter); ok {
				b.WriteString(" " + renderConstraint(directiveDerivedFrom, c))
				continue
			}
			b.WriteString(" " + renderConstraint(directiveReturns, c))
		}
	}
	renderMetadata(b, op.Metadata)
	b.WriteString("\n")
}

func renderConstraint(directive string, c Constraint) string {
	var args []string
	switch c := c.(type) {
	case AttributeConstantValue:
		args = append(args, "attribute: "+strconv.Quote(c.Field), "value: "+renderValue(c.Value))
	case PropertyToParameter:
		if !c.Property.IsSelf() {
			args = append(args, "property: "+strconv.Quote(c.Property.String()))
		}
		switch e := c.Expected.(type) {
		case Constant:
			args = append(args, "equals: "+renderValue(e.Value))
		case RelativeParameter:
			args = append(args, "equalsParam: "+strconv.Quote(joinPath(e.Param, e.Path)))
		}
	case ReturnValueDerivedFromParameter:
		args = append(args, "param: "+strconv.Quote(c.Param))
		if len(c.Path) > 0 {
			args = append(args, "path: "+strconv.Quote(strings.Join(c.Path, ".")))
		}
	}
	return "@" + directive + "(" + strings.Join(args, ", ") + ")"
}

func renderMetadata(b *strings.Builder, md Metadata) {
	for _, a := range md {
		b.WriteString(" @" + a.Name)
		if len(a.Args) == 0 {
			continue
		}
		keys := make([]string, 0, len(a.Args))
		for k := range a.Args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + renderValue(a.Args[k])
		}
		b.WriteString("(" + strings.Join(parts, ", ") + ")")
	}
}

// renderValue renders a literal value as it appears in directive arguments.
func renderValue(value any) string {
	if value == nil {
		return "null"
	}

	switch v := value.(type) {
	case string:
		return strconv.Quote(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = renderValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + renderValue(v[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprint(v)
	}
}

package schema

import (
	"context"
	"fmt"
	"strings"

	language "github.com/hanpama/typegraph/internal/language"
)

// Directives with structural meaning. Every other directive is kept as an
// opaque Annotation on the element it decorates.
const (
	directiveService       = "service"
	directiveParameterType = "parameterType"
	directiveConstraint    = "constraint"
	directiveReturns       = "returns"
	directiveDerivedFrom   = "derivedFrom"
)

// Build reads every source from disc and builds a validated Schema.
func Build(ctx context.Context, disc Discovery) (*Schema, error) {
	metas, err := disc.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	srcs := make([]*language.Source, 0, len(metas))
	for _, m := range metas {
		content, err := disc.ReadSource(ctx, m.Name)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, &language.Source{Name: m.Name, Input: content})
	}
	doc, err := language.ParseSchemas(srcs...)
	if err != nil {
		return nil, err
	}
	return buildDocument(doc)
}

// BuildFromSDL builds a Schema from a single SDL document.
func BuildFromSDL(sdl string) (*Schema, error) {
	doc, err := language.ParseSchema("schema.graphql", sdl)
	if err != nil {
		return nil, err
	}
	return buildDocument(doc)
}

// MustBuildFromSDL is BuildFromSDL for fixtures; it panics on error.
func MustBuildFromSDL(sdl string) *Schema {
	s, err := BuildFromSDL(sdl)
	if err != nil {
		panic(err)
	}
	return s
}

type builder struct {
	types      []*Type
	typeIndex  map[string]*Type
	typeDefs   map[string]*language.Definition
	services   []*Service
	violations ValidationError
}

func buildDocument(doc *language.SchemaDocument) (*Schema, error) {
	b := &builder{
		typeIndex: make(map[string]*Type),
		typeDefs:  make(map[string]*language.Definition),
	}
	for _, t := range builtinTypes() {
		b.types = append(b.types, t)
		b.typeIndex[t.Name] = t
	}

	// Pass 1: declare every named type and service so forward references resolve.
	var serviceDefs []*language.Definition
	for _, def := range doc.Definitions {
		if def.Kind == language.Object && def.Directives.ForName(directiveService) != nil {
			serviceDefs = append(serviceDefs, def)
			continue
		}
		b.declareType(def)
	}

	// Pass 2: attributes.
	for _, t := range b.types {
		if def := b.typeDefs[t.Name]; def != nil && t.Kind == TypeKindObject {
			b.buildAttributes(t, def)
		}
	}

	// Pass 3: services and operations.
	seen := map[string]bool{}
	for _, def := range serviceDefs {
		svc := b.buildService(def)
		if seen[svc.Name] || b.typeIndex[svc.Name] != nil {
			b.violations = append(b.violations, violationDuplicateType(svc.Name, def.Position))
			continue
		}
		seen[svc.Name] = true
		b.services = append(b.services, svc)
	}

	if len(b.violations) > 0 {
		return nil, b.violations
	}
	return New(b.types, b.services), nil
}

func (b *builder) declareType(def *language.Definition) {
	if _, dup := b.typeIndex[def.Name]; dup {
		b.violations = append(b.violations, violationDuplicateType(def.Name, def.Position))
		return
	}
	t := &Type{Name: def.Name, Description: def.Description}
	switch def.Kind {
	case language.Scalar:
		t.Kind = TypeKindScalar
	case language.Enum:
		t.Kind = TypeKindEnum
		for _, v := range def.EnumValues {
			t.EnumValues = append(t.EnumValues, v.Name)
		}
	case language.Object:
		t.Kind = TypeKindObject
		t.Parameter = def.Directives.ForName(directiveParameterType) != nil
	case language.InputObject:
		t.Kind = TypeKindObject
		t.Parameter = true
	default:
		b.violations = append(b.violations, violationUnsupportedKind(def.Kind, def.Name, def.Position))
		return
	}
	t.Metadata = b.annotations(def.Directives, directiveParameterType)
	b.types = append(b.types, t)
	b.typeIndex[t.Name] = t
	b.typeDefs[t.Name] = def
}

func (b *builder) buildAttributes(t *Type, def *language.Definition) {
	seen := map[string]bool{}
	for _, f := range def.Fields {
		if seen[f.Name] {
			b.violations = append(b.violations, violationDuplicateField("attribute", f.Name, t.Name, f.Position))
			continue
		}
		seen[f.Name] = true
		ref, ok := b.typeRef(f.Type, t.Name+"."+f.Name)
		if !ok {
			continue
		}
		t.Attributes = append(t.Attributes, &Attribute{Name: f.Name, Description: f.Description, Type: ref})
	}
}

func (b *builder) buildService(def *language.Definition) *Service {
	name := def.Name
	if d := def.Directives.ForName(directiveService); d != nil {
		if n, ok := b.directiveArgs(d)["name"].(string); ok && n != "" {
			name = n
		}
	}
	svc := &Service{
		Name:        name,
		Description: def.Description,
		Metadata:    b.annotations(def.Directives, directiveService),
	}
	seen := map[string]bool{}
	for _, f := range def.Fields {
		if seen[f.Name] {
			b.violations = append(b.violations, violationDuplicateField("operation", f.Name, name, f.Position))
			continue
		}
		seen[f.Name] = true
		if op := b.buildOperation(name, f); op != nil {
			svc.Operations = append(svc.Operations, op)
		}
	}
	return svc
}

func (b *builder) buildOperation(service string, f *language.FieldDefinition) *Operation {
	qualified := service + "." + f.Name
	ret, ok := b.typeRef(f.Type, qualified)
	if !ok {
		return nil
	}
	op := &Operation{
		Name:        f.Name,
		Service:     service,
		Description: f.Description,
		Returns:     ret,
		Metadata:    b.annotations(f.Directives, directiveReturns, directiveDerivedFrom),
	}
	for _, arg := range f.Arguments {
		if p, _ := op.Parameter(arg.Name); p != nil {
			b.violations = append(b.violations, violationDuplicateField("parameter", arg.Name, qualified, arg.Position))
			continue
		}
		ref, ok := b.typeRef(arg.Type, qualified+"("+arg.Name+")")
		if !ok {
			continue
		}
		p := &Parameter{
			Name:     arg.Name,
			Type:     ref,
			Metadata: b.annotations(arg.Directives, directiveConstraint),
		}
		for _, d := range directivesNamed(arg.Directives, directiveConstraint) {
			if c := b.buildConstraint(d); c != nil {
				p.Constraints = append(p.Constraints, c)
			}
		}
		op.Parameters = append(op.Parameters, p)
	}

	var contract []Constraint
	for _, d := range directivesNamed(f.Directives, directiveReturns) {
		if c := b.buildConstraint(d); c != nil {
			contract = append(contract, c)
		}
	}
	for _, d := range directivesNamed(f.Directives, directiveDerivedFrom) {
		args := b.directiveArgs(d)
		param, _ := args["param"].(string)
		if param == "" {
			b.violations = append(b.violations, violationBadDirective(directiveDerivedFrom, "missing 'param'", d.Position))
			continue
		}
		c := ReturnValueDerivedFromParameter{Param: param}
		if path, _ := args["path"].(string); path != "" {
			c.Path = strings.Split(path, ".")
		}
		contract = append(contract, c)
	}
	if len(contract) > 0 {
		op.Contract = &Contract{Returns: ret, Constraints: contract}
	}
	b.validateOperation(op, f)
	return op
}

func (b *builder) buildConstraint(d *language.Directive) Constraint {
	args := b.directiveArgs(d)
	if field, ok := args["attribute"].(string); ok {
		v, has := args["value"]
		if !has {
			b.violations = append(b.violations, violationBadDirective(d.Name, "'attribute' requires 'value'", d.Position))
			return nil
		}
		return AttributeConstantValue{Field: field, Value: v}
	}
	prop, _ := args["property"].(string)
	c := PropertyToParameter{Property: ParsePropertyIdentifier(prop), Operator: OperatorEqual}
	if v, ok := args["equals"]; ok {
		c.Expected = Constant{Value: v}
		return c
	}
	if rel, ok := args["equalsParam"].(string); ok && rel != "" {
		parts := strings.Split(rel, ".")
		c.Expected = RelativeParameter{Param: parts[0], Path: parts[1:]}
		return c
	}
	b.violations = append(b.violations, violationBadDirective(d.Name, "expected 'equals', 'equalsParam' or 'attribute'", d.Position))
	return nil
}

func (b *builder) validateOperation(op *Operation, f *language.FieldDefinition) {
	for _, p := range op.Parameters {
		for _, c := range p.Constraints {
			b.validateConstraint(op, p.Type, c, f.Position)
		}
	}
	if op.Contract != nil {
		for _, c := range op.Contract.Constraints {
			b.validateConstraint(op, op.Returns, c, f.Position)
		}
	}
}

func (b *builder) validateConstraint(op *Operation, subject TypeRef, c Constraint, pos *language.Position) {
	switch c := c.(type) {
	case AttributeConstantValue:
		b.validatePath(subject.Name, []string{c.Field}, pos)
	case PropertyToParameter:
		if c.Property.ByType == "" {
			b.validatePath(subject.Name, c.Property.Path, pos)
		}
		if rel, ok := c.Expected.(RelativeParameter); ok {
			p, _ := op.Parameter(rel.Param)
			if p == nil {
				b.violations = append(b.violations, violationUnknownParameter(rel.Param, op.QualifiedName(), pos))
				return
			}
			b.validatePath(p.Type.Name, rel.Path, pos)
		}
	case ReturnValueDerivedFromParameter:
		p, _ := op.Parameter(c.Param)
		if p == nil {
			b.violations = append(b.violations, violationUnknownParameter(c.Param, op.QualifiedName(), pos))
			return
		}
		b.validatePath(p.Type.Name, c.Path, pos)
	}
}

func (b *builder) validatePath(typeName string, path []string, pos *language.Position) {
	cur := b.typeIndex[typeName]
	for _, seg := range path {
		if cur == nil {
			return
		}
		attr := cur.Attribute(seg)
		if attr == nil {
			b.violations = append(b.violations, violationUnknownProperty(seg, cur.Name, pos))
			return
		}
		cur = b.typeIndex[attr.Type.Name]
	}
}

func (b *builder) typeRef(t *language.Type, where string) (TypeRef, bool) {
	ref := TypeRef{NonNull: t.NonNull}
	if t.Elem != nil {
		if t.Elem.Elem != nil {
			b.violations = append(b.violations, violationNestedList(where, t.Position))
			return TypeRef{}, false
		}
		ref.List = true
		ref.Name = t.Elem.NamedType
	} else {
		ref.Name = t.NamedType
	}
	if _, ok := b.typeIndex[ref.Name]; !ok {
		b.violations = append(b.violations, violationUnknownType(ref.Name, where, t.Position))
		return TypeRef{}, false
	}
	return ref, true
}

func (b *builder) annotations(dirs language.DirectiveList, skip ...string) Metadata {
	var md Metadata
outer:
	for _, d := range dirs {
		for _, s := range skip {
			if d.Name == s {
				continue outer
			}
		}
		md = append(md, Annotation{Name: d.Name, Args: b.directiveArgs(d)})
	}
	return md
}

func (b *builder) directiveArgs(d *language.Directive) map[string]any {
	args := make(map[string]any, len(d.Arguments))
	for _, a := range d.Arguments {
		v, err := language.LiteralValue(a.Value)
		if err != nil {
			b.violations = append(b.violations, violationBadDirective(d.Name, fmt.Sprintf("argument %s: %v", a.Name, err), a.Position))
			continue
		}
		args[a.Name] = v
	}
	return args
}

func directivesNamed(dirs language.DirectiveList, name string) []*language.Directive {
	var out []*language.Directive
	for _, d := range dirs {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

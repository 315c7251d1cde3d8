package schema

import "fmt"

// Schema is the immutable catalog of types and services consumed by the
// engine. It is built once and shared read-only by all concurrent queries.
type Schema struct {
	types    map[string]*Type
	services map[string]*Service

	typeOrder    []string
	serviceOrder []string
}

// New assembles a Schema from already-built types and services. Declaration
// order is preserved and drives every "first match wins" rule of the engine.
func New(types []*Type, services []*Service) *Schema {
	s := &Schema{
		types:    make(map[string]*Type, len(types)),
		services: make(map[string]*Service, len(services)),
	}
	for _, t := range types {
		if _, dup := s.types[t.Name]; dup {
			panic(fmt.Sprintf("schema: duplicate type %s", t.Name))
		}
		s.types[t.Name] = t
		s.typeOrder = append(s.typeOrder, t.Name)
	}
	for _, svc := range services {
		if _, dup := s.services[svc.Name]; dup {
			panic(fmt.Sprintf("schema: duplicate service %s", svc.Name))
		}
		for _, op := range svc.Operations {
			op.Service = svc.Name
		}
		s.services[svc.Name] = svc
		s.serviceOrder = append(s.serviceOrder, svc.Name)
	}
	return s
}

// Type returns the named type.
func (s *Schema) Type(name string) (*Type, bool) {
	t, ok := s.types[name]
	return t, ok
}

// MustType returns the named type and panics when it is missing. Built schemas
// are validated, so a miss here is a programming error.
func (s *Schema) MustType(name string) *Type {
	t, ok := s.types[name]
	if !ok {
		panic(fmt.Sprintf("schema: unknown type %q", name))
	}
	return t
}

// Types returns all types in declaration order.
func (s *Schema) Types() []*Type {
	out := make([]*Type, len(s.typeOrder))
	for i, n := range s.typeOrder {
		out[i] = s.types[n]
	}
	return out
}

// Service returns the named service.
func (s *Schema) Service(name string) (*Service, bool) {
	svc, ok := s.services[name]
	return svc, ok
}

// Services returns all services in declaration order.
func (s *Schema) Services() []*Service {
	out := make([]*Service, len(s.serviceOrder))
	for i, n := range s.serviceOrder {
		out[i] = s.services[n]
	}
	return out
}

// Operation looks up an operation by service and operation name.
func (s *Schema) Operation(service, operation string) (*Service, *Operation, bool) {
	svc, ok := s.services[service]
	if !ok {
		return nil, nil, false
	}
	op := svc.Operation(operation)
	if op == nil {
		return nil, nil, false
	}
	return svc, op, true
}

// IsScalar reports whether the referenced type is a scalar or enum.
func (s *Schema) IsScalar(ref TypeRef) bool {
	t, ok := s.types[ref.Name]
	return ok && t.IsScalar()
}

// Type is a named schema type.
type Type struct {
	Name        string
	Kind        TypeKind
	Description string
	Attributes  []*Attribute
	EnumValues  []string
	// Parameter marks types the engine may construct field by field.
	Parameter bool
	Metadata  Metadata
}

type TypeKind string

const (
	TypeKindScalar TypeKind = "SCALAR"
	TypeKindObject TypeKind = "OBJECT"
	TypeKindEnum   TypeKind = "ENUM"
)

// IsScalar reports whether values of t carry no attributes.
func (t *Type) IsScalar() bool {
	return t.Kind == TypeKindScalar || t.Kind == TypeKindEnum
}

// Attribute returns the attribute with the given name or nil.
func (t *Type) Attribute(name string) *Attribute {
	for _, a := range t.Attributes {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Attribute is a named, typed member of an object type.
type Attribute struct {
	Name        string
	Description string
	Type        TypeRef
}

// TypeRef references a named type, optionally as a collection.
type TypeRef struct {
	Name    string
	List    bool
	NonNull bool
}

// Named returns a nullable reference to a single value of the named type.
func Named(name string) TypeRef { return TypeRef{Name: name} }

// NonNullNamed returns a non-null reference to a single value.
func NonNullNamed(name string) TypeRef { return TypeRef{Name: name, NonNull: true} }

// ListOf returns a reference to a collection of the named type.
func ListOf(name string) TypeRef { return TypeRef{Name: name, List: true} }

func (r TypeRef) String() string {
	s := r.Name
	if r.List {
		s = "[" + s + "]"
	}
	if r.NonNull {
		s += "!"
	}
	return s
}

// Member returns the reference with the collection flag cleared.
func (r TypeRef) Member() TypeRef { return TypeRef{Name: r.Name} }

// Service owns an ordered list of operations.
type Service struct {
	Name        string
	Description string
	Operations  []*Operation
	Metadata    Metadata
}

// Operation returns the named operation or nil.
func (s *Service) Operation(name string) *Operation {
	for _, op := range s.Operations {
		if op.Name == name {
			return op
		}
	}
	return nil
}

// Operation is a callable that turns parameters into a value of its return type.
type Operation struct {
	Name        string
	Service     string
	Description string
	Parameters  []*Parameter
	Returns     TypeRef
	Metadata    Metadata
	Contract    *Contract
}

// QualifiedName returns "Service.operation".
func (o *Operation) QualifiedName() string { return o.Service + "." + o.Name }

// Parameter returns the named parameter and its position, or (nil, -1).
func (o *Operation) Parameter(name string) (*Parameter, int) {
	for i, p := range o.Parameters {
		if p.Name == name {
			return p, i
		}
	}
	return nil, -1
}

// Parameter is one declared input of an operation.
type Parameter struct {
	Name        string
	Type        TypeRef
	Metadata    Metadata
	Constraints []Constraint
}

// Contract lists the constraints an operation guarantees on its return value.
type Contract struct {
	Returns     TypeRef
	Constraints []Constraint
}

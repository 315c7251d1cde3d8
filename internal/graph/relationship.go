package graph

import "strconv"

// Relationship is the closed set of edge kinds.
type Relationship uint8

const (
	RequiresParameter Relationship = iota
	Provides
	IsAttributeOf
	HasAttribute
	IsTypeOf
	IsParameterOn
	TypePresentAsAttributeType
	IsInstanceOf

	numRelationships
)

var relationshipNames = [numRelationships]string{
	RequiresParameter:          "RequiresParameter",
	Provides:                   "Provides",
	IsAttributeOf:              "IsAttributeOf",
	HasAttribute:               "HasAttribute",
	IsTypeOf:                   "IsTypeOf",
	IsParameterOn:              "IsParameterOn",
	TypePresentAsAttributeType: "TypePresentAsAttributeType",
	IsInstanceOf:               "IsInstanceOf",
}

// shapes lists the element kinds each relationship connects.
var shapes = [numRelationships][2]ElementKind{
	RequiresParameter:          {KindType, KindParameter},
	Provides:                   {KindOperation, KindInstance},
	IsAttributeOf:              {KindAttribute, KindType},
	HasAttribute:               {KindType, KindAttribute},
	IsTypeOf:                   {KindAttribute, KindType},
	IsParameterOn:              {KindParameter, KindOperation},
	TypePresentAsAttributeType: {KindType, KindAttribute},
	IsInstanceOf:               {KindInstance, KindType},
}

// Relationships returns every relationship in declaration order.
func Relationships() []Relationship {
	out := make([]Relationship, numRelationships)
	for i := range out {
		out[i] = Relationship(i)
	}
	return out
}

// Valid reports whether r is one of the declared relationships.
func (r Relationship) Valid() bool { return r < numRelationships }

func (r Relationship) String() string {
	if !r.Valid() {
		return "Relationship(" + strconv.Itoa(int(r)) + ")"
	}
	return relationshipNames[r]
}

// Shape returns the source and target kinds of r.
func (r Relationship) Shape() (from, to ElementKind) {
	s := shapes[r]
	return s[0], s[1]
}

// Edge is a directed, typed connection between two elements.
type Edge struct {
	From Element
	Rel  Relationship
	To   Element
}

// Fits reports whether the edge endpoints match the relationship's shape.
func (e Edge) Fits() bool {
	if !e.Rel.Valid() {
		return false
	}
	from, to := e.Rel.Shape()
	return e.From.Kind == from && e.To.Kind == to
}

func (e Edge) String() string {
	return e.From.String() + " -[" + e.Rel.String() + "]-> " + e.To.String()
}

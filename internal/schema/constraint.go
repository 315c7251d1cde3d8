package schema

import (
	"fmt"
	"strings"
)

// Constraint is the closed set of declared requirements on a parameter or a
// return value. The concrete variants are AttributeConstantValue,
// PropertyToParameter and ReturnValueDerivedFromParameter.
type Constraint interface {
	constraint()
	String() string
}

// AttributeConstantValue requires Field of the value to equal Value.
type AttributeConstantValue struct {
	Field string
	Value any
}

// PropertyToParameter compares the property of a value with an expected value.
// The expected value is either a constant or a path into another parameter.
type PropertyToParameter struct {
	Property PropertyIdentifier
	Operator Operator
	Expected ValueExpr
}

// ReturnValueDerivedFromParameter declares that the return value is taken
// from Path of the parameter named Param.
type ReturnValueDerivedFromParameter struct {
	Param string
	Path  []string
}

func (AttributeConstantValue) constraint()          {}
func (PropertyToParameter) constraint()             {}
func (ReturnValueDerivedFromParameter) constraint() {}

func (c AttributeConstantValue) String() string {
	return fmt.Sprintf("%s = %v", c.Field, c.Value)
}

func (c PropertyToParameter) String() string {
	return fmt.Sprintf("%s %s %s", c.Property, c.Operator, c.Expected)
}

func (c ReturnValueDerivedFromParameter) String() string {
	return "derived from " + joinPath(c.Param, c.Path)
}

type Operator string

const OperatorEqual Operator = "="

// PropertyIdentifier names a property either by field path or by type.
type PropertyIdentifier struct {
	Path []string
	// ByType, when set, matches the single attribute whose type has this name.
	ByType string
}

// ParsePropertyIdentifier parses "a.b.c" or "type:TypeName".
func ParsePropertyIdentifier(s string) PropertyIdentifier {
	if rest, ok := strings.CutPrefix(s, "type:"); ok {
		return PropertyIdentifier{ByType: rest}
	}
	if s == "" {
		return PropertyIdentifier{}
	}
	return PropertyIdentifier{Path: strings.Split(s, ".")}
}

// IsSelf reports whether the identifier refers to the value itself.
func (p PropertyIdentifier) IsSelf() bool { return len(p.Path) == 0 && p.ByType == "" }

// Equal compares two identifiers.
func (p PropertyIdentifier) Equal(o PropertyIdentifier) bool {
	if p.ByType != o.ByType || len(p.Path) != len(o.Path) {
		return false
	}
	for i := range p.Path {
		if p.Path[i] != o.Path[i] {
			return false
		}
	}
	return true
}

func (p PropertyIdentifier) String() string {
	if p.ByType != "" {
		return "type:" + p.ByType
	}
	if len(p.Path) == 0 {
		return "this"
	}
	return strings.Join(p.Path, ".")
}

// ValueExpr is the expected side of a PropertyToParameter constraint.
type ValueExpr interface {
	valueExpr()
	String() string
}

// Constant is a literal expected value.
type Constant struct{ Value any }

// RelativeParameter points at Path inside the parameter named Param.
type RelativeParameter struct {
	Param string
	Path  []string
}

func (Constant) valueExpr()          {}
func (RelativeParameter) valueExpr() {}

func (c Constant) String() string          { return fmt.Sprintf("%q", fmt.Sprint(c.Value)) }
func (r RelativeParameter) String() string { return "param " + joinPath(r.Param, r.Path) }

func joinPath(head string, rest []string) string {
	if len(rest) == 0 {
		return head
	}
	return head + "." + strings.Join(rest, ".")
}

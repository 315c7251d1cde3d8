package graph

import (
	"fmt"
	"strconv"
)

// ElementKind discriminates the vertices of the semantic graph.
type ElementKind uint8

const (
	KindType ElementKind = iota + 1
	KindAttribute
	KindOperation
	KindParameter
	KindInstance
)

func (k ElementKind) String() string {
	switch k {
	case KindType:
		return "Type"
	case KindAttribute:
		return "Attribute"
	case KindOperation:
		return "Operation"
	case KindParameter:
		return "Parameter"
	case KindInstance:
		return "Instance"
	default:
		return "ElementKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Element is one vertex. It is comparable, and two elements are equal only
// when kind and identity both match:
//
//	Type       Name=type
//	Attribute  Name=owner type, Member=attribute
//	Operation  Name=service, Member=operation
//	Parameter  Name=service, Member=operation, Index=position
//	Instance   Name=type, Index=-1 for an operation output, n>=0 for fact n
type Element struct {
	Kind   ElementKind
	Name   string
	Member string
	Index  int
}

func TypeElement(name string) Element { return Element{Kind: KindType, Name: name} }

func AttributeElement(owner, attr string) Element {
	return Element{Kind: KindAttribute, Name: owner, Member: attr}
}

func OperationElement(service, op string) Element {
	return Element{Kind: KindOperation, Name: service, Member: op}
}

func ParameterElement(service, op string, index int) Element {
	return Element{Kind: KindParameter, Name: service, Member: op, Index: index}
}

// InstanceElement is the output vertex of operations returning typeName.
func InstanceElement(typeName string) Element {
	return Element{Kind: KindInstance, Name: typeName, Index: -1}
}

// FactElement is the vertex of the n-th fact of a query.
func FactElement(typeName string, n int) Element {
	return Element{Kind: KindInstance, Name: typeName, Index: n}
}

// IsFact reports whether e stands for a query fact.
func (e Element) IsFact() bool { return e.Kind == KindInstance && e.Index >= 0 }

func (e Element) String() string {
	switch e.Kind {
	case KindType:
		return e.Name
	case KindAttribute, KindOperation:
		return e.Name + "." + e.Member
	case KindParameter:
		return fmt.Sprintf("%s.%s#%d", e.Name, e.Member, e.Index)
	case KindInstance:
		if e.IsFact() {
			return fmt.Sprintf("fact(%s#%d)", e.Name, e.Index)
		}
		return "instance(" + e.Name + ")"
	default:
		return "?" + e.Name
	}
}

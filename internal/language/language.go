package language

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// ParseSchema parses one named schema source.
func ParseSchema(name, source string) (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ParseSchemas parses several sources into a single document. Positions keep
// the name of the source each definition came from.
func ParseSchemas(sources ...*Source) (*SchemaDocument, error) {
	doc, err := parser.ParseSchemas(sources...)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LiteralValue converts a constant AST value into plain Go values: int64,
// float64, string, bool, []any, map[string]any or nil.
func LiteralValue(v *Value) (any, error) {
	if v == nil {
		return nil, nil
	}
	return v.Value(nil)
}

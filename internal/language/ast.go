package language

import "github.com/vektah/gqlparser/v2/ast"

// Schema-side AST nodes used by the schema loader.
type (
	Source             = ast.Source
	SchemaDocument     = ast.SchemaDocument
	Definition         = ast.Definition
	DefinitionList     = ast.DefinitionList
	FieldDefinition    = ast.FieldDefinition
	ArgumentDefinition = ast.ArgumentDefinition
	Directive          = ast.Directive
	DirectiveList      = ast.DirectiveList
	Argument           = ast.Argument
	Value              = ast.Value
	Type               = ast.Type
	Position           = ast.Position
)

type DefinitionKind = ast.DefinitionKind

const (
	Object      DefinitionKind = ast.Object
	Interface   DefinitionKind = ast.Interface
	Union       DefinitionKind = ast.Union
	Scalar      DefinitionKind = ast.Scalar
	Enum        DefinitionKind = ast.Enum
	InputObject DefinitionKind = ast.InputObject
)

package schema

// Builtin scalar names.
const (
	ScalarString  = "String"
	ScalarInt     = "Int"
	ScalarFloat   = "Float"
	ScalarBoolean = "Boolean"
	ScalarID      = "ID"
	ScalarDecimal = "Decimal"
)

var builtinScalars = []string{ScalarString, ScalarInt, ScalarFloat, ScalarBoolean, ScalarID, ScalarDecimal}

// IsBuiltinScalar reports whether name is one of the predeclared scalars.
func IsBuiltinScalar(name string) bool {
	for _, s := range builtinScalars {
		if s == name {
			return true
		}
	}
	return false
}

func builtinTypes() []*Type {
	out := make([]*Type, len(builtinScalars))
	for i, name := range builtinScalars {
		out[i] = &Type{Name: name, Kind: TypeKindScalar}
	}
	return out
}

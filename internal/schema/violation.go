package schema

import (
	"fmt"

	language "github.com/hanpama/typegraph/internal/language"
)

// Violation is one problem found while building a schema.
type Violation struct {
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationError collects every violation found in one build.
type ValidationError []*Violation

func (e ValidationError) Error() string {
	msg := "violations found:\n"
	for _, v := range e {
		line := "- " + v.Message
		if v.File != "" {
			line += fmt.Sprintf(" %s:%d:%d", v.File, v.Line, v.Column)
		}
		msg += line + "\n"
	}
	return msg
}

func violationAt(pos *language.Position, format string, args ...any) *Violation {
	v := &Violation{Message: fmt.Sprintf(format, args...)}
	if pos != nil {
		if pos.Src != nil {
			v.File = pos.Src.Name
		}
		v.Line = pos.Line
		v.Column = pos.Column
	}
	return v
}

func violationDuplicateType(name string, pos *language.Position) *Violation {
	return violationAt(pos, "Duplicate type %q", name)
}

func violationDuplicateField(kind, field, owner string, pos *language.Position) *Violation {
	return violationAt(pos, "Duplicate %s %q in %q", kind, field, owner)
}

func violationUnknownType(name, where string, pos *language.Position) *Violation {
	return violationAt(pos, "Unknown type %q referenced by %s", name, where)
}

func violationUnsupportedKind(kind language.DefinitionKind, name string, pos *language.Position) *Violation {
	return violationAt(pos, "Unsupported %s definition %q", kind, name)
}

func violationNestedList(where string, pos *language.Position) *Violation {
	return violationAt(pos, "Nested list types are not supported (%s)", where)
}

func violationBadDirective(directive, reason string, pos *language.Position) *Violation {
	return violationAt(pos, "Invalid @%s directive: %s", directive, reason)
}

func violationUnknownParameter(param, op string, pos *language.Position) *Violation {
	return violationAt(pos, "Unknown parameter %q referenced on operation %s", param, op)
}

func violationUnknownProperty(prop, typeName string, pos *language.Position) *Violation {
	return violationAt(pos, "Unknown property %q on type %q", prop, typeName)
}

package protoreg

import (
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// DataField is the schema-side name of the single field of every response
// message.
const DataField = "data"

func nameProtoField(schemaName string) protoreflect.Name {
	return protoreflect.Name(snakeCase(schemaName))
}

// FieldName returns the proto field name of a schema attribute or parameter.
func FieldName(schemaName string) protoreflect.Name {
	return nameProtoField(schemaName)
}

func nameProtoEnumValue(enumName, value string) protoreflect.Name {
	return protoreflect.Name(enumValuePrefix(enumName) + strings.ToUpper(value))
}

func enumValuePrefix(enumName string) string {
	return strings.ToUpper(snakeCase(enumName)) + "_"
}

// EnumValueName returns the proto name of a schema enum value.
func EnumValueName(enumName, value string) protoreflect.Name {
	return nameProtoEnumValue(enumName, value)
}

// SchemaEnumValue maps a proto enum value back to the schema value of the
// enum. Values are matched case-insensitively since proto names are upper
// case.
func SchemaEnumValue(enumValues []string, enumName string, v protoreflect.Name) (string, bool) {
	raw := strings.TrimPrefix(string(v), enumValuePrefix(enumName))
	for _, ev := range enumValues {
		if strings.EqualFold(ev, raw) {
			return ev, true
		}
	}
	return "", false
}

func nameService(serviceName string) protoreflect.Name {
	return protoreflect.Name(capitalize(serviceName))
}

func nameMethod(method string) protoreflect.Name {
	return protoreflect.Name(capitalize(method))
}

func nameRequest(method string) protoreflect.Name {
	return protoreflect.Name(capitalize(method) + "Request")
}

func nameResponse(method string) protoreflect.Name {
	return protoreflect.Name(capitalize(method) + "Response")
}

func filePath(pkg string) string {
	segs := strings.Split(pkg, ".")
	return strings.Join(segs, "/") + "/" + segs[len(segs)-1] + ".proto"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// snakeCase converts a string from CamelCase or PascalCase to snake_case.
// Runs of capitals stay together: "accountID" becomes "account_id".
func snakeCase(s string) string {
	var sb strings.Builder
	rs := []rune(s)
	for i, r := range rs {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := rs[i-1] >= 'a' && rs[i-1] <= 'z' || rs[i-1] >= '0' && rs[i-1] <= '9'
			nextLower := i+1 < len(rs) && rs[i+1] >= 'a' && rs[i+1] <= 'z'
			prevUpper := rs[i-1] >= 'A' && rs[i-1] <= 'Z'
			if prevLower || (prevUpper && nextLower) {
				sb.WriteByte('_')
			}
		}
		sb.WriteRune(r)
	}
	return strings.ToLower(sb.String())
}

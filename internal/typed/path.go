package typed

import (
	"fmt"
	"strconv"

	"github.com/hanpama/typegraph/internal/schema"
)

// Walk visits inst and every nested value depth first. The root is visited
// with an empty path; collection members are visited with their index as the
// path segment. Returning false from fn skips the children of that value.
func Walk(inst Instance, fn func(path []string, v Instance) bool) {
	walk(nil, inst, fn)
}

func walk(path []string, inst Instance, fn func([]string, Instance) bool) {
	if inst == nil || !fn(path, inst) {
		return
	}
	switch v := inst.(type) {
	case *Object:
		for _, f := range v.Fields() {
			walk(append(path[:len(path):len(path)], f.Name), f.Value, fn)
		}
	case *Collection:
		for i, it := range v.items {
			walk(append(path[:len(path):len(path)], strconv.Itoa(i)), it, fn)
		}
	}
}

// FindAll returns every value of the named type found at any depth of roots,
// including the roots themselves. Nulls and collections are skipped.
func FindAll(typeName string, roots ...Instance) []Instance {
	var out []Instance
	for _, r := range roots {
		Walk(r, func(_ []string, v Instance) bool {
			if _, isList := v.(*Collection); !isList && v.Type().Name == typeName && HasValue(v) {
				out = append(out, v)
			}
			return true
		})
	}
	return out
}

// Distinct drops values Equal to an earlier one, keeping first occurrences.
func Distinct(values []Instance) []Instance {
	var out []Instance
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		k := Key(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// Get follows path through nested objects.
func Get(inst Instance, path []string) (Instance, bool) {
	cur := inst
	for _, seg := range path {
		obj, ok := cur.(*Object)
		if !ok {
			return nil, false
		}
		cur, ok = obj.Field(seg)
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// ReplaceAt returns a copy of root with the value at path replaced by v. Only
// the objects on the path are rebuilt; every other subtree is shared.
func ReplaceAt(root Instance, path []string, v Instance) (Instance, error) {
	if len(path) == 0 {
		return v, nil
	}
	obj, ok := root.(*Object)
	if !ok {
		return nil, fmt.Errorf("cannot replace %q inside non-object %s", path[0], root.Type().Name)
	}
	if obj.typ.Attribute(path[0]) == nil {
		return nil, fmt.Errorf("type %s has no attribute %q", obj.typ.Name, path[0])
	}
	child, ok := obj.Field(path[0])
	if !ok && len(path) > 1 {
		return nil, fmt.Errorf("%s.%s is not set", obj.typ.Name, path[0])
	}
	replaced, err := ReplaceAt(child, path[1:], v)
	if err != nil {
		return nil, err
	}
	return obj.With(path[0], replaced, SourceRepaired), nil
}

// ResolveProperty turns a property identifier into a field path on t. A
// type-based identifier must match exactly one attribute.
func ResolveProperty(t *schema.Type, prop schema.PropertyIdentifier) ([]string, error) {
	if prop.ByType == "" {
		return prop.Path, nil
	}
	var candidates []string
	for _, a := range t.Attributes {
		if a.Type.Name == prop.ByType {
			candidates = append(candidates, a.Name)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("type %s has no attribute of type %s", t.Name, prop.ByType)
	case 1:
		return candidates, nil
	default:
		return nil, &AmbiguousFieldError{Type: t.Name, Candidates: candidates}
	}
}

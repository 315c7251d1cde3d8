package protoreg

import (
	"hash/fnv"
	"slices"
	"strings"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Field and enum value numbers are derived from names, not declaration
// order: adding or reordering attributes in the schema keeps the wire numbers
// of the existing ones unless a new name collides with them.
//
// A name hashes (FNV-1a) into [1, maxHashedTag]. Numbers protobuf reserves
// for itself are skipped and a taken number probes upward, wrapping to 1.
// Names are placed in sorted order so every collision resolves the same way.
// Enum numbers never come out as 0, which stays with <ENUM>_UNSPECIFIED.
const maxHashedTag = 31767

const reservedTags = int(protowire.LastReservedNumber - protowire.FirstReservedNumber + 1)

func numberFields(fields []*protobuilder.FieldBuilder) {
	tags := hashedTags(namesOf(fields, (*protobuilder.FieldBuilder).Name))
	for i, f := range fields {
		f.SetNumber(protoreflect.FieldNumber(tags[i]))
	}
}

func numberEnumValues(values []*protobuilder.EnumValueBuilder) {
	tags := hashedTags(namesOf(values, (*protobuilder.EnumValueBuilder).Name))
	for i, v := range values {
		v.SetNumber(protoreflect.EnumNumber(tags[i]))
	}
}

func namesOf[T any](items []T, name func(T) protoreflect.Name) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = string(name(it))
	}
	return out
}

// hashedTags returns one distinct number per name, index for index.
func hashedTags(names []string) []int32 {
	if len(names) > maxHashedTag-reservedTags {
		panic("protoreg: too many names to number")
	}
	order := make([]int, len(names))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return strings.Compare(names[a], names[b]) })

	tags := make([]int32, len(names))
	used := make(map[int32]bool, len(names))
	for _, i := range order {
		tag := hashTag(names[i])
		for used[tag] || reservedTag(tag) {
			tag = tag%maxHashedTag + 1
		}
		used[tag] = true
		tags[i] = tag
	}
	return tags
}

func hashTag(name string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int32(h.Sum32()%maxHashedTag) + 1
}

func reservedTag(tag int32) bool {
	n := protowire.Number(tag)
	return n >= protowire.FirstReservedNumber && n <= protowire.LastReservedNumber
}

package typeinfo

import (
	"reflect"
	"strings"
)

// Field represents a single top-level field from a struct type.
type Field struct {
	Type reflect.Type

	// Name is the name of the struct field.
	Name string

	// Index of this field in the structure.
	Index int

	// Offset of the field from the start of the struct.
	Offset uintptr

	// Tag is the column name from the field's "db" tag, if any.
	Tag string

	// OmitEmpty is true when "omitempty" is
	// a property of the field's "db" tag. A zero value of the field is bound
	// as NULL.
	OmitEmpty bool

	// Ignored is true for fields tagged `db:"-"`. They are never matched
	// against result columns.
	Ignored bool

	Exported bool
}

// Label is the name used to match the field against a result column: the tag
// when the field is tagged, otherwise the field name.
func (f Field) Label() string {
	if f.Tag != "" {
		return f.Tag
	}
	return f.Name
}

// Info represents reflected information about a struct type.
type Info struct {
	Type reflect.Type

	// Fields in declaration order.
	Fields []Field

	byName  map[string]int
	byLabel map[string]int
	tagged  bool
}

// FieldByName returns the field with the given Go name.
func (info *Info) FieldByName(name string) (Field, bool) {
	i, ok := info.byName[name]
	if !ok {
		return Field{}, false
	}
	return info.Fields[i], true
}

// FieldAt returns the top-level field that starts at offset and has type typ.
// Both must match since the first field of a struct shares its offset with
// the struct itself.
func (info *Info) FieldAt(offset uintptr, typ reflect.Type) (Field, bool) {
	for _, f := range info.Fields {
		if f.Offset == offset && f.Type == typ {
			return f, true
		}
	}
	return Field{}, false
}

// FieldByLabel returns the exported field matching a result column label,
// ignoring case.
func (info *Info) FieldByLabel(label string) (Field, bool) {
	i, ok := info.byLabel[strings.ToLower(label)]
	if !ok {
		return Field{}, false
	}
	return info.Fields[i], true
}

// Tagged reports whether at least one field carries a "db" tag.
func (info *Info) Tagged() bool {
	return info.tagged
}

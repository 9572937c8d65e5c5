// Package schema describes the per-class field schema consulted by the
// query and write pipelines: field types, pointer targets, required fields,
// defaults and unique indexes.
package schema

import (
	"sort"
	"strings"

	"github.com/roach88/restcore/internal/ir"
)

// FieldType names the type of a class field.
type FieldType string

const (
	TypeString   FieldType = "String"
	TypeNumber   FieldType = "Number"
	TypeBoolean  FieldType = "Boolean"
	TypeDate     FieldType = "Date"
	TypeObject   FieldType = "Object"
	TypeArray    FieldType = "Array"
	TypePointer  FieldType = "Pointer"
	TypeRelation FieldType = "Relation"
	TypeFile     FieldType = "File"
	TypeGeoPoint FieldType = "GeoPoint"
	TypeACL      FieldType = "ACL"
)

// Field describes one field of a class.
type Field struct {
	Type         FieldType `json:"type"`
	TargetClass  string    `json:"targetClass,omitempty"`
	Required     bool      `json:"required,omitempty"`
	DefaultValue any       `json:"defaultValue,omitempty"`
}

// Class is the schema of one class.
type Class struct {
	Name   string           `json:"className"`
	Fields map[string]Field `json:"fields"`
	// Unique lists fields backed by a unique index.
	Unique []string `json:"unique,omitempty"`
}

// defaultFields are present on every class.
var defaultFields = map[string]Field{
	ir.FieldObjectID:  {Type: TypeString},
	ir.FieldCreatedAt: {Type: TypeDate},
	ir.FieldUpdatedAt: {Type: TypeDate},
	ir.FieldACL:       {Type: TypeACL},
}

// NewClass returns a class carrying the default fields plus fields.
func NewClass(name string, fields map[string]Field, unique ...string) *Class {
	c := &Class{Name: name, Fields: make(map[string]Field, len(defaultFields)+len(fields))}
	for k, f := range defaultFields {
		c.Fields[k] = f
	}
	for k, f := range fields {
		c.Fields[k] = f
	}
	c.Unique = append(c.Unique, unique...)
	return c
}

// Clone returns a copy that can be mutated independently.
func (c *Class) Clone() *Class {
	out := &Class{Name: c.Name, Fields: make(map[string]Field, len(c.Fields))}
	for k, f := range c.Fields {
		f.DefaultValue = ir.Clone(f.DefaultValue)
		out.Fields[k] = f
	}
	out.Unique = append(out.Unique, c.Unique...)
	return out
}

// Field returns the field named name.
func (c *Class) Field(name string) (Field, bool) {
	f, ok := c.Fields[name]
	return f, ok
}

// FieldNames returns all field names in sorted order.
func (c *Class) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for k := range c.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ReferenceFields returns, sorted, the fields that may hold Pointers: Pointer
// fields and Array fields.
func (c *Class) ReferenceFields() []string {
	var out []string
	for _, name := range c.FieldNames() {
		switch c.Fields[name].Type {
		case TypePointer, TypeArray:
			out = append(out, name)
		}
	}
	return out
}

// IsUnique reports whether field has a unique index.
func (c *Class) IsUnique(field string) bool {
	for _, u := range c.Unique {
		if u == field {
			return true
		}
	}
	return false
}

// IsSystemClass reports whether name is a built-in class.
func IsSystemClass(name string) bool {
	_, ok := systemClasses[name]
	return ok
}

// IsValidClassName reports whether name is usable as a class name. System
// classes start with an underscore; client classes must start with a letter.
func IsValidClassName(name string) bool {
	if IsSystemClass(name) {
		return true
	}
	return isIdentifier(name)
}

// IsValidFieldName reports whether name is usable as a top-level field.
func IsValidFieldName(name string) bool {
	return isIdentifier(name)
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r == '_' || (r >= '0' && r <= '9'):
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// IsInternalField reports whether name is an internal, underscore-prefixed
// field never exposed to or validated against client schemas.
func IsInternalField(name string) bool {
	return strings.HasPrefix(name, "_")
}

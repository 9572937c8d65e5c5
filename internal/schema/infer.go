package schema

import (
	"github.com/roach88/restcore/internal/ir"
)

// InferField derives the field type of a value being written. ok is false
// for values that carry no type information (null, Delete).
func InferField(value any) (Field, bool) {
	switch v := value.(type) {
	case nil:
		return Field{}, false
	case string:
		return Field{Type: TypeString}, true
	case bool:
		return Field{Type: TypeBoolean}, true
	case []any:
		return Field{Type: TypeArray}, true
	case map[string]any:
		switch ir.OpName(v) {
		case ir.OpDelete:
			return Field{}, false
		case ir.OpIncrement:
			return Field{Type: TypeNumber}, true
		case ir.OpAdd, ir.OpAddUnique, ir.OpRemove:
			return Field{Type: TypeArray}, true
		}
		switch ir.TypeTag(v) {
		case "Pointer":
			p, _ := ir.AsPointer(v)
			return Field{Type: TypePointer, TargetClass: p.ClassName}, true
		case "Date":
			return Field{Type: TypeDate}, true
		case "File":
			return Field{Type: TypeFile}, true
		case "GeoPoint":
			return Field{Type: TypeGeoPoint}, true
		}
		return Field{Type: TypeObject}, true
	default:
		if _, ok := ir.ToFloat(v); ok {
			return Field{Type: TypeNumber}, true
		}
		return Field{}, false
	}
}

// describe renders a field type the way mismatch messages print it.
func describe(f Field) string {
	if f.Type == TypePointer && f.TargetClass != "" {
		return "*" + f.TargetClass
	}
	return string(f.Type)
}

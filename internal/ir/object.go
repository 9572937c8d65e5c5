package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Object is a decoded JSON object: a row, a patch or a constraint tree.
type Object = map[string]any

// Reserved field names present on every stored row.
const (
	FieldObjectID  = "objectId"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldACL       = "ACL"
)

// System class names.
const (
	ClassUser         = "_User"
	ClassSession      = "_Session"
	ClassInstallation = "_Installation"
	ClassRole         = "_Role"
)

// TimeLayout is the ISO-8601 layout used for createdAt/updatedAt and Date values.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Pointer is a weak reference to a row in another class.
type Pointer struct {
	ClassName string
	ObjectID  string
}

// Value returns the wire encoding of p.
func (p Pointer) Value() Object {
	return Object{"__type": "Pointer", "className": p.ClassName, "objectId": p.ObjectID}
}

// NewPointer builds the wire encoding of a Pointer.
func NewPointer(className, objectID string) Object {
	return Pointer{ClassName: className, ObjectID: objectID}.Value()
}

// AsPointer reports whether v is a Pointer and decodes it.
func AsPointer(v any) (Pointer, bool) {
	m, ok := v.(map[string]any)
	if !ok || m["__type"] != "Pointer" {
		return Pointer{}, false
	}
	className, _ := m["className"].(string)
	objectID, _ := m["objectId"].(string)
	return Pointer{ClassName: className, ObjectID: objectID}, true
}

// NewDate builds the wire encoding of a Date.
func NewDate(t time.Time) Object {
	return Object{"__type": "Date", "iso": FormatTime(t)}
}

// AsDate returns the ISO string of a Date value.
func AsDate(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok || m["__type"] != "Date" {
		return "", false
	}
	iso, ok := m["iso"].(string)
	return iso, ok
}

// TypeTag returns the "__type" tag of v, if any.
func TypeTag(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	tag, _ := m["__type"].(string)
	return tag
}

// ObjectID returns the objectId field of obj.
func ObjectID(obj Object) string {
	id, _ := obj[FieldObjectID].(string)
	return id
}

// Clone deep-copies a JSON value. Maps and slices are duplicated; scalars are shared.
func Clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = Clone(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	default:
		return v
	}
}

// CloneObject deep-copies obj. A nil object stays nil.
func CloneObject(obj Object) Object {
	if obj == nil {
		return nil
	}
	return Clone(obj).(map[string]any)
}

// Equal compares two JSON values structurally. Numbers compare by value
// regardless of their Go representation.
func Equal(a, b any) bool {
	if fa, ok := ToFloat(a); ok {
		fb, ok := ToFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, elem := range av {
			other, ok := bv[k]
			if !ok || !Equal(elem, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

// ToFloat converts any Go numeric representation to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Normalize converts a Go value built by hand (ints, typed slices, nested
// Objects) into the shape produced by encoding/json: float64 numbers,
// []any and map[string]any.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return val, nil
	case int, int32, int64, float32, json.Number:
		f, _ := ToFloat(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite number %v", val)
		}
		return f, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(val))
		for i, m := range val {
			n, err := Normalize(m)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out, nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("unsupported value %T: %w", v, err)
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

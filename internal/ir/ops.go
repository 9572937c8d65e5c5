package ir

import "fmt"

// Update operation names carried in "__op".
const (
	OpDelete    = "Delete"
	OpIncrement = "Increment"
	OpAdd       = "Add"
	OpAddUnique = "AddUnique"
	OpRemove    = "Remove"
)

// OpName returns the "__op" of v, or "" when v is a plain value.
func OpName(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	op, _ := m["__op"].(string)
	return op
}

// ApplyOp computes the new field value for a patch entry. The returned bool is
// false when the field must be removed.
func ApplyOp(current any, patch any) (any, bool, error) {
	op := OpName(patch)
	if op == "" {
		return patch, true, nil
	}
	m := patch.(map[string]any)
	switch op {
	case OpDelete:
		return nil, false, nil
	case OpIncrement:
		amount, ok := ToFloat(m["amount"])
		if !ok {
			return nil, false, fmt.Errorf("Increment amount must be a number")
		}
		base := 0.0
		if current != nil {
			if f, ok := ToFloat(current); ok {
				base = f
			} else {
				return nil, false, fmt.Errorf("cannot increment a non-number")
			}
		}
		return base + amount, true, nil
	case OpAdd, OpAddUnique, OpRemove:
		objects, ok := m["objects"].([]any)
		if !ok {
			return nil, false, fmt.Errorf("%s objects must be an array", op)
		}
		var arr []any
		if current != nil {
			existing, ok := current.([]any)
			if !ok {
				return nil, false, fmt.Errorf("cannot apply %s to a non-array", op)
			}
			arr = append(arr, existing...)
		}
		switch op {
		case OpAdd:
			arr = append(arr, objects...)
		case OpAddUnique:
			for _, o := range objects {
				if !containsValue(arr, o) {
					arr = append(arr, o)
				}
			}
		case OpRemove:
			kept := arr[:0]
			for _, elem := range arr {
				if !containsValue(objects, elem) {
					kept = append(kept, elem)
				}
			}
			arr = kept
		}
		if arr == nil {
			arr = []any{}
		}
		return arr, true, nil
	default:
		return nil, false, fmt.Errorf("unknown operation %q", op)
	}
}

// ApplyPatch applies every patch entry to obj in place. Dotted keys address
// nested objects.
func ApplyPatch(obj Object, patch Object) error {
	for key, value := range patch {
		current, _ := Lookup(obj, key)
		next, keep, err := ApplyOp(current, value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if keep {
			SetPath(obj, key, Clone(next))
		} else {
			DeletePath(obj, key)
		}
	}
	return nil
}

func containsValue(arr []any, v any) bool {
	for _, elem := range arr {
		if Equal(elem, v) {
			return true
		}
	}
	return false
}

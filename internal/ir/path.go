package ir

import "strings"

// SplitPath splits a dotted field path.
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}

// Lookup walks a dotted path through nested objects.
func Lookup(obj any, path string) (any, bool) {
	cur := obj
	for _, part := range SplitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath assigns value at a dotted path, creating intermediate objects and
// replacing non-object intermediates.
func SetPath(obj Object, path string, value any) {
	parts := SplitPath(path)
	cur := obj
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = Object{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// DeletePath removes the value at a dotted path if present.
func DeletePath(obj Object, path string) {
	parts := SplitPath(path)
	cur := obj
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

// RootField returns the first component of a dotted path.
func RootField(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

package query

import (
	"context"
	"sort"
	"strings"

	"github.com/roach88/restcore/internal/ir"
)

// mergeIncludes adds paths not already present, keeping shortest-first order.
func mergeIncludes(existing [][]string, extra ...[]string) [][]string {
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[strings.Join(p, ".")] = true
	}
	out := append([][]string(nil), existing...)
	for _, p := range extra {
		if k := strings.Join(p, "."); !seen[k] {
			seen[k] = true
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) < len(out[j]) })
	return out
}

func (q *Query) handleInclude(ctx context.Context) error {
	for _, path := range q.include {
		if err := q.includePath(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

// includePath inflates every Pointer found at path. Pointers are batched
// into one query per class; pointers whose target is not visible are
// dropped from the response.
func (q *Query) includePath(ctx context.Context, path []string) error {
	var pointers []ir.Pointer
	for _, row := range q.response.Results {
		pointers = findPointers(row, path, pointers)
	}
	if len(pointers) == 0 {
		return nil
	}

	idsByClass := make(map[string][]string)
	seen := make(map[string]bool)
	for _, p := range pointers {
		if p.ClassName == "" || seen[pointerKey(p)] {
			continue
		}
		seen[pointerKey(p)] = true
		idsByClass[p.ClassName] = append(idsByClass[p.ClassName], p.ObjectID)
	}
	classNames := make([]string, 0, len(idsByClass))
	for c := range idsByClass {
		classNames = append(classNames, c)
	}
	sort.Strings(classNames)

	opts := q.includeOptions(path)
	replace := make(map[string]ir.Object)
	for _, className := range classNames {
		ids := idsByClass[className]
		var where ir.Object
		if len(ids) == 1 {
			where = ir.Object{ir.FieldObjectID: ids[0]}
		} else {
			in := make([]any, len(ids))
			for i, id := range ids {
				in[i] = id
			}
			where = ir.Object{ir.FieldObjectID: ir.Object{"$in": in}}
		}

		sub, err := newQuery(q.rt, q.auth, className, where, opts, q.depth)
		if err != nil {
			return err
		}
		res, err := sub.Execute(ctx)
		if err != nil {
			return err
		}
		for _, obj := range res.Results {
			obj["__type"] = "Object"
			obj["className"] = className
			if className == ir.ClassUser && !q.auth.IsMaster {
				delete(obj, "sessionToken")
				delete(obj, "authData")
			}
			replace[pointerKey(ir.Pointer{ClassName: className, ObjectID: ir.ObjectID(obj)})] = obj
		}
	}

	for i, row := range q.response.Results {
		replaced, _ := replacePointers(row, path, replace)
		q.response.Results[i] = replaced.(map[string]any)
	}
	return nil
}

// includeOptions derives the options of the nested query for path: keys
// and excludeKeys below path, and the include read preference.
func (q *Query) includeOptions(path []string) Options {
	var opts Options
	opts.Keys = strings.Join(keysBelow(q.keys, path), ",")
	opts.ExcludeKeys = strings.Join(keysBelow(q.excludeKeys, path), ",")
	if q.opts.IncludeReadPreference != "" {
		opts.ReadPreference = q.opts.IncludeReadPreference
		opts.IncludeReadPreference = q.opts.IncludeReadPreference
	} else {
		opts.ReadPreference = q.opts.ReadPreference
	}
	return opts
}

// keysBelow returns the component right after path of every key that
// extends path.
func keysBelow(keys []string, path []string) []string {
	var out []string
	for _, key := range keys {
		parts := ir.SplitPath(key)
		if len(parts) <= len(path) {
			continue
		}
		match := true
		for i := range path {
			if parts[i] != path[i] {
				match = false
				break
			}
		}
		if match {
			out = append(out, parts[len(path)])
		}
	}
	return dedupe(out)
}

func pointerKey(p ir.Pointer) string {
	return p.ClassName + "$" + p.ObjectID
}

func findPointers(v any, path []string, out []ir.Pointer) []ir.Pointer {
	switch val := v.(type) {
	case []any:
		for _, elem := range val {
			out = findPointers(elem, path, out)
		}
	case map[string]any:
		if len(path) == 0 {
			if p, ok := ir.AsPointer(val); ok {
				out = append(out, p)
			}
			return out
		}
		if sub, ok := val[path[0]]; ok && sub != nil {
			return findPointers(sub, path[1:], out)
		}
	}
	return out
}

// replacePointers returns v with the pointers at path swapped for their
// inflated objects. The bool is false when v itself is a pointer with no
// replacement.
func replacePointers(v any, path []string, replace map[string]ir.Object) (any, bool) {
	switch val := v.(type) {
	case []any:
		out := make([]any, 0, len(val))
		for _, elem := range val {
			if r, keep := replacePointers(elem, path, replace); keep {
				out = append(out, r)
			}
		}
		return out, true
	case map[string]any:
		if len(path) == 0 {
			p, ok := ir.AsPointer(val)
			if !ok {
				return val, true
			}
			obj, found := replace[pointerKey(p)]
			if !found {
				return nil, false
			}
			return ir.CloneObject(obj), true
		}
		sub, ok := val[path[0]]
		if !ok || sub == nil {
			return val, true
		}
		next, keep := replacePointers(sub, path[1:], replace)
		out := make(map[string]any, len(val))
		for k, elem := range val {
			if k != path[0] {
				out[k] = elem
			}
		}
		if keep {
			out[path[0]] = next
		}
		return out, true
	}
	return v, true
}

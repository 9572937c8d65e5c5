package store

import (
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/storage"
)

// matcher evaluates constraint trees against decoded rows.
type matcher struct {
	caseInsensitive bool
	regexps         map[string]*regexp.Regexp
}

func newMatcher(caseInsensitive bool) *matcher {
	return &matcher{caseInsensitive: caseInsensitive, regexps: make(map[string]*regexp.Regexp)}
}

// matches reports whether row satisfies every constraint in where.
func (m *matcher) matches(row ir.Object, where ir.Object) (bool, error) {
	for _, key := range ir.SortedKeys(where) {
		constraint := where[key]
		var ok bool
		var err error
		switch key {
		case "$or", "$and", "$nor":
			ok, err = m.matchLogical(row, key, constraint)
		default:
			if strings.HasPrefix(key, "$") {
				return false, apierr.New(apierr.InvalidQuery, "bad top level operator %s", key)
			}
			value, present := ir.Lookup(row, key)
			ok, err = m.matchField(value, present, constraint)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (m *matcher) matchLogical(row ir.Object, op string, constraint any) (bool, error) {
	clauses, ok := constraint.([]any)
	if !ok {
		return false, apierr.New(apierr.InvalidQuery, "%s must be an array", op)
	}
	for _, c := range clauses {
		sub, ok := c.(map[string]any)
		if !ok {
			return false, apierr.New(apierr.InvalidQuery, "%s clauses must be objects", op)
		}
		hit, err := m.matches(row, sub)
		if err != nil {
			return false, err
		}
		switch {
		case op == "$or" && hit:
			return true, nil
		case op == "$and" && !hit:
			return false, nil
		case op == "$nor" && hit:
			return false, nil
		}
	}
	return op != "$or", nil
}

// isOperatorObject reports whether constraint is a map of $operators.
func isOperatorObject(constraint any) (map[string]any, bool) {
	obj, ok := constraint.(map[string]any)
	if !ok || len(obj) == 0 || ir.TypeTag(obj) != "" {
		return nil, false
	}
	for k := range obj {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return obj, true
}

func (m *matcher) matchField(value any, present bool, constraint any) (bool, error) {
	ops, ok := isOperatorObject(constraint)
	if !ok {
		return m.equalsOrContains(value, present, constraint), nil
	}
	for _, op := range ir.SortedKeys(ops) {
		hit, err := m.matchOperator(value, present, op, ops[op], ops)
		if err != nil || !hit {
			return false, err
		}
	}
	return true, nil
}

func (m *matcher) matchOperator(value any, present bool, op string, arg any, all map[string]any) (bool, error) {
	switch op {
	case "$eq":
		return m.equalsOrContains(value, present, arg), nil
	case "$ne":
		return !m.equalsOrContains(value, present, arg), nil
	case "$lt", "$lte", "$gt", "$gte":
		if !present {
			return false, nil
		}
		return m.compareAny(value, arg, op), nil
	case "$in", "$nin":
		set, ok := arg.([]any)
		if !ok {
			return false, apierr.New(apierr.InvalidQuery, "bad %s value", op)
		}
		hit := false
		for _, candidate := range set {
			if m.equalsOrContains(value, present, candidate) {
				hit = true
				break
			}
		}
		if op == "$in" {
			return hit, nil
		}
		return !hit, nil
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return false, apierr.New(apierr.InvalidJSON, "bad $exists value")
		}
		return want == (present && value != nil), nil
	case "$all":
		set, ok := arg.([]any)
		if !ok {
			return false, apierr.New(apierr.InvalidJSON, "bad $all value")
		}
		arr, _ := value.([]any)
		for _, want := range set {
			found := false
			for _, elem := range arr {
				if m.equal(elem, want) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		}
		return true, nil
	case "$regex":
		pattern, ok := arg.(string)
		if !ok {
			return false, apierr.New(apierr.InvalidQuery, "bad $regex value")
		}
		options, _ := all["$options"].(string)
		re, err := m.compile(pattern, options)
		if err != nil {
			return false, err
		}
		s, ok := value.(string)
		return ok && re.MatchString(s), nil
	case "$options":
		return true, nil
	case "$inQuery", "$notInQuery", "$select", "$dontSelect":
		return false, apierr.New(apierr.InvalidQuery, "unresolved %s constraint", op)
	default:
		return false, apierr.New(apierr.InvalidQuery, "bad constraint: %s", op)
	}
}

func (m *matcher) compile(pattern, options string) (*regexp.Regexp, error) {
	flags := ""
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			flags += string(o)
		case 'x':
		default:
			return nil, apierr.New(apierr.InvalidQuery, "bad $options value %q", options)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	if re, ok := m.regexps[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidQuery, err, "bad $regex: %v", err)
	}
	m.regexps[pattern] = re
	return re, nil
}

// equalsOrContains implements equality with array containment: a scalar
// target matches an array field holding it.
func (m *matcher) equalsOrContains(value any, present bool, target any) bool {
	if target == nil {
		return !present || value == nil
	}
	if m.equal(value, target) {
		return true
	}
	if arr, ok := value.([]any); ok {
		if _, targetIsArray := target.([]any); !targetIsArray {
			for _, elem := range arr {
				if m.equal(elem, target) {
					return true
				}
			}
		}
	}
	return false
}

// equal compares two values with Pointer and Date normalization.
func (m *matcher) equal(a, b any) bool {
	a, b = scalarOf(a), scalarOf(b)
	if m.caseInsensitive {
		if sa, ok := a.(string); ok {
			if sb, ok := b.(string); ok {
				return strings.EqualFold(sa, sb)
			}
		}
	}
	return ir.Equal(a, b)
}

// scalarOf reduces Pointers and Dates to scalars.
func scalarOf(v any) any {
	if p, ok := ir.AsPointer(v); ok {
		return p.ClassName + "$" + p.ObjectID
	}
	if iso, ok := ir.AsDate(v); ok {
		return iso
	}
	return v
}

func (m *matcher) compareAny(value, arg any, op string) bool {
	c, ok := compareValues(value, arg)
	if !ok {
		return false
	}
	switch op {
	case "$lt":
		return c < 0
	case "$lte":
		return c <= 0
	case "$gt":
		return c > 0
	default:
		return c >= 0
	}
}

// compareValues orders two numbers, strings or dates.
func compareValues(a, b any) (int, bool) {
	a, b = scalarOf(a), scalarOf(b)
	if fa, ok := ir.ToFloat(a); ok {
		fb, ok := ir.ToFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

// sortRows orders rows by keys. Missing values sort first.
func sortRows(rows []ir.Object, keys []storage.SortKey) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			vi, oki := ir.Lookup(rows[i], k.Field)
			vj, okj := ir.Lookup(rows[j], k.Field)
			var c int
			switch {
			case !oki && !okj:
				c = 0
			case !oki:
				c = -1
			case !okj:
				c = 1
			default:
				c, _ = compareValues(vi, vj)
			}
			if c == 0 {
				continue
			}
			if k.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

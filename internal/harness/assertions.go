package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/storage"
	"github.com/roach88/restcore/internal/store"
)

// AnyValue in an expected object matches any present value.
const AnyValue = "<any>"

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			if event.Error != "" {
				fmt.Fprintf(&buf, "  [%d] %s -> %s\n", event.Seq, event.Action, event.Error)
			} else {
				fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, event.Action)
			}
		}
	}
	return buf.String()
}

// assertTraceContains checks that a successful step with the action and a
// matching response was traced.
func assertTraceContains(trace []TraceEvent, assertion Assertion, want map[string]any) error {
	for _, event := range trace {
		if event.Action != assertion.Action || event.Error != "" {
			continue
		}
		if want == nil || subsetMismatch("", event.Response, want) == "" {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with response %v", assertion.Action, assertion.Response),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		for _, expected := range assertion.Actions {
			if event.Action == expected && positions[expected] == 0 {
				positions[expected] = i + 1
			}
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Action == assertion.Action {
			count++
		}
	}
	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState reads the stored rows of a class, bypassing ACLs, and
// checks their number and contents.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion, where, want map[string]any) error {
	if where == nil {
		where = map[string]any{}
	}
	res, err := st.Find(ctx, assertion.Class, where, storage.FindOptions{})
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query %s", assertion.Class),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	if assertion.Count != nil && len(res.Results) != *assertion.Count {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d rows in %s where %v", *assertion.Count, assertion.Class, assertion.Where),
			Actual:   fmt.Sprintf("%d rows", len(res.Results)),
		}
	}
	if len(want) == 0 {
		return nil
	}
	if len(res.Results) == 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %v", assertion.Class, assertion.Where),
			Actual:   "row not found",
		}
	}
	for _, row := range res.Results {
		if msg := subsetMismatch("", row, want); msg != "" {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("rows of %s matching %v", assertion.Class, assertion.Expect),
				Actual:   fmt.Sprintf("row %s: %s", ir.ObjectID(row), msg),
			}
		}
	}
	return nil
}

// subsetMismatch reports the first difference between actual and the
// expected value, or "". Objects match on the expected keys only; arrays
// match element-wise; numbers match regardless of representation.
func subsetMismatch(path string, actual, expected any) string {
	if expected == AnyValue {
		if actual == nil {
			return fmt.Sprintf("%s: expected a value, got none", displayPath(path))
		}
		return ""
	}
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return fmt.Sprintf("%s: expected an object, got %v (%T)", displayPath(path), actual, actual)
		}
		for _, key := range ir.SortedKeys(exp) {
			sub := key
			if path != "" {
				sub = path + "." + key
			}
			value, present := act[key]
			if !present {
				if exp[key] == nil {
					continue
				}
				return fmt.Sprintf("%s: missing", sub)
			}
			if msg := subsetMismatch(sub, value, exp[key]); msg != "" {
				return msg
			}
		}
		return ""
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return fmt.Sprintf("%s: expected %v, got %v", displayPath(path), exp, actual)
		}
		for i := range exp {
			if msg := subsetMismatch(fmt.Sprintf("%s[%d]", path, i), act[i], exp[i]); msg != "" {
				return msg
			}
		}
		return ""
	default:
		if !ir.Equal(actual, expected) {
			return fmt.Sprintf("%s: expected %v, got %v", displayPath(path), expected, actual)
		}
		return ""
	}
}

func displayPath(path string) string {
	if path == "" {
		return "value"
	}
	return path
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context

	// resolve substitutes saved aliases in expected values. Nil keeps
	// values as written.
	resolve func(any) (any, error)
}

func (actx *AssertionContext) prepare(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	normalized, err := ir.Normalize(m)
	if err != nil {
		return nil, err
	}
	if actx == nil || actx.resolve == nil {
		return normalized.(map[string]any), nil
	}
	r, err := actx.resolve(normalized)
	if err != nil {
		return nil, err
	}
	return r.(map[string]any), nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			var want map[string]any
			if want, err = actx.prepare(assertion.Response); err == nil {
				err = assertTraceContains(result.Trace, assertion, want)
			}
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			if assertion.Count == nil {
				err = fmt.Errorf("assertion[%d]: trace_count requires count", i)
			} else {
				err = assertTraceCount(result.Trace, assertion)
			}
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
				break
			}
			var where, want map[string]any
			if where, err = actx.prepare(assertion.Where); err != nil {
				break
			}
			if want, err = actx.prepare(assertion.Expect); err != nil {
				break
			}
			err = assertFinalState(actx.Ctx, actx.Store, assertion, where, want)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

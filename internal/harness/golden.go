package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/services"
)

// Redacted replaces secret values in snapshots.
const Redacted = "<redacted>"

// redactedFields hold random or secret values that would make snapshots
// unstable.
var redactedFields = map[string]bool{
	"sessionToken":                          true,
	auth.HashedPasswordField:                true,
	services.EmailVerifyTokenField:          true,
	services.EmailVerifyTokenExpiresAtField: true,
}

// Snapshot renders the trace of a result as canonical JSON with secrets
// redacted.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, event := range result.Trace {
		m := map[string]any{
			"seq":    float64(event.Seq),
			"action": event.Action,
		}
		if event.ID != "" {
			m["id"] = event.ID
		}
		if event.Status != 0 {
			m["status"] = float64(event.Status)
		}
		if event.Error != "" {
			m["error"] = event.Error
		}
		if event.Response != nil {
			m["response"] = redact(ir.Clone(event.Response))
		}
		trace[i] = m
	}
	return ir.MarshalCanonical(map[string]any{
		"scenario_name": scenarioName,
		"trace":         trace,
	})
}

func redact(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, elem := range val {
			if redactedFields[k] && elem != nil {
				val[k] = Redacted
				continue
			}
			val[k] = redact(elem)
		}
		return val
	case []any:
		for i, elem := range val {
			val[i] = redact(elem)
		}
		return val
	default:
		return val
	}
}

// RunWithGolden executes a scenario and compares its trace snapshot with
// the golden file <dir>/<scenario.Name>.golden. An empty dir means
// testdata/golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, dir string, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result, dir); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result, dir string) error {
	t.Helper()

	snapshot, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	if dir == "" {
		dir = "testdata/golden"
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, snapshot)
	return nil
}

package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/tenant"
	"github.com/roach88/restcore/internal/triggers"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func parseTestScenario(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src), "testdata")
	require.NoError(t, err)
	return s
}

func TestRun_Scenarios(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	for _, path := range matches {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
			assert.Len(t, result.Trace, len(s.Flow))
		})
	}
}

func TestRun_TraceRecordsSteps(t *testing.T) {
	result, err := Run(context.Background(), loadTestScenario(t, "signup_and_post"))
	require.NoError(t, err)
	require.Len(t, result.Trace, 6)

	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	assert.Equal(t, "create:_User", result.Trace[0].Action)
	assert.Equal(t, 201, result.Trace[0].Status)
	assert.Equal(t, "update:Post", result.Trace[3].Action)
	post, ok := result.Trace[1].Response.(ir.Object)
	require.True(t, ok)
	assert.Equal(t, post[ir.FieldObjectID], result.Trace[3].ID)
	assert.Equal(t, "SESSION_MISSING", result.Trace[4].Error)
	assert.Nil(t, result.Trace[4].Response)
}

func TestRun_HooksAndFunctions(t *testing.T) {
	s := parseTestScenario(t, `
name: hooks
description: Triggers and functions registered through hooks
schema: [blog.cue]
flow:
  - op: call
    function: hello
    data: { name: bob }
    save_as: greeting
    expect:
      response: { greeting: hi bob }
  - op: create
    class: Post
    data: { title: hello }
  - op: call
    function: hello
    data: {}
    expect:
      error: VALIDATION_ERROR
  - op: call
    function: missing
    expect:
      error: SCRIPT_FAILED
assertions:
  - type: final_state
    class: Post
    count: 1
    expect: { title: HELLO }
  - type: trace_count
    action: "call:hello"
    count: 2
`)

	hooks := WithHooks(func(rt *tenant.Runtime) error {
		err := rt.Triggers.RegisterFunction(rt.TenantID, "hello",
			func(ctx context.Context, req *triggers.FunctionRequest) (any, error) {
				return map[string]any{"greeting": fmt.Sprintf("hi %v", req.Params["name"])}, nil
			},
			func(ctx context.Context, req *triggers.FunctionRequest) error {
				if _, ok := req.Params["name"]; !ok {
					return fmt.Errorf("name is required")
				}
				return nil
			})
		if err != nil {
			return err
		}
		return rt.Triggers.RegisterTrigger(rt.TenantID, triggers.BeforeSave, "Post",
			func(ctx context.Context, req triggers.Request) (*triggers.Response, error) {
				bs := req.(*triggers.BeforeSaveRequest)
				if title, ok := bs.Object["title"].(string); ok {
					bs.Object["title"] = strings.ToUpper(title)
				}
				return nil, nil
			})
	})

	result, err := Run(context.Background(), s, hooks)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, map[string]any{"greeting": "hi bob"}, result.Trace[0].Response)
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	s := parseTestScenario(t, `
name: failing
description: Every expectation in this scenario is wrong
schema: [blog.cue]
flow:
  - op: create
    class: Post
    data: { title: hello }
    expect:
      status: 200
      response: { objectId: id9999 }
  - op: create
    class: Post
    data: { views: 1 }
  - op: find
    class: Post
    options: { count: true }
    expect:
      count: 3
assertions:
  - type: trace_count
    action: "create:Post"
    count: 5
  - type: final_state
    class: Post
    count: 0
`)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)

	joined := strings.Join(result.Errors, "\n")
	assert.Contains(t, joined, "flow[0] create:Post: status: expected 200, got 201")
	assert.Contains(t, joined, "flow[0] create:Post: response: objectId: expected id9999, got id0001")
	assert.Contains(t, joined, "flow[1] create:Post: unexpected error")
	assert.Contains(t, joined, "flow[2] find:Post: count: expected 3, got 1")
	assert.Contains(t, joined, "5 occurrences of create:Post")
	assert.Contains(t, joined, "0 rows in Post")
	assert.Equal(t, "MISSING_REQUIRED_FIELD", result.Trace[1].Error)
}

func TestRun_ExpectedErrorMismatch(t *testing.T) {
	s := parseTestScenario(t, `
name: wrong_error
description: The step succeeds or fails differently than expected
schema: [blog.cue]
flow:
  - op: create
    class: Post
    data: { title: hello }
    expect:
      error: OBJECT_NOT_FOUND
  - op: get
    class: Post
    id: nope
    expect:
      error: SESSION_MISSING
`)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected error OBJECT_NOT_FOUND, got success")
	assert.Contains(t, result.Errors[1], "expected error SESSION_MISSING, got OBJECT_NOT_FOUND")
}

func TestRun_UnknownCaller(t *testing.T) {
	s := parseTestScenario(t, `
name: ghost
description: A step runs as an alias that was never saved
schema: [blog.cue]
flow:
  - op: find
    class: Post
    as: ghost
`)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `unknown caller "ghost"`)
}

func TestRun_SetupRunsAsMasterAndIsNotTraced(t *testing.T) {
	s := parseTestScenario(t, `
name: setup
description: Setup rows are visible to flow steps through aliases
schema: [blog.cue]
setup:
  - op: create
    class: Post
    data: { title: seeded, tags: [a, b] }
    save_as: seeded
flow:
  - op: get
    class: Post
    id: $seeded
    expect:
      response: { title: seeded, tags: [a, b] }
  - op: find
    class: Post
    where: { objectId: $seeded.objectId }
    expect:
      results:
        - { objectId: $seeded, title: seeded }
`)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, "get:Post", result.Trace[0].Action)
	assert.Equal(t, "id0001", result.Trace[0].ID)
}

func TestRun_SetupFailureAborts(t *testing.T) {
	s := parseTestScenario(t, `
name: bad_setup
description: A failing setup step stops the run
schema: [blog.cue]
setup:
  - op: create
    class: Post
    data: { views: 1 }
flow:
  - op: find
    class: Post
`)

	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute setup[0]")
}

func TestRun_RejectsUnknownConfigKeys(t *testing.T) {
	s := parseTestScenario(t, `
name: bad_config
description: Config overrides go through the strict decoder
config:
  no_such_key: true
flow:
  - op: find
    class: Post
`)

	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario config")
}

func TestSubsetMismatch(t *testing.T) {
	actual := map[string]any{
		"title": "hello",
		"views": float64(2),
		"tags":  []any{"a", "b"},
		"author": map[string]any{
			"objectId": "u1",
			"username": "bob",
		},
	}

	tests := []struct {
		name     string
		expected any
		want     string
	}{
		{"subset matches", map[string]any{"title": "hello"}, ""},
		{"any value", map[string]any{"views": AnyValue}, ""},
		{"nested", map[string]any{"author": map[string]any{"username": "bob"}}, ""},
		{"absent with nil", map[string]any{"missing": nil}, ""},
		{"int matches float", map[string]any{"views": 2}, ""},
		{"scalar differs", map[string]any{"title": "bye"}, "title: expected bye, got hello"},
		{"missing key", map[string]any{"body": "x"}, "body: missing"},
		{"any on missing", map[string]any{"body": AnyValue}, "body: missing"},
		{"nested differs", map[string]any{"author": map[string]any{"username": "amy"}}, "author.username: expected amy, got bob"},
		{"array length", map[string]any{"tags": []any{"a"}}, "tags: expected [a], got [a b]"},
		{"not an object", map[string]any{"title": map[string]any{"x": 1}}, "title: expected an object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := subsetMismatch("", actual, tt.expected)
			if tt.want == "" {
				assert.Empty(t, got)
				return
			}
			assert.Contains(t, got, tt.want)
		})
	}
}

func TestSnapshot_RedactsSecrets(t *testing.T) {
	response := ir.Object{
		"objectId":         "id0001",
		"sessionToken":     "r:secret",
		"_hashed_password": "$2a$04$hash",
		"nested":           map[string]any{"sessionToken": "r:other"},
	}
	result := NewResult()
	result.addTrace(TraceEvent{Action: "create:_User", Status: 201, Response: response})
	result.addTrace(TraceEvent{Action: "get:_User", ID: "id0001", Error: "OBJECT_NOT_FOUND"})

	snapshot, err := Snapshot("redact", result)
	require.NoError(t, err)

	out := string(snapshot)
	assert.NotContains(t, out, "r:secret")
	assert.NotContains(t, out, "r:other")
	assert.NotContains(t, out, "$2a$04$hash")
	assert.Contains(t, out, `"sessionToken":"<redacted>"`)
	assert.Contains(t, out, `"error":"OBJECT_NOT_FOUND"`)
	assert.Contains(t, out, `"scenario_name":"redact"`)
	assert.Equal(t, "r:secret", response["sessionToken"], "snapshot must not mutate the trace")
}

func TestRunWithGolden_Deterministic(t *testing.T) {
	s := loadTestScenario(t, "signup_and_post")

	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	snapshot, err := Snapshot(s.Name, first)
	require.NoError(t, err)

	dir := t.TempDir()
	g := goldie.New(t, goldie.WithFixtureDir(dir), goldie.WithNameSuffix(".golden"))
	require.NoError(t, g.Update(t, s.Name, snapshot))

	second, err := RunWithGolden(t, s, dir)
	require.NoError(t, err)
	assert.True(t, second.Pass, "errors: %v", second.Errors)
}

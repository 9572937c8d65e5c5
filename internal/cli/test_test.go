package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: post_roundtrip
description: A post is created and read back
schema: [blog.cue]
flow:
  - op: create
    class: Post
    data: { title: hello }
    save_as: post
    expect:
      status: 201
  - op: get
    class: Post
    id: $post
    expect:
      response: { title: hello, views: 0 }
`

const failingScenario = `name: wrong_status
description: The expected status is wrong
schema: [blog.cue]
flow:
  - op: create
    class: Post
    data: { title: hello }
    expect:
      status: 200
`

// scenarioDir writes the blog schema and the given scenario files into a
// temporary directory.
func scenarioDir(t *testing.T, scenarios map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	schema, err := os.ReadFile(filepath.Join("testdata", "blog.cue"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blog.cue"), schema, 0o644))
	for name, src := range scenarios {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	return dir
}

func newTestCmd(format string, args ...string) (*bytes.Buffer, func() error) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, run := newTestCmd("text")
	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, run := newTestCmd("text", "/nonexistent/scenarios")
	err := run()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	buf, run := newTestCmd("text", t.TempDir())
	require.NoError(t, run())
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	buf, run := newTestCmd("json", t.TempDir())
	require.NoError(t, run())

	var response CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandPasses(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"roundtrip.yaml": passingScenario})

	buf, run := newTestCmd("text", dir)
	require.NoError(t, run())
	assert.Contains(t, buf.String(), "✓ post_roundtrip")
	assert.Contains(t, buf.String(), "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTestCommandFailure(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"roundtrip.yaml": passingScenario,
		"wrong.yaml":     failingScenario,
	})

	buf, run := newTestCmd("json", dir)
	err := run()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var response struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "error", response.Status)
	assert.Equal(t, 1, response.Data.Passed)
	assert.Equal(t, 1, response.Data.Failed)
	assert.Equal(t, 2, response.Data.Total)

	for _, s := range response.Data.Scenarios {
		if s.Name == "wrong_status" {
			assert.False(t, s.Pass)
			require.NotEmpty(t, s.Errors)
			assert.Contains(t, s.Errors[0], "status: expected 200, got 201")
		}
	}
}

func TestTestCommandFilter(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"roundtrip.yaml": passingScenario,
		"wrong.yaml":     failingScenario,
	})

	buf, run := newTestCmd("text", dir, "--filter", "round*")
	require.NoError(t, run())
	assert.Contains(t, buf.String(), "1 total")
	assert.NotContains(t, buf.String(), "wrong_status")
}

func TestTestCommandGolden(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"roundtrip.yaml": passingScenario})
	goldenPath := filepath.Join(dir, "golden", "roundtrip.golden")

	buf, run := newTestCmd("text", dir, "--update")
	require.NoError(t, run())
	assert.Contains(t, buf.String(), "golden updated")
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"post_roundtrip"`)

	_, run = newTestCmd("text", dir)
	require.NoError(t, run(), "an unchanged run matches its golden file")

	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"scenario_name":"stale"}`), 0o644))
	buf, run = newTestCmd("text", dir)
	err = run()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "trace does not match golden file")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yml", "notes.txt", "golden/a.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yml")}, files)

	files, err = findScenarioFiles(dir, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yml")}, files)

	_, err = findScenarioFiles(dir, "[")
	require.Error(t, err)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("s", "golden", "x.golden"), goldenFilePath(filepath.Join("s", "x.yaml")))
}

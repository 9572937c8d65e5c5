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

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeResponse parses the JSON envelope of a command run with --format json.
func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

// tenantFlags returns --db and --config flags for a fresh database with a
// cheap bcrypt cost, plus the blog schema.
func tenantFlags(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	config := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(config, []byte("app_id: clitest\nbcrypt_cost: 4\n"), 0o644))
	return []string{
		"--db", filepath.Join(dir, "test.db"),
		"--config", config,
		"--schema", filepath.Join("testdata", "blog.cue"),
	}
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "restcore", cmd.Use)
	assert.Contains(t, cmd.Long, "SQLite")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, cmdName := range []string{"schema", "find", "save", "test"} {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, DefaultDB, dbFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("schema"))
}

func TestFindCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	findCmd, _, err := cmd.Find([]string{"find"})
	require.NoError(t, err)

	whereFlag := findCmd.Flags().Lookup("where")
	require.NotNil(t, whereFlag)
	assert.Equal(t, "{}", whereFlag.DefValue)

	limitFlag := findCmd.Flags().Lookup("limit")
	require.NotNil(t, limitFlag)
	assert.Equal(t, "-1", limitFlag.DefValue)

	for _, name := range []string{"keys", "include", "order", "skip", "count", "master", "session"} {
		assert.NotNil(t, findCmd.Flags().Lookup(name), "flag %s", name)
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "schema", filepath.Join("testdata", "blog.cue"), "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestSchemaCommand(t *testing.T) {
	out, err := execute(t, "schema", filepath.Join("testdata", "blog.cue"), "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	schemas, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, schemas, "Post")
	assert.Contains(t, schemas, "Comment")
}

func TestSchemaCommand_MissingFile(t *testing.T) {
	_, err := execute(t, "schema", filepath.Join(t.TempDir(), "nope.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSaveAndFind(t *testing.T) {
	flags := tenantFlags(t)
	run := func(args ...string) (CLIResponse, error) {
		out, err := execute(t, append(append(args, flags...), "--format", "json")...)
		return decodeResponse(t, out), err
	}

	resp, err := run("save", "_User", "--data", `{"username":"bob","password":"secret"}`)
	require.NoError(t, err)
	signup := resp.Data.(map[string]any)
	assert.Equal(t, float64(201), signup["status"])
	user := signup["response"].(map[string]any)
	token, ok := user["sessionToken"].(string)
	require.True(t, ok)
	require.NotEmpty(t, token)

	resp, err = run("save", "Post", "--session", token, "--data", `{"title":"hello","views":3}`)
	require.NoError(t, err)
	created := resp.Data.(map[string]any)
	postID := created["response"].(map[string]any)["objectId"].(string)
	assert.Equal(t, "http://localhost:1337/parse/classes/Post/"+postID, created["location"])

	resp, err = run("save", "Post", "--id", postID, "--master", "--data", `{"views":{"__op":"Increment","amount":2}}`)
	require.NoError(t, err)
	assert.Equal(t, float64(5), resp.Data.(map[string]any)["response"].(map[string]any)["views"])

	resp, err = run("find", "Post", "--where", `{"title":"hello"}`, "--count", "--keys", "views")
	require.NoError(t, err)
	found := resp.Data.(map[string]any)
	assert.Equal(t, float64(1), found["count"])
	results := found["results"].([]any)
	require.Len(t, results, 1)
	row := results[0].(map[string]any)
	assert.Equal(t, postID, row["objectId"])
	assert.Equal(t, float64(5), row["views"])
	assert.NotContains(t, row, "title")
}

func TestSave_Rejected(t *testing.T) {
	flags := tenantFlags(t)

	out, err := execute(t, append([]string{"save", "Post", "--id", "missing", "--master", "--data", `{"views":1}`, "--format", "json"}, flags...)...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "OBJECT_NOT_FOUND", resp.Error.Code)
}

func TestSave_InvalidSession(t *testing.T) {
	flags := tenantFlags(t)

	out, err := execute(t, append([]string{"save", "Post", "--session", "r:nope", "--data", `{"title":"x"}`}, flags...)...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [INVALID_SESSION_TOKEN]")
}

func TestSave_RequiresData(t *testing.T) {
	_, err := execute(t, append([]string{"save", "Post"}, tenantFlags(t)...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "data" not set`)
}

func TestFind_InvalidWhere(t *testing.T) {
	_, err := execute(t, append([]string{"find", "Post", "--where", "{not json"}, tenantFlags(t)...)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid --where JSON")
}

func TestFind_BadConfig(t *testing.T) {
	config := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(config, []byte("no_such_key: 1\n"), 0o644))

	_, err := execute(t, "find", "Post", "--config", config, "--db", filepath.Join(t.TempDir(), "x.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

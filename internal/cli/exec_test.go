package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile writes content to name inside dir and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func runExecCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewExecCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestExecCommand_Flags(t *testing.T) {
	cmd := NewExecCommand(&RootOptions{})

	for _, name := range []string{"db", "schema", "backend"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "flag %s", name)
	}
	assert.Equal(t, "sqlite", cmd.Flags().Lookup("backend").DefValue)
}

func TestExecCommand_Success(t *testing.T) {
	dir := t.TempDir()
	schemaDir := writeSchema(t, itemsSchema)
	reqs := writeFile(t, dir, "requests.yaml", `
- op: put
  store: items
  data: {id: 1, tag: x}
- op: add
  store: log
  data: {msg: hello}
- op: delete
  store: items
  data: 1
`)

	out, err := runExecCommand(t, "text",
		"--db", filepath.Join(dir, "data.db"), "--schema", schemaDir, reqs)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "event "))
	assert.Contains(t, lines[0], `"kind":"inserted"`)
	assert.Contains(t, lines[1], `"store":"log"`)
	assert.Contains(t, lines[2], `"kind":"deleted"`)
	assert.Equal(t, "3 executed, 0 failed", lines[3])
}

func TestExecCommand_FailureContinues(t *testing.T) {
	dir := t.TempDir()
	schemaDir := writeSchema(t, itemsSchema)
	reqs := writeFile(t, dir, "requests.yaml", `
- op: add
  store: items
  data: {id: 1, tag: x}
- op: add
  store: items
  data: {id: 1, tag: y}
- op: put
  store: items
  data: {id: 2, tag: z}
`)

	out, err := runExecCommand(t, "json",
		"--db", filepath.Join(dir, "data.db"), "--schema", schemaDir, "--backend", "bolt", reqs)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 of 3")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	var failure map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &failure))
	assert.Equal(t, "failure", failure["type"])
	assert.Equal(t, "CONSTRAINT", failure["code"])

	var event map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &event))
	assert.Equal(t, "event", event["type"])
}

func TestExecCommand_InvalidRequests(t *testing.T) {
	dir := t.TempDir()
	reqs := writeFile(t, dir, "requests.yaml", `
- op: upsert
  store: items
`)

	_, err := runExecCommand(t, "text",
		"--db", filepath.Join(dir, "data.db"), "--schema", writeSchema(t, itemsSchema), reqs)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeRequests)
}

func TestExecCommand_MissingRequestFile(t *testing.T) {
	dir := t.TempDir()
	_, err := runExecCommand(t, "text",
		"--db", filepath.Join(dir, "data.db"), filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestExecCommand_BadSchema(t *testing.T) {
	dir := t.TempDir()
	reqs := writeFile(t, dir, "requests.yaml", "[]\n")

	_, err := runExecCommand(t, "text",
		"--db", filepath.Join(dir, "data.db"), "--schema", filepath.Join(dir, "nope"), reqs)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load schema")
}

func TestExecCommand_UnknownBackend(t *testing.T) {
	dir := t.TempDir()
	reqs := writeFile(t, dir, "requests.yaml", "[]\n")

	_, err := runExecCommand(t, "text",
		"--db", filepath.Join(dir, "data.db"), "--schema", writeSchema(t, itemsSchema), "--backend", "lmdb", reqs)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open database")
}

package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/live"
)

type watchEnv struct {
	db        string
	schemaDir string
	dir       string
}

// newWatchEnv creates a database seeded with items 1 (tag x).
func newWatchEnv(t *testing.T) watchEnv {
	t.Helper()
	dir := t.TempDir()
	env := watchEnv{db: filepath.Join(dir, "data.db"), schemaDir: writeSchema(t, itemsSchema), dir: dir}

	seed := writeFile(t, dir, "seed.yaml", `
- op: put
  store: items
  data: {id: 1, tag: x}
`)
	_, err := runExecCommand(t, "text", "--db", env.db, "--schema", env.schemaDir, seed)
	require.NoError(t, err)
	return env
}

func runWatchCommand(t *testing.T, ctx context.Context, env watchEnv, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewWatchCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--db", env.db, "--schema", env.schemaDir}, args...))
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

func TestWatchCommand_Flags(t *testing.T) {
	cmd := NewWatchCommand(&RootOptions{})

	for _, name := range []string{"db", "schema", "backend", "store", "index", "kind", "key", "requests", "metrics-addr", "limit"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "flag %s", name)
	}
	assert.Equal(t, "getAll", cmd.Flags().Lookup("kind").DefValue)
}

func TestWatchCommand_InitialResult(t *testing.T) {
	env := newWatchEnv(t)

	out, err := runWatchCommand(t, context.Background(), env, "--store", "items", "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, `emit {"value":[{"id":1,"tag":"x"}],"view":"items getAll"}`+"\n", out)
}

func TestWatchCommand_IndexKey(t *testing.T) {
	env := newWatchEnv(t)

	out, err := runWatchCommand(t, context.Background(), env,
		"--store", "items", "--index", "tag", "--key", "x", "--kind", "count", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"value":1`)
	assert.Contains(t, out, `"view":"items.tag count`)
}

func TestWatchCommand_AppliesRequests(t *testing.T) {
	env := newWatchEnv(t)
	reqs := writeFile(t, env.dir, "writes.yaml", `
- op: put
  store: items
  data: {id: 2, tag: y}
- op: put
  store: items
  data: {id: 3, tag: y}
- op: add
  store: items
  data: {id: 1, tag: dup}
`)

	ctx, cancel := context.WithTimeout(context.Background(), 750*time.Millisecond)
	defer cancel()

	// The failed add concerns tag "x" and "dup" only, so the view survives it.
	out, err := runWatchCommand(t, ctx, env,
		"--store", "items", "--index", "tag", "--key", "y", "--kind", "count", "--requests", reqs)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)

	var last string
	for _, line := range lines {
		if strings.HasPrefix(line, "emit ") {
			last = line
		}
	}
	assert.Contains(t, last, `"value":2`)

	var failures int
	for _, line := range lines {
		if strings.HasPrefix(line, "failure ") {
			failures++
			assert.Contains(t, line, `"code":"CONSTRAINT"`)
		}
	}
	assert.Equal(t, 1, failures)
}

func TestWatchCommand_UnknownStoreFailsView(t *testing.T) {
	env := newWatchEnv(t)

	out, err := runWatchCommand(t, context.Background(), env, "--store", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "error ")
	assert.Contains(t, out, `"code":"NOT_FOUND"`)
}

func TestWatchCommand_InvalidFlags(t *testing.T) {
	env := newWatchEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown kind", []string{"--store", "items", "--kind", "first"}, "invalid --kind"},
		{"filter query", []string{"--store", "items", "--kind", "query"}, "needs a filter"},
		{"non-key value", []string{"--store", "items", "--key", "true"}, "invalid --key"},
		{"missing requests", []string{"--store", "items", "--requests", filepath.Join(env.dir, "none.yaml")}, ErrCodeRequests},
		{"bad metrics address", []string{"--store", "items", "--metrics-addr", "not-an-address"}, "failed to serve metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runWatchCommand(t, context.Background(), env, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want ir.Value
	}{
		{`1`, ir.Int(1)},
		{`"x"`, ir.String("x")},
		{`x`, ir.String("x")},
		{`[1,"a"]`, ir.Array{ir.Int(1), ir.String("a")}},
	}
	for _, tt := range tests {
		got, err := parseKey(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, ir.Equal(tt.want, got), "%s: got %v", tt.in, got)
	}

	_, err := parseKey(`{"a":1}`)
	assert.Error(t, err)
}

func TestMetricsHandler(t *testing.T) {
	h, err := metricsHandler(live.NewMetrics())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "livekv_dispatch_queue_length")
}

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livekv/internal/ir"
)

func TestOutputFormatter_Success(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, f.Success(map[string]int{"events": 2}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)

	buf.Reset()
	f.Format = "text"
	require.NoError(t, f.Success("done"))
	assert.Equal(t, "done\n", buf.String())
}

func TestOutputFormatter_Error(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, f.Error(ErrCodeNotFound, "schema directory not found", map[string]string{"dir": "x"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)

	buf.Reset()
	f = &OutputFormatter{Format: "text", Writer: buf, Verbose: true}
	require.NoError(t, f.Error(ErrCodeNotFound, "schema directory not found", "dir=x"))
	assert.Contains(t, buf.String(), "Error [E005]: schema directory not found")
	assert.Contains(t, buf.String(), "Details: dir=x")
}

func TestOutputFormatter_VerboseLogGoesToErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}

	f.VerboseLog("loaded %d file(s)", 2)
	assert.Empty(t, out.String())
	assert.Equal(t, "loaded 2 file(s)\n", errOut.String())

	f.Verbose = false
	errOut.Reset()
	f.VerboseLog("hidden")
	assert.Empty(t, errOut.String())
}

func TestOutputFormatter_Line(t *testing.T) {
	obj := ir.Object{"view": ir.String("items getAll"), "value": ir.Array{ir.Int(1)}}

	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, f.Line("emit", obj))
	assert.Equal(t, `emit {"value":[1],"view":"items getAll"}`+"\n", buf.String())

	buf.Reset()
	f.Format = "json"
	require.NoError(t, f.Line("emit", obj))
	assert.Equal(t, `{"type":"emit","value":[1],"view":"items getAll"}`+"\n", buf.String())
	_, hasType := obj["type"]
	assert.False(t, hasType, "Line must not modify its argument")
}

func TestExitError(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("exec: %w", WrapExitError(ExitCommandError, "failed to open database", cause))

	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to open database: disk full")

	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, "2 write(s) failed", NewExitError(ExitFailure, "2 write(s) failed").Error())
}

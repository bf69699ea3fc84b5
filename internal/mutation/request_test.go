package mutation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livekv/internal/ir"
)

func TestParseOperation(t *testing.T) {
	for _, op := range []Operation{OpPut, OpAdd, OpUpdate, OpDelete, OpClear} {
		got, err := ParseOperation(string(op))
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}

	_, err := ParseOperation("$put")
	assert.Error(t, err)
}

func TestRequestValidate(t *testing.T) {
	assert.NoError(t, Put("items", ir.Object{}).Validate())
	assert.NoError(t, Delete("items", ir.Array{ir.Int(1), ir.String("a")}).Validate())
	assert.NoError(t, Clear("items").Validate())

	assert.Error(t, Put("", ir.Object{}).Validate())
	assert.Error(t, Delete("items", ir.Null{}).Validate())
	assert.Error(t, Request{Op: "merge", Store: "items"}.Validate())
}

func TestRequestObject(t *testing.T) {
	assert.Equal(t, ir.Object{
		"store":     ir.String("items"),
		"operation": ir.String("delete"),
		"data":      ir.Int(3),
	}, Delete("items", ir.Int(3)).Object())

	assert.Equal(t, ir.Null{}, Clear("items").Object()["data"])
}

func TestDecodeRequests(t *testing.T) {
	reqs, err := DecodeRequests(strings.NewReader(`
- op: put
  store: items
  data: {id: 1, tag: x}
- op: delete
  store: items
  data: 1
- op: clear
  store: items
`))
	require.NoError(t, err)
	assert.Equal(t, []Request{
		Put("items", ir.Object{"id": ir.Int(1), "tag": ir.String("x")}),
		Delete("items", ir.Int(1)),
		Clear("items"),
	}, reqs)
}

func TestDecodeRequestsErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown op", "- {op: merge, store: items, data: {}}"},
		{"float data", "- {op: put, store: items, data: {id: 1.5}}"},
		{"object required", "- {op: put, store: items, data: 3}"},
		{"not a list", "op: put"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequests(strings.NewReader(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestDecodeRequestsEmpty(t *testing.T) {
	reqs, err := DecodeRequests(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

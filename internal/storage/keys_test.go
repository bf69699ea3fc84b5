package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/schema"
)

func TestCompileRangeMatchesContains(t *testing.T) {
	keys := []ir.Value{
		ir.Int(-1), ir.Int(0), ir.Int(5),
		ir.String("A"), ir.String("B"), ir.String("M"), ir.String("N"),
		ir.Array{ir.Int(1)},
	}
	ranges := []ir.KeyRange{
		ir.Only(ir.String("B")),
		ir.Bound(ir.String("A"), ir.String("M"), false, false),
		ir.Bound(ir.String("A"), ir.String("M"), true, true),
		ir.LowerBound(ir.Int(0), true),
		ir.UpperBound(ir.String("B"), false),
	}

	for _, r := range ranges {
		br, err := CompileRange(&r)
		require.NoError(t, err)
		for _, k := range keys {
			assert.Equal(t, r.Contains(k), br.Contains(ir.MustEncodeKey(k)), "range %s key %v", r, k)
		}
	}
}

func TestCompileRangeNil(t *testing.T) {
	br, err := CompileRange(nil)
	require.NoError(t, err)
	assert.True(t, br.Contains(ir.MustEncodeKey(ir.Int(1))))
}

func TestCompileRangeInvalid(t *testing.T) {
	r := ir.Bound(ir.Int(5), ir.Int(1), false, false)
	_, err := CompileRange(&r)
	require.Error(t, err)

	_, err = CheckRange("items", &r)
	assert.True(t, IsTransport(err))
}

func TestIndexKeys(t *testing.T) {
	st := &schema.Store{Name: "items", KeyPath: "id", Indexes: []schema.Index{
		{Name: "tag", KeyPath: "tag"},
		{Name: "owner", KeyPath: "meta.owner"},
	}}

	keys := IndexKeys(st, ir.Object{"id": ir.Int(1), "tag": ir.String("x"), "meta": ir.Object{"owner": ir.Bool(true)}})
	assert.Equal(t, map[string]ir.Value{"tag": ir.String("x")}, keys)
}

func TestCheckKey(t *testing.T) {
	assert.NoError(t, CheckKey("items", ir.String("a")))
	assert.True(t, IsMissingKey(CheckKey("items", ir.Bool(true))))
	assert.True(t, IsMissingKey(CheckKey("items", nil)))
}

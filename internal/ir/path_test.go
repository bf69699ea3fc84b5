package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	rec := Object{"id": Int(1), "meta": Object{"tag": String("x")}, "flag": Bool(true)}

	v, ok := Lookup(rec, "meta.tag")
	assert.True(t, ok)
	assert.Equal(t, String("x"), v)

	_, ok = Lookup(rec, "meta.missing")
	assert.False(t, ok)

	_, ok = Lookup(rec, "id.deeper")
	assert.False(t, ok)

	_, ok = Lookup(rec, "")
	assert.False(t, ok)

	_, ok = LookupKey(rec, "flag")
	assert.False(t, ok, "booleans are not keys")
}

func TestWithPathCopies(t *testing.T) {
	rec := Object{"name": String("pony")}

	out := WithPath(rec, "meta.id", Int(3))

	assert.Equal(t, Object{"name": String("pony"), "meta": Object{"id": Int(3)}}, out)
	assert.NotContains(t, rec, "meta")
}

func TestMergeIsShallow(t *testing.T) {
	old := Object{"id": Int(1), "tag": String("x"), "meta": Object{"a": Int(1)}}
	patch := Object{"id": Int(1), "tag": String("y"), "meta": Object{"b": Int(2)}}

	merged := Merge(old, patch)

	assert.Equal(t, Object{"id": Int(1), "tag": String("y"), "meta": Object{"b": Int(2)}}, merged)
	assert.Equal(t, String("x"), old["tag"])
}

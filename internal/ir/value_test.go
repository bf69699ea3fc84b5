package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = String("test")
	var _ Value = Int(42)
	var _ Value = Bool(true)
	var _ Value = Array{String("a"), Int(1)}
	var _ Value = Object{"key": String("value")}
}

func TestObjectSortedKeys(t *testing.T) {
	obj := Object{"a": Int(1), "A": Int(2), "aa": Int(3), "AA": Int(4)}
	assert.Equal(t, []string{"A", "AA", "a", "aa"}, obj.SortedKeys())
}

func TestNewObjectFromPairs(t *testing.T) {
	obj := NewObject(O("id", Int(1)), O("tag", String("x")))
	assert.Equal(t, Object{"id": Int(1), "tag": String("x")}, obj)
}

func TestObjectJSONRoundTrip(t *testing.T) {
	in := []byte(`{"id":1,"tags":["a","b"],"meta":{"ok":true,"none":null}}`)

	var obj Object
	require.NoError(t, json.Unmarshal(in, &obj))

	assert.Equal(t, Int(1), obj["id"])
	assert.Equal(t, Array{String("a"), String("b")}, obj["tags"])
	assert.Equal(t, Object{"ok": Bool(true), "none": Null{}}, obj["meta"])

	out, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, string(in), string(out))
}

func TestObjectUnmarshalRejectsFloats(t *testing.T) {
	var obj Object
	err := json.Unmarshal([]byte(`{"price":1.5}`), &obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats")
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{
		"id":   1,
		"name": "pony",
		"list": []any{int64(2), true, nil},
		"num":  json.Number("7"),
	})
	require.NoError(t, err)

	assert.Equal(t, Object{
		"id":   Int(1),
		"name": String("pony"),
		"list": Array{Int(2), Bool(true), Null{}},
		"num":  Int(7),
	}, v)

	_, err = FromGo(map[string]any{"f": 2.5})
	require.Error(t, err)

	_, err = FromGo(json.Number("1e3"))
	require.Error(t, err)
}

func TestToGoInvertsFromGo(t *testing.T) {
	obj := Object{"id": Int(1), "tags": Array{String("a")}, "gone": Null{}}

	back, err := FromGo(ToGo(obj))
	require.NoError(t, err)
	assert.True(t, Equal(obj, back))
}

func TestCloneIsDeep(t *testing.T) {
	orig := Object{"meta": Object{"tag": String("x")}, "list": Array{Int(1)}}
	cp := orig.Clone()

	cp["meta"].(Object)["tag"] = String("y")
	cp["list"].(Array)[0] = Int(2)

	assert.Equal(t, String("x"), orig["meta"].(Object)["tag"])
	assert.Equal(t, Int(1), orig["list"].(Array)[0])
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same int", Int(1), Int(1), true},
		{"int vs string", Int(1), String("1"), false},
		{"nil equals null", nil, Null{}, true},
		{"null vs int", Null{}, Int(0), false},
		{"nested objects", Object{"a": Array{Int(1)}}, Object{"a": Array{Int(1)}}, true},
		{"object missing key", Object{"a": Int(1)}, Object{"b": Int(1)}, false},
		{"array length", Array{Int(1)}, Array{Int(1), Int(2)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestIsAbsent(t *testing.T) {
	assert.True(t, IsAbsent(nil))
	assert.True(t, IsAbsent(Null{}))
	assert.False(t, IsAbsent(Int(0)))
	assert.False(t, IsAbsent(String("")))
}

package ir

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsKey(t *testing.T) {
	assert.True(t, IsKey(Int(1)))
	assert.True(t, IsKey(String("a")))
	assert.True(t, IsKey(Array{Int(1), String("a"), Array{}}))

	assert.False(t, IsKey(nil))
	assert.False(t, IsKey(Null{}))
	assert.False(t, IsKey(Bool(true)))
	assert.False(t, IsKey(Object{}))
	assert.False(t, IsKey(Array{Bool(true)}))
}

// orderedKeys is sorted ascending under CompareKeys.
var orderedKeys = []Value{
	Int(-9223372036854775808),
	Int(-1),
	Int(0),
	Int(1),
	Int(9223372036854775807),
	String(""),
	String("A"),
	String("M"),
	String("a"),
	String("a\x00"),
	String("a\x00b"),
	String("a\x01"),
	String("ab"),
	Array{},
	Array{Int(1)},
	Array{Int(1), Int(2)},
	Array{Int(2)},
	Array{String("a")},
	Array{Array{}},
}

func TestCompareKeysOrder(t *testing.T) {
	for i := range orderedKeys {
		for j := range orderedKeys {
			want := 0
			switch {
			case i < j:
				want = -1
			case i > j:
				want = 1
			}
			assert.Equal(t, want, CompareKeys(orderedKeys[i], orderedKeys[j]),
				"CompareKeys(%v, %v)", orderedKeys[i], orderedKeys[j])
		}
	}
}

func TestEncodeKeyPreservesOrder(t *testing.T) {
	for i := range orderedKeys {
		for j := range orderedKeys {
			a := MustEncodeKey(orderedKeys[i])
			b := MustEncodeKey(orderedKeys[j])
			assert.Equal(t, CompareKeys(orderedKeys[i], orderedKeys[j]), bytes.Compare(a, b),
				"encoding order of %v vs %v", orderedKeys[i], orderedKeys[j])
		}
	}
}

func TestDecodeKeyRoundTrip(t *testing.T) {
	for _, k := range orderedKeys {
		enc := MustEncodeKey(k)
		dec, rest, err := DecodeKey(enc)
		require.NoError(t, err)
		assert.Empty(t, rest)
		assert.True(t, Equal(k, dec), "round trip of %v gave %v", k, dec)
	}
}

func TestDecodeKeyComposite(t *testing.T) {
	composite := append(MustEncodeKey(String("x")), MustEncodeKey(Int(7))...)

	first, rest, err := DecodeKey(composite)
	require.NoError(t, err)
	assert.Equal(t, String("x"), first)

	second, rest, err := DecodeKey(rest)
	require.NoError(t, err)
	assert.Equal(t, Int(7), second)
	assert.Empty(t, rest)
}

func TestEncodeKeyRejectsNonKeys(t *testing.T) {
	_, err := EncodeKey(Bool(true))
	require.Error(t, err)

	_, err = EncodeKey(Array{Int(1), Object{}})
	require.Error(t, err)
}

func TestKeyRangeContains(t *testing.T) {
	tests := []struct {
		name string
		r    KeyRange
		key  Value
		want bool
	}{
		{"only hit", Only(Int(1)), Int(1), true},
		{"only miss", Only(Int(1)), Int(2), false},
		{"closed lower edge", Bound(String("A"), String("M"), false, false), String("A"), true},
		{"open lower edge", Bound(String("A"), String("M"), true, false), String("A"), false},
		{"open upper edge", Bound(String("A"), String("M"), false, true), String("M"), false},
		{"inside", Bound(String("A"), String("M"), false, false), String("B"), true},
		{"outside", Bound(String("A"), String("M"), false, false), String("N"), false},
		{"lower bound", LowerBound(Int(5), false), Int(100), true},
		{"upper bound open", UpperBound(Int(5), true), Int(5), false},
		{"unbounded", KeyRange{}, String("anything"), true},
		{"absent value", KeyRange{}, nil, false},
		{"non key", KeyRange{}, Bool(true), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Contains(tt.key))
		})
	}
}

func TestKeyRangeEqual(t *testing.T) {
	assert.True(t, Only(String("K")).Equal(Bound(String("K"), String("K"), false, false)))
	assert.False(t, Only(String("K")).Equal(Bound(String("K"), String("K"), true, false)))
	assert.False(t, LowerBound(Int(1), false).Equal(UpperBound(Int(1), false)))
	assert.True(t, KeyRange{}.Equal(KeyRange{}))
}

func TestKeyRangeValidate(t *testing.T) {
	assert.NoError(t, Only(Int(1)).Validate())
	assert.NoError(t, KeyRange{}.Validate())
	assert.Error(t, Bound(Int(2), Int(1), false, false).Validate())
	assert.Error(t, Bound(Int(1), Int(1), true, false).Validate())
	assert.Error(t, Only(Bool(true)).Validate())
}

func TestKeyRangeString(t *testing.T) {
	assert.Equal(t, `["A", "M")`, Bound(String("A"), String("M"), false, true).String())
	assert.Equal(t, `(5, +inf)`, LowerBound(Int(5), true).String())
	assert.Equal(t, `(-inf, 5]`, UpperBound(Int(5), false).String())
}

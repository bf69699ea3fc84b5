package ir

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Key type tags used by EncodeKey. Tags order the key types:
// Int < String < Array. 0x00 is reserved as the array terminator.
const (
	tagInt    byte = 0x10
	tagString byte = 0x20
	tagArray  byte = 0x30
)

// IsKey reports whether v may be used as a primary or index key.
// Valid keys are Int, String, and Arrays whose elements are all valid keys.
func IsKey(v Value) bool {
	switch val := v.(type) {
	case Int, String:
		return true
	case Array:
		for _, elem := range val {
			if !IsKey(elem) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// CompareKeys orders two valid keys: -1, 0 or +1.
// Ints compare numerically, strings by the bytes of their NFC form, arrays
// element by element with the shorter prefix first. Across types
// Int < String < Array. The result agrees with bytes.Compare on EncodeKey.
func CompareKeys(a, b Value) int {
	ta, tb := keyTag(a), keyTag(b)
	if ta != tb {
		if ta < tb {
			return -1
		}
		return 1
	}

	switch x := a.(type) {
	case Int:
		y := b.(Int)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case String:
		return strings.Compare(norm.NFC.String(string(x)), norm.NFC.String(string(b.(String))))
	case Array:
		y := b.(Array)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := CompareKeys(x[i], y[i]); c != 0 {
				return c
			}
		}
		switch {
		case len(x) < len(y):
			return -1
		case len(x) > len(y):
			return 1
		}
		return 0
	}
	return 0
}

func keyTag(v Value) byte {
	switch v.(type) {
	case Int:
		return tagInt
	case String:
		return tagString
	case Array:
		return tagArray
	default:
		return 0
	}
}

// EncodeKey returns an order-preserving byte encoding of a key:
// bytes.Compare(EncodeKey(a), EncodeKey(b)) == CompareKeys(a, b).
//
// Layout:
//   - Int:    0x10, 8 bytes big-endian with the sign bit flipped
//   - String: 0x20, NFC bytes with 0x00 escaped as 0x00 0xFF, then 0x00 0x00
//   - Array:  0x30, encoded elements, then 0x00
//
// Both storage adapters index on these bytes, so range scans are plain byte
// range scans.
func EncodeKey(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeKey(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustEncodeKey is like EncodeKey but panics on error.
// Use only in tests or when the key is known to be valid.
func MustEncodeKey(v Value) []byte {
	b, err := EncodeKey(v)
	if err != nil {
		panic(err)
	}
	return b
}

func encodeKey(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case Int:
		buf.WriteByte(tagInt)
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(val)^(1<<63))
		buf.Write(n[:])
	case String:
		buf.WriteByte(tagString)
		for _, c := range []byte(norm.NFC.String(string(val))) {
			buf.WriteByte(c)
			if c == 0x00 {
				buf.WriteByte(0xFF)
			}
		}
		buf.Write([]byte{0x00, 0x00})
	case Array:
		buf.WriteByte(tagArray)
		for i, elem := range val {
			if err := encodeKey(buf, elem); err != nil {
				return fmt.Errorf("key[%d]: %w", i, err)
			}
		}
		buf.WriteByte(0x00)
	default:
		return fmt.Errorf("invalid key type %T: keys must be int, string or array of keys", v)
	}
	return nil
}

// DecodeKey reverses EncodeKey. The returned remainder holds any bytes
// after the first complete key, which lets composite entries (index key
// followed by primary key) be split without separators.
func DecodeKey(data []byte) (Value, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("decode key: empty input")
	}

	switch data[0] {
	case tagInt:
		if len(data) < 9 {
			return nil, nil, fmt.Errorf("decode key: short int")
		}
		n := binary.BigEndian.Uint64(data[1:9]) ^ (1 << 63)
		return Int(int64(n)), data[9:], nil

	case tagString:
		var s []byte
		for i := 1; i < len(data); i++ {
			if data[i] != 0x00 {
				s = append(s, data[i])
				continue
			}
			if i+1 >= len(data) {
				return nil, nil, fmt.Errorf("decode key: truncated string")
			}
			switch data[i+1] {
			case 0x00:
				return String(s), data[i+2:], nil
			case 0xFF:
				s = append(s, 0x00)
				i++
			default:
				return nil, nil, fmt.Errorf("decode key: bad string escape 0x%02x", data[i+1])
			}
		}
		return nil, nil, fmt.Errorf("decode key: unterminated string")

	case tagArray:
		arr := Array{}
		rest := data[1:]
		for {
			if len(rest) == 0 {
				return nil, nil, fmt.Errorf("decode key: unterminated array")
			}
			if rest[0] == 0x00 {
				return arr, rest[1:], nil
			}
			elem, next, err := DecodeKey(rest)
			if err != nil {
				return nil, nil, err
			}
			arr = append(arr, elem)
			rest = next
		}

	default:
		return nil, nil, fmt.Errorf("decode key: unknown tag 0x%02x", data[0])
	}
}

// KeyRange is an interval over keys with independent open/closed bounds.
// A nil bound is unbounded. Two ranges are equal when all four fields are
// equal; Only(k) and Bound(k, k, false, false) are the same range.
type KeyRange struct {
	Lower     Value
	Upper     Value
	LowerOpen bool
	UpperOpen bool
}

// Only returns the range containing exactly key.
func Only(key Value) KeyRange {
	return KeyRange{Lower: key, Upper: key}
}

// Bound returns the range between lower and upper.
func Bound(lower, upper Value, lowerOpen, upperOpen bool) KeyRange {
	return KeyRange{Lower: lower, Upper: upper, LowerOpen: lowerOpen, UpperOpen: upperOpen}
}

// LowerBound returns the range of keys above lower.
func LowerBound(lower Value, open bool) KeyRange {
	return KeyRange{Lower: lower, LowerOpen: open}
}

// UpperBound returns the range of keys below upper.
func UpperBound(upper Value, open bool) KeyRange {
	return KeyRange{Upper: upper, UpperOpen: open}
}

// Validate checks that both bounds are valid keys and that the range is
// not inverted.
func (r KeyRange) Validate() error {
	if r.Lower != nil && !IsKey(r.Lower) {
		return fmt.Errorf("key range: invalid lower bound %T", r.Lower)
	}
	if r.Upper != nil && !IsKey(r.Upper) {
		return fmt.Errorf("key range: invalid upper bound %T", r.Upper)
	}
	if r.Lower != nil && r.Upper != nil {
		c := CompareKeys(r.Lower, r.Upper)
		if c > 0 || (c == 0 && (r.LowerOpen || r.UpperOpen)) {
			return fmt.Errorf("key range: lower bound is above upper bound")
		}
	}
	return nil
}

// Contains reports whether key lies in the range. Absent values and
// non-keys are never contained.
func (r KeyRange) Contains(key Value) bool {
	if !IsKey(key) {
		return false
	}
	if r.Lower != nil {
		c := CompareKeys(key, r.Lower)
		if c < 0 || (c == 0 && r.LowerOpen) {
			return false
		}
	}
	if r.Upper != nil {
		c := CompareKeys(key, r.Upper)
		if c > 0 || (c == 0 && r.UpperOpen) {
			return false
		}
	}
	return true
}

// Equal compares the four fields.
func (r KeyRange) Equal(o KeyRange) bool {
	return boundEqual(r.Lower, o.Lower) && boundEqual(r.Upper, o.Upper) &&
		r.LowerOpen == o.LowerOpen && r.UpperOpen == o.UpperOpen
}

func boundEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Equal(a, b)
}

// Object renders the range as an Object for canonical encoding.
// Unbounded sides are encoded as null.
func (r KeyRange) Object() Object {
	lower, upper := Value(Null{}), Value(Null{})
	if r.Lower != nil {
		lower = r.Lower
	}
	if r.Upper != nil {
		upper = r.Upper
	}
	return Object{
		"lower":      lower,
		"lower_open": Bool(r.LowerOpen),
		"upper":      upper,
		"upper_open": Bool(r.UpperOpen),
	}
}

// String renders the range in interval notation, e.g. [A, M).
func (r KeyRange) String() string {
	var b strings.Builder
	if r.LowerOpen || r.Lower == nil {
		b.WriteByte('(')
	} else {
		b.WriteByte('[')
	}
	if r.Lower == nil {
		b.WriteString("-inf")
	} else {
		j, _ := MarshalCanonical(r.Lower)
		b.Write(j)
	}
	b.WriteString(", ")
	if r.Upper == nil {
		b.WriteString("+inf")
	} else {
		j, _ := MarshalCanonical(r.Upper)
		b.Write(j)
	}
	if r.UpperOpen || r.Upper == nil {
		b.WriteByte(')')
	} else {
		b.WriteByte(']')
	}
	return b.String()
}

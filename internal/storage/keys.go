package storage

import (
	"bytes"
	"fmt"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/schema"
)

// ByteRange is a KeyRange compiled to ir.EncodeKey bounds. A nil bound is
// unbounded.
type ByteRange struct {
	Lower     []byte
	Upper     []byte
	LowerOpen bool
	UpperOpen bool
}

// CompileRange encodes the bounds of r. A nil r selects every key.
func CompileRange(r *ir.KeyRange) (ByteRange, error) {
	if r == nil {
		return ByteRange{}, nil
	}
	if err := r.Validate(); err != nil {
		return ByteRange{}, err
	}

	br := ByteRange{LowerOpen: r.LowerOpen, UpperOpen: r.UpperOpen}
	if r.Lower != nil {
		b, err := ir.EncodeKey(r.Lower)
		if err != nil {
			return ByteRange{}, fmt.Errorf("lower bound: %w", err)
		}
		br.Lower = b
	}
	if r.Upper != nil {
		b, err := ir.EncodeKey(r.Upper)
		if err != nil {
			return ByteRange{}, fmt.Errorf("upper bound: %w", err)
		}
		br.Upper = b
	}
	return br, nil
}

// AboveLower reports whether enc satisfies the lower bound.
func (br ByteRange) AboveLower(enc []byte) bool {
	if br.Lower == nil {
		return true
	}
	c := bytes.Compare(enc, br.Lower)
	return c > 0 || (c == 0 && !br.LowerOpen)
}

// BelowUpper reports whether enc satisfies the upper bound.
func (br ByteRange) BelowUpper(enc []byte) bool {
	if br.Upper == nil {
		return true
	}
	c := bytes.Compare(enc, br.Upper)
	return c < 0 || (c == 0 && !br.UpperOpen)
}

// Contains reports whether enc lies in the range.
func (br ByteRange) Contains(enc []byte) bool {
	return br.AboveLower(enc) && br.BelowUpper(enc)
}

// IndexKeys derives the index key of rec for every index of st. Indexes
// whose key path does not resolve to a valid key are omitted.
func IndexKeys(st *schema.Store, rec ir.Object) map[string]ir.Value {
	out := make(map[string]ir.Value, len(st.Indexes))
	for _, ix := range st.Indexes {
		if k, ok := ix.KeyOf(rec); ok {
			out[ix.Name] = k
		}
	}
	return out
}

// CheckKey validates a primary key argument.
func CheckKey(store string, key ir.Value) error {
	if !ir.IsKey(key) {
		return &Error{
			Code:    CodeMissingKey,
			Message: fmt.Sprintf("invalid key type %T", key),
			Store:   store,
		}
	}
	return nil
}

// CheckRange validates a range argument. Invalid ranges are reported as
// TRANSPORT failures with no underlying driver error; they can only come
// from programming errors since handles validate ranges up front.
func CheckRange(store string, r *ir.KeyRange) (ByteRange, error) {
	br, err := CompileRange(r)
	if err != nil {
		return ByteRange{}, &Error{Code: CodeTransport, Message: "invalid key range", Store: store, Err: err}
	}
	return br, nil
}

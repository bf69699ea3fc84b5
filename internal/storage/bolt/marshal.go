package bolt

import (
	"fmt"

	"github.com/roach88/livekv/internal/ir"
)

// marshalRecord serializes a record to canonical JSON.
func marshalRecord(rec ir.Object) ([]byte, error) {
	if rec == nil {
		rec = ir.Object{}
	}
	data, err := ir.MarshalCanonical(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

// unmarshalRecord parses a stored record. The result never aliases data,
// which bbolt only keeps valid for the life of the transaction.
func unmarshalRecord(data []byte) (ir.Object, error) {
	v, err := ir.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("unmarshal record: expected object, got %T", v)
	}
	return obj, nil
}

// decodeKey decodes a whole encoded primary key.
func decodeKey(data []byte) (ir.Value, error) {
	key, rest, err := ir.DecodeKey(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode key: %d trailing bytes", len(rest))
	}
	return key, nil
}

// splitEntry splits an index entry into its index key and primary key
// bytes.
func splitEntry(entry []byte) (ikey, pk []byte, err error) {
	_, rest, err := ir.DecodeKey(entry)
	if err != nil {
		return nil, nil, fmt.Errorf("split index entry: %w", err)
	}
	return entry[:len(entry)-len(rest)], rest, nil
}

package sqlite

import (
	"fmt"

	"github.com/roach88/livekv/internal/ir"
)

// marshalRecord serializes a record to canonical JSON for the value column.
func marshalRecord(rec ir.Object) (string, error) {
	if rec == nil {
		rec = ir.Object{}
	}
	data, err := ir.MarshalCanonical(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return string(data), nil
}

// unmarshalRecord parses the value column.
func unmarshalRecord(data string) (ir.Object, error) {
	v, err := ir.ParseJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("unmarshal record: expected object, got %T", v)
	}
	return obj, nil
}

// marshalKey renders a key for the key_json column.
func marshalKey(key ir.Value) (string, error) {
	data, err := ir.MarshalCanonical(key)
	if err != nil {
		return "", fmt.Errorf("marshal key: %w", err)
	}
	return string(data), nil
}

// unmarshalKey decodes a key column.
func unmarshalKey(data []byte) (ir.Value, error) {
	key, rest, err := ir.DecodeKey(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode key: %d trailing bytes", len(rest))
	}
	return key, nil
}

package ir

import "strings"

// Lookup resolves a dotted key path ("id", "meta.tag") against a record.
// Returns false when any segment is missing or crosses a non-object.
func Lookup(obj Object, path string) (Value, bool) {
	if path == "" {
		return nil, false
	}
	var cur Value = obj
	for _, seg := range strings.Split(path, ".") {
		o, ok := cur.(Object)
		if !ok {
			return nil, false
		}
		next, exists := o[seg]
		if !exists {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// LookupKey is Lookup restricted to values usable as keys.
func LookupKey(obj Object, path string) (Value, bool) {
	v, ok := Lookup(obj, path)
	if !ok || !IsKey(v) {
		return nil, false
	}
	return v, true
}

// WithPath returns a copy of obj with value stored at the dotted path,
// creating intermediate objects as needed. obj itself is not modified.
func WithPath(obj Object, path string, value Value) Object {
	segs := strings.Split(path, ".")
	out := obj.Clone()
	if out == nil {
		out = Object{}
	}
	cur := out
	for _, seg := range segs[:len(segs)-1] {
		child, ok := cur[seg].(Object)
		if !ok {
			child = Object{}
		}
		cur[seg] = child
		cur = child
	}
	cur[segs[len(segs)-1]] = value
	return out
}

// Merge returns the shallow merge {...base, ...patch}: fields of patch
// replace fields of base, fields absent from patch are kept.
func Merge(base, patch Object) Object {
	out := make(Object, len(base)+len(patch))
	for k, v := range base {
		out[k] = Clone(v)
	}
	for k, v := range patch {
		out[k] = Clone(v)
	}
	return out
}

// Package ir provides the value model shared by every livekv package.
//
// Records, keys, key ranges and query parameters are all expressed with the
// sealed Value interface defined here. The package imports nothing internal,
// so storage adapters, the mutation pipeline and the live view engine can all
// depend on it without cycles.
//
// Key design constraints:
//   - NO float types anywhere - numbers are int64 (Int)
//   - Object keys are serialized in RFC 8785 order
//   - Strings are NFC normalized at every serialization boundary
//     (canonical JSON, key encoding), so "é" composed and decomposed are
//     the same key
//   - Keys are Int, String or Array-of-keys; ordering is Int < String < Array
package ir

// Package bolt implements storage.Adapter on a bbolt file.
//
// Each store owns a top-level bucket holding two nested buckets:
//
//	<store>/records         ir.EncodeKey(pk) -> canonical JSON record
//	<store>/idx/<index>     ir.EncodeKey(ikey) || ir.EncodeKey(pk) -> empty
//
// Index entries sort by index key, then primary key, because the encoding is
// order preserving and self-delimiting. The auto-increment counter is the
// store bucket's own sequence, so it survives Clear.
package bolt

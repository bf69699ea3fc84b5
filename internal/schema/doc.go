// Package schema defines stores and indexes and compiles them from CUE.
//
// A schema file declares every store together with its key path,
// auto-increment flag and secondary indexes:
//
//	store: items: {
//		key_path: "id"
//		index: tag: { key_path: "tag" }
//	}
//
// Schemas are immutable once built. Storage adapters create their buckets
// or tables from a *Schema, and the query layer uses it to resolve index
// key paths when computing index deltas.
package schema

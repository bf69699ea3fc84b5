// Package storage defines the Store Adapter contract consumed by the
// mutation pipeline and the live view engine, together with the storage
// error taxonomy.
//
// An Adapter owns a fixed schema.Schema and exposes one transaction per
// call: View for reads and Update for read-write work. Inside a
// transaction, a Reader or Writer is bound to exactly one store. Keys are
// ir.Value keys (see ir.IsKey) and records are ir.Object values; callers
// always receive copies.
//
// Two adapters are provided: storage/sqlite (database/sql over
// mattn/go-sqlite3) and storage/bolt (go.etcd.io/bbolt). Both index on
// ir.EncodeKey bytes, so range scans are byte range scans and results are
// ordered by ir.CompareKeys.
package storage

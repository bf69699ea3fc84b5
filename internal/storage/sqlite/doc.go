// Package sqlite implements storage.Adapter on SQLite.
//
// Every store shares three tables:
//   - records: one row per (store, key), key as ir.EncodeKey bytes
//   - index_entries: one row per (store, index, index key, primary key)
//   - sequences: the auto-increment counter of each store
//
// Keys are compared as BLOBs, which SQLite orders with memcmp, so the
// byte order of ir.EncodeKey is the key order. Every query carries an
// explicit ORDER BY; results never depend on table layout. Records are
// stored as RFC 8785 canonical JSON text.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout: Wait for locks (default 5 seconds)
//   - foreign_keys=ON: Index entries cascade with their records
package sqlite

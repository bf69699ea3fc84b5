package storage

import (
	"context"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/schema"
)

// Adapter is a transactional keyed record store with named indexes.
//
// View and Update run fn inside one transaction bound to store. A non-nil
// error from fn aborts the transaction. Both return a *Error with code
// NOT_FOUND when store is not defined by the schema.
type Adapter interface {
	Schema() *schema.Schema
	View(ctx context.Context, store string, fn func(Reader) error) error
	Update(ctx context.Context, store string, fn func(Writer) error) error
	Close() error
}

// Reader is the read surface of a store. A nil range selects every key.
// Results are ordered by primary key.
type Reader interface {
	Get(key ir.Value) (ir.Object, bool, error)
	GetAll(r *ir.KeyRange) ([]ir.Object, error)
	GetAllKeys(r *ir.KeyRange) ([]ir.Value, error)
	Count(r *ir.KeyRange) (int64, error)

	// Scan visits records in key order until fn returns an error.
	// ErrStopScan ends the scan without failing it.
	Scan(r *ir.KeyRange, fn func(key ir.Value, rec ir.Object) error) error

	// Index returns a reader over the named index, or a NOT_FOUND error.
	Index(name string) (IndexReader, error)
}

// IndexReader reads a store through a secondary index. Ranges apply to
// index keys; results are ordered by index key, then primary key.
type IndexReader interface {
	// Get returns the first record whose index key is in range.
	Get(r *ir.KeyRange) (ir.Object, bool, error)
	GetAll(r *ir.KeyRange) ([]ir.Object, error)

	// GetAllKeys returns the primary keys of records in range.
	GetAllKeys(r *ir.KeyRange) ([]ir.Value, error)

	// GetKey returns the primary key of the first record in range.
	GetKey(r *ir.KeyRange) (ir.Value, bool, error)
	Count(r *ir.KeyRange) (int64, error)
}

// Writer is the read-write surface of a store.
type Writer interface {
	Reader

	// Put inserts or replaces the record at key.
	Put(key ir.Value, rec ir.Object) error

	// Add inserts the record at key, failing with CONSTRAINT when the key
	// exists.
	Add(key ir.Value, rec ir.Object) error

	// Delete removes the record at key. Deleting a missing key is not an
	// error.
	Delete(key ir.Value) error

	// Clear removes every record and index entry of the store.
	Clear() error

	// NextKey draws the next auto-increment key. Sequences start at 1 and
	// never reuse a value, including after Clear.
	NextKey() (ir.Value, error)
}

// ErrStopScan may be returned by a Scan callback to end the scan early.
var ErrStopScan = stopScan{}

type stopScan struct{}

func (stopScan) Error() string { return "stop scan" }

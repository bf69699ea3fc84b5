package bolt

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/roach88/livekv/internal/schema"
	"github.com/roach88/livekv/internal/storage"
)

var (
	recordsBucket = []byte("records")
	indexBucket   = []byte("idx")
)

// Adapter is a storage.Adapter backed by a bbolt database file.
type Adapter struct {
	bolt    *bbolt.DB
	schema  *schema.Schema
	timeout time.Duration
}

var _ storage.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets how long Open waits for the file lock.
//
// Default: 1 second
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.timeout = d
	}
}

// Open opens or creates the database at path and creates the buckets of
// every store in s.
func Open(path string, s *schema.Schema, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		schema:  s,
		timeout: time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: a.timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, st := range s.Stores() {
			b, err := tx.CreateBucketIfNotExists([]byte(st.Name))
			if err != nil {
				return fmt.Errorf("create bucket %q: %w", st.Name, err)
			}
			if err := ensureLayout(b, &st); err != nil {
				return fmt.Errorf("store %q: %w", st.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	a.bolt = db
	return a, nil
}

// ensureLayout creates the nested buckets of a store.
func ensureLayout(b *bbolt.Bucket, st *schema.Store) error {
	if _, err := b.CreateBucketIfNotExists(recordsBucket); err != nil {
		return err
	}
	idx, err := b.CreateBucketIfNotExists(indexBucket)
	if err != nil {
		return err
	}
	for _, ix := range st.Indexes {
		if _, err := idx.CreateBucketIfNotExists([]byte(ix.Name)); err != nil {
			return err
		}
	}
	return nil
}

// Schema returns the schema the adapter was opened with.
func (a *Adapter) Schema() *schema.Schema {
	return a.schema
}

// Close closes the database. Any view or update call will result in an
// error after this function is called.
func (a *Adapter) Close() error {
	if a.bolt == nil {
		return nil
	}
	return a.bolt.Close()
}

// View opens a read-only transaction on the store's bucket.
func (a *Adapter) View(ctx context.Context, store string, fn func(storage.Reader) error) error {
	st, ok := a.schema.Store(store)
	if !ok {
		return storage.NewNotFoundError(store, "")
	}
	if err := ctx.Err(); err != nil {
		return storage.NewTransportError(store, "begin", err)
	}

	var fnErr error
	err := a.bolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(store))
		if b == nil {
			return fmt.Errorf("bucket %q not found", store)
		}
		fnErr = fn(&txn{bucket: b, store: st})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return storage.Classify(store, "view", err)
}

// Update opens a read-write transaction on the store's bucket. Errors
// returned by fn roll the transaction back and are returned unchanged.
func (a *Adapter) Update(ctx context.Context, store string, fn func(storage.Writer) error) error {
	st, ok := a.schema.Store(store)
	if !ok {
		return storage.NewNotFoundError(store, "")
	}
	if err := ctx.Err(); err != nil {
		return storage.NewTransportError(store, "begin", err)
	}

	var fnErr error
	err := a.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(store))
		if b == nil {
			return fmt.Errorf("bucket %q not found", store)
		}
		fnErr = fn(&txn{bucket: b, store: st})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return storage.Classify(store, "update", err)
}

package bolt

import (
	"bytes"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/schema"
	"github.com/roach88/livekv/internal/storage"
)

// txn binds one bbolt transaction to one store bucket.
type txn struct {
	bucket *bbolt.Bucket
	store  *schema.Store
}

var _ storage.Writer = (*txn)(nil)

func (t *txn) fail(op string, err error) error {
	return storage.NewTransportError(t.store.Name, op, err)
}

func (t *txn) records() *bbolt.Bucket {
	return t.bucket.Bucket(recordsBucket)
}

func (t *txn) indexEntries(name string) *bbolt.Bucket {
	idx := t.bucket.Bucket(indexBucket)
	if idx == nil {
		return nil
	}
	return idx.Bucket([]byte(name))
}

func (t *txn) Get(key ir.Value) (ir.Object, bool, error) {
	if err := storage.CheckKey(t.store.Name, key); err != nil {
		return nil, false, err
	}
	return t.getEncoded(ir.MustEncodeKey(key))
}

func (t *txn) getEncoded(enc []byte) (ir.Object, bool, error) {
	data := t.records().Get(enc)
	if data == nil {
		return nil, false, nil
	}
	rec, err := unmarshalRecord(data)
	if err != nil {
		return nil, false, t.fail("get", err)
	}
	return rec, true, nil
}

func (t *txn) GetAll(r *ir.KeyRange) ([]ir.Object, error) {
	recs := []ir.Object{}
	err := t.Scan(r, func(_ ir.Value, rec ir.Object) error {
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (t *txn) GetAllKeys(r *ir.KeyRange) ([]ir.Value, error) {
	keys := []ir.Value{}
	err := t.scanRaw(r, func(k, _ []byte) error {
		key, err := decodeKey(k)
		if err != nil {
			return t.fail("get all keys", err)
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (t *txn) Count(r *ir.KeyRange) (int64, error) {
	var n int64
	err := t.scanRaw(r, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

func (t *txn) Scan(r *ir.KeyRange, fn func(key ir.Value, rec ir.Object) error) error {
	err := t.scanRaw(r, func(k, v []byte) error {
		key, err := decodeKey(k)
		if err != nil {
			return t.fail("scan", err)
		}
		rec, err := unmarshalRecord(v)
		if err != nil {
			return t.fail("scan", err)
		}
		return fn(key, rec)
	})
	if errors.Is(err, storage.ErrStopScan) {
		return nil
	}
	return err
}

// scanRaw walks the records bucket over br in key order.
func (t *txn) scanRaw(r *ir.KeyRange, fn func(k, v []byte) error) error {
	br, err := storage.CheckRange(t.store.Name, r)
	if err != nil {
		return err
	}

	c := t.records().Cursor()
	var k, v []byte
	if br.Lower != nil {
		k, v = c.Seek(br.Lower)
	} else {
		k, v = c.First()
	}
	for ; k != nil; k, v = c.Next() {
		if !br.AboveLower(k) {
			continue
		}
		if !br.BelowUpper(k) {
			break
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) Index(name string) (storage.IndexReader, error) {
	ix, ok := t.store.Index(name)
	if !ok {
		return nil, storage.NewNotFoundError(t.store.Name, name)
	}
	entries := t.indexEntries(name)
	if entries == nil {
		return nil, t.fail("index", fmt.Errorf("bucket for index %q not found", name))
	}
	return &indexTxn{txn: t, index: ix, entries: entries}, nil
}

func (t *txn) Put(key ir.Value, rec ir.Object) error {
	if err := storage.CheckKey(t.store.Name, key); err != nil {
		return err
	}
	enc := ir.MustEncodeKey(key)

	indexKeys := storage.IndexKeys(t.store, rec)
	if err := t.checkUnique(enc, indexKeys); err != nil {
		return err
	}

	if err := t.removeEntries(enc); err != nil {
		return err
	}

	data, err := marshalRecord(rec)
	if err != nil {
		return t.fail("put", err)
	}
	if err := t.records().Put(enc, data); err != nil {
		return t.fail("put", err)
	}

	for name, ikey := range indexKeys {
		entry := append(ir.MustEncodeKey(ikey), enc...)
		if err := t.indexEntries(name).Put(entry, []byte{}); err != nil {
			return t.fail("put index entry", err)
		}
	}
	return nil
}

// removeEntries drops the index entries of the record currently stored at
// enc, if any.
func (t *txn) removeEntries(enc []byte) error {
	old, exists, err := t.getEncoded(enc)
	if err != nil || !exists {
		return err
	}
	for name, ikey := range storage.IndexKeys(t.store, old) {
		entry := append(ir.MustEncodeKey(ikey), enc...)
		if err := t.indexEntries(name).Delete(entry); err != nil {
			return t.fail("delete index entry", err)
		}
	}
	return nil
}

// checkUnique fails when a unique index key is already held by another
// primary key.
func (t *txn) checkUnique(enc []byte, indexKeys map[string]ir.Value) error {
	for _, ix := range t.store.Indexes {
		ikey, ok := indexKeys[ix.Name]
		if !ix.Unique || !ok {
			continue
		}
		prefix := ir.MustEncodeKey(ikey)
		c := t.indexEntries(ix.Name).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			_, pk, err := splitEntry(k)
			if err != nil {
				return t.fail("check unique", err)
			}
			if !bytes.Equal(pk, enc) {
				return storage.NewConstraintError(t.store.Name, ix.Name,
					fmt.Sprintf("unique index %q already holds this key", ix.Name))
			}
		}
	}
	return nil
}

func (t *txn) Add(key ir.Value, rec ir.Object) error {
	if err := storage.CheckKey(t.store.Name, key); err != nil {
		return err
	}
	if t.records().Get(ir.MustEncodeKey(key)) != nil {
		return storage.NewConstraintError(t.store.Name, "", "a record with this key already exists")
	}
	return t.Put(key, rec)
}

func (t *txn) Delete(key ir.Value) error {
	if err := storage.CheckKey(t.store.Name, key); err != nil {
		return err
	}
	enc := ir.MustEncodeKey(key)
	if err := t.removeEntries(enc); err != nil {
		return err
	}
	if err := t.records().Delete(enc); err != nil {
		return t.fail("delete", err)
	}
	return nil
}

// Clear drops and recreates the nested buckets. The store bucket itself,
// and with it the key sequence, is kept.
func (t *txn) Clear() error {
	if err := t.bucket.DeleteBucket(recordsBucket); err != nil {
		return t.fail("clear", err)
	}
	if err := t.bucket.DeleteBucket(indexBucket); err != nil {
		return t.fail("clear", err)
	}
	if err := ensureLayout(t.bucket, t.store); err != nil {
		return t.fail("clear", err)
	}
	return nil
}

func (t *txn) NextKey() (ir.Value, error) {
	seq, err := t.bucket.NextSequence()
	if err != nil {
		return nil, t.fail("next key", err)
	}
	return ir.Int(int64(seq)), nil
}

// indexTxn reads a store through one of its indexes.
type indexTxn struct {
	*txn
	index   schema.Index
	entries *bbolt.Bucket
}

var _ storage.IndexReader = (*indexTxn)(nil)

func (x *indexTxn) fail(op string, err error) error {
	return &storage.Error{
		Code:    storage.CodeTransport,
		Message: op,
		Store:   x.store.Name,
		Index:   x.index.Name,
		Err:     err,
	}
}

// scan visits (primary key bytes) of entries whose index key is in r,
// ordered by index key then primary key, until fn returns false.
func (x *indexTxn) scan(r *ir.KeyRange, fn func(pk []byte) (bool, error)) error {
	br, err := storage.CheckRange(x.store.Name, r)
	if err != nil {
		return err
	}

	c := x.entries.Cursor()
	var k []byte
	if br.Lower != nil {
		k, _ = c.Seek(br.Lower)
	} else {
		k, _ = c.First()
	}
	for ; k != nil; k, _ = c.Next() {
		ikey, pk, err := splitEntry(k)
		if err != nil {
			return x.fail("index scan", err)
		}
		if !br.AboveLower(ikey) {
			continue
		}
		if !br.BelowUpper(ikey) {
			break
		}
		more, err := fn(pk)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return nil
}

func (x *indexTxn) Get(r *ir.KeyRange) (ir.Object, bool, error) {
	recs, err := x.getAll(r, 1)
	if err != nil || len(recs) == 0 {
		return nil, false, err
	}
	return recs[0], true, nil
}

func (x *indexTxn) GetAll(r *ir.KeyRange) ([]ir.Object, error) {
	return x.getAll(r, 0)
}

func (x *indexTxn) getAll(r *ir.KeyRange, limit int) ([]ir.Object, error) {
	recs := []ir.Object{}
	err := x.scan(r, func(pk []byte) (bool, error) {
		rec, ok, err := x.getEncoded(pk)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, x.fail("index get all", fmt.Errorf("dangling index entry"))
		}
		recs = append(recs, rec)
		return limit == 0 || len(recs) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (x *indexTxn) GetAllKeys(r *ir.KeyRange) ([]ir.Value, error) {
	return x.getAllKeys(r, 0)
}

func (x *indexTxn) getAllKeys(r *ir.KeyRange, limit int) ([]ir.Value, error) {
	keys := []ir.Value{}
	err := x.scan(r, func(pk []byte) (bool, error) {
		key, err := decodeKey(pk)
		if err != nil {
			return false, x.fail("index get all keys", err)
		}
		keys = append(keys, key)
		return limit == 0 || len(keys) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (x *indexTxn) GetKey(r *ir.KeyRange) (ir.Value, bool, error) {
	keys, err := x.getAllKeys(r, 1)
	if err != nil || len(keys) == 0 {
		return nil, false, err
	}
	return keys[0], true, nil
}

func (x *indexTxn) Count(r *ir.KeyRange) (int64, error) {
	var n int64
	err := x.scan(r, func([]byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/schema"
	"github.com/roach88/livekv/internal/storage"
)

// txn binds one SQL transaction to one store.
type txn struct {
	ctx   context.Context
	tx    *sql.Tx
	store *schema.Store
}

var _ storage.Writer = (*txn)(nil)

func (t *txn) fail(op string, err error) error {
	return storage.NewTransportError(t.store.Name, op, err)
}

func (t *txn) Get(key ir.Value) (ir.Object, bool, error) {
	if err := storage.CheckKey(t.store.Name, key); err != nil {
		return nil, false, err
	}

	var value string
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT value FROM records
		WHERE store = ? AND key = ?
	`, t.store.Name, ir.MustEncodeKey(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, t.fail("get", err)
	}

	rec, err := unmarshalRecord(value)
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
	br, err := storage.CheckRange(t.store.Name, r)
	if err != nil {
		return nil, err
	}
	clause, params := rangeClause("key", br)

	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT key FROM records
		WHERE store = ?`+clause+`
		ORDER BY key ASC
	`, append([]any{t.store.Name}, params...)...)
	if err != nil {
		return nil, t.fail("get all keys", err)
	}
	return scanKeys(rows, t.fail)
}

func (t *txn) Count(r *ir.KeyRange) (int64, error) {
	br, err := storage.CheckRange(t.store.Name, r)
	if err != nil {
		return 0, err
	}
	clause, params := rangeClause("key", br)

	var n int64
	err = t.tx.QueryRowContext(t.ctx, `
		SELECT COUNT(*) FROM records
		WHERE store = ?`+clause,
		append([]any{t.store.Name}, params...)...).Scan(&n)
	if err != nil {
		return 0, t.fail("count", err)
	}
	return n, nil
}

func (t *txn) Scan(r *ir.KeyRange, fn func(key ir.Value, rec ir.Object) error) error {
	br, err := storage.CheckRange(t.store.Name, r)
	if err != nil {
		return err
	}
	clause, params := rangeClause("key", br)

	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT key, value FROM records
		WHERE store = ?`+clause+`
		ORDER BY key ASC
	`, append([]any{t.store.Name}, params...)...)
	if err != nil {
		return t.fail("scan", err)
	}
	defer rows.Close()

	for rows.Next() {
		var keyBytes []byte
		var value string
		if err := rows.Scan(&keyBytes, &value); err != nil {
			return t.fail("scan", err)
		}
		key, err := unmarshalKey(keyBytes)
		if err != nil {
			return t.fail("scan", err)
		}
		rec, err := unmarshalRecord(value)
		if err != nil {
			return t.fail("scan", err)
		}
		if err := fn(key, rec); err != nil {
			if errors.Is(err, storage.ErrStopScan) {
				return nil
			}
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return t.fail("scan", err)
	}
	return nil
}

func (t *txn) Index(name string) (storage.IndexReader, error) {
	ix, ok := t.store.Index(name)
	if !ok {
		return nil, storage.NewNotFoundError(t.store.Name, name)
	}
	return &indexTxn{txn: t, index: ix}, nil
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

	value, err := marshalRecord(rec)
	if err != nil {
		return t.fail("put", err)
	}
	keyJSON, err := marshalKey(key)
	if err != nil {
		return t.fail("put", err)
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO records (store, key, key_json, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(store, key) DO UPDATE SET value = excluded.value
	`, t.store.Name, enc, keyJSON, value)
	if err != nil {
		return t.fail("put", err)
	}

	if _, err := t.tx.ExecContext(t.ctx, `
		DELETE FROM index_entries WHERE store = ? AND key = ?
	`, t.store.Name, enc); err != nil {
		return t.fail("put", err)
	}

	for _, ix := range t.store.Indexes {
		ikey, ok := indexKeys[ix.Name]
		if !ok {
			continue
		}
		if _, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO index_entries (store, index_name, ikey, key)
			VALUES (?, ?, ?, ?)
		`, t.store.Name, ix.Name, ir.MustEncodeKey(ikey), enc); err != nil {
			return t.fail("put index entry", err)
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
		var n int64
		err := t.tx.QueryRowContext(t.ctx, `
			SELECT COUNT(*) FROM index_entries
			WHERE store = ? AND index_name = ? AND ikey = ? AND key != ?
		`, t.store.Name, ix.Name, ir.MustEncodeKey(ikey), enc).Scan(&n)
		if err != nil {
			return t.fail("check unique", err)
		}
		if n > 0 {
			return storage.NewConstraintError(t.store.Name, ix.Name,
				fmt.Sprintf("unique index %q already holds this key", ix.Name))
		}
	}
	return nil
}

func (t *txn) Add(key ir.Value, rec ir.Object) error {
	_, exists, err := t.Get(key)
	if err != nil {
		return err
	}
	if exists {
		return storage.NewConstraintError(t.store.Name, "", "a record with this key already exists")
	}
	return t.Put(key, rec)
}

func (t *txn) Delete(key ir.Value) error {
	if err := storage.CheckKey(t.store.Name, key); err != nil {
		return err
	}
	// Index entries go with the record via ON DELETE CASCADE.
	if _, err := t.tx.ExecContext(t.ctx, `
		DELETE FROM records WHERE store = ? AND key = ?
	`, t.store.Name, ir.MustEncodeKey(key)); err != nil {
		return t.fail("delete", err)
	}
	return nil
}

func (t *txn) Clear() error {
	if _, err := t.tx.ExecContext(t.ctx, `
		DELETE FROM records WHERE store = ?
	`, t.store.Name); err != nil {
		return t.fail("clear", err)
	}
	return nil
}

func (t *txn) NextKey() (ir.Value, error) {
	var next int64
	err := t.tx.QueryRowContext(t.ctx, `
		INSERT INTO sequences (store, next) VALUES (?, 1)
		ON CONFLICT(store) DO UPDATE SET next = next + 1
		RETURNING next
	`, t.store.Name).Scan(&next)
	if err != nil {
		return nil, t.fail("next key", err)
	}
	return ir.Int(next), nil
}

// indexTxn reads a store through one of its indexes.
type indexTxn struct {
	*txn
	index schema.Index
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

// query runs a SELECT of cols over the index entries in r joined with
// their records, ordered by index key then primary key.
func (x *indexTxn) query(op, cols string, r *ir.KeyRange, limit int) (*sql.Rows, error) {
	br, err := storage.CheckRange(x.store.Name, r)
	if err != nil {
		return nil, err
	}
	clause, params := rangeClause("e.ikey", br)

	q := `
		SELECT ` + cols + `
		FROM index_entries e
		JOIN records r ON r.store = e.store AND r.key = e.key
		WHERE e.store = ? AND e.index_name = ?` + clause + `
		ORDER BY e.ikey ASC, e.key ASC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := x.tx.QueryContext(x.ctx, q, append([]any{x.store.Name, x.index.Name}, params...)...)
	if err != nil {
		return nil, x.fail(op, err)
	}
	return rows, nil
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
	rows, err := x.query("index get all", "r.value", r, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []ir.Object{}
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, x.fail("index get all", err)
		}
		rec, err := unmarshalRecord(value)
		if err != nil {
			return nil, x.fail("index get all", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, x.fail("index get all", err)
	}
	return recs, nil
}

func (x *indexTxn) GetAllKeys(r *ir.KeyRange) ([]ir.Value, error) {
	rows, err := x.query("index get all keys", "e.key", r, 0)
	if err != nil {
		return nil, err
	}
	return scanKeys(rows, x.fail)
}

func (x *indexTxn) GetKey(r *ir.KeyRange) (ir.Value, bool, error) {
	rows, err := x.query("index get key", "e.key", r, 1)
	if err != nil {
		return nil, false, err
	}
	keys, err := scanKeys(rows, x.fail)
	if err != nil || len(keys) == 0 {
		return nil, false, err
	}
	return keys[0], true, nil
}

func (x *indexTxn) Count(r *ir.KeyRange) (int64, error) {
	br, err := storage.CheckRange(x.store.Name, r)
	if err != nil {
		return 0, err
	}
	clause, params := rangeClause("ikey", br)

	var n int64
	err = x.tx.QueryRowContext(x.ctx, `
		SELECT COUNT(*) FROM index_entries
		WHERE store = ? AND index_name = ?`+clause,
		append([]any{x.store.Name, x.index.Name}, params...)...).Scan(&n)
	if err != nil {
		return 0, x.fail("index count", err)
	}
	return n, nil
}

// scanKeys drains single-column rows of encoded keys. rows is closed.
func scanKeys(rows *sql.Rows, fail func(string, error) error) ([]ir.Value, error) {
	defer rows.Close()

	keys := []ir.Value{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fail("scan keys", err)
		}
		key, err := unmarshalKey(data)
		if err != nil {
			return nil, fail("scan keys", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("scan keys", err)
	}
	return keys, nil
}

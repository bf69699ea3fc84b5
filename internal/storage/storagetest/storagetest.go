// Package storagetest is a conformance suite run against every
// storage.Adapter implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/schema"
	"github.com/roach88/livekv/internal/storage"
)

// OpenFunc opens a fresh, empty adapter for s. Implementations register
// cleanup with t.
type OpenFunc func(t *testing.T, s *schema.Schema) storage.Adapter

// Schema is the schema every conformance test runs against.
func Schema() *schema.Schema {
	return schema.MustNew(
		schema.Store{
			Name:    "items",
			KeyPath: "id",
			Indexes: []schema.Index{
				{Name: "tag", KeyPath: "tag"},
				{Name: "sku", KeyPath: "sku", Unique: true},
			},
		},
		schema.Store{Name: "log", AutoIncrement: true},
	)
}

// Run executes the conformance suite.
func Run(t *testing.T, open OpenFunc) {
	tests := []struct {
		name string
		fn   func(t *testing.T, a storage.Adapter)
	}{
		{"PutGet", testPutGet},
		{"GetReturnsCopy", testGetReturnsCopy},
		{"AddConstraint", testAddConstraint},
		{"UniqueIndex", testUniqueIndex},
		{"Delete", testDelete},
		{"Clear", testClear},
		{"RangeOrder", testRangeOrder},
		{"Count", testCount},
		{"Scan", testScan},
		{"IndexReads", testIndexReads},
		{"IndexMaintenance", testIndexMaintenance},
		{"NextKey", testNextKey},
		{"NotFound", testNotFound},
		{"Rollback", testRollback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t, Schema()))
		})
	}
}

func item(id ir.Value, tag string) ir.Object {
	obj := ir.Object{"id": id}
	if tag != "" {
		obj["tag"] = ir.String(tag)
	}
	return obj
}

func put(t *testing.T, a storage.Adapter, recs ...ir.Object) {
	t.Helper()
	err := a.Update(context.Background(), "items", func(w storage.Writer) error {
		for _, rec := range recs {
			if err := w.Put(rec["id"], rec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func read(t *testing.T, a storage.Adapter, fn func(r storage.Reader) error) {
	t.Helper()
	require.NoError(t, a.View(context.Background(), "items", fn))
}

func rng(r ir.KeyRange) *ir.KeyRange { return &r }

func testPutGet(t *testing.T, a storage.Adapter) {
	put(t, a, item(ir.Int(1), "x"))

	read(t, a, func(r storage.Reader) error {
		rec, ok, err := r.Get(ir.Int(1))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, item(ir.Int(1), "x"), rec)

		_, ok, err = r.Get(ir.Int(2))
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})

	put(t, a, item(ir.Int(1), "y"))
	read(t, a, func(r storage.Reader) error {
		rec, _, err := r.Get(ir.Int(1))
		require.NoError(t, err)
		assert.Equal(t, ir.String("y"), rec["tag"])
		return nil
	})
}

func testGetReturnsCopy(t *testing.T, a storage.Adapter) {
	rec := item(ir.Int(1), "x")
	put(t, a, rec)
	rec["tag"] = ir.String("mutated")

	read(t, a, func(r storage.Reader) error {
		got, _, err := r.Get(ir.Int(1))
		require.NoError(t, err)
		assert.Equal(t, ir.String("x"), got["tag"])
		got["tag"] = ir.String("mutated")
		return nil
	})
	read(t, a, func(r storage.Reader) error {
		got, _, err := r.Get(ir.Int(1))
		require.NoError(t, err)
		assert.Equal(t, ir.String("x"), got["tag"])
		return nil
	})
}

func testAddConstraint(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	require.NoError(t, a.Update(ctx, "items", func(w storage.Writer) error {
		return w.Add(ir.Int(1), item(ir.Int(1), "x"))
	}))

	err := a.Update(ctx, "items", func(w storage.Writer) error {
		return w.Add(ir.Int(1), item(ir.Int(1), "y"))
	})
	require.Error(t, err)
	assert.True(t, storage.IsConstraint(err))

	read(t, a, func(r storage.Reader) error {
		got, _, err := r.Get(ir.Int(1))
		require.NoError(t, err)
		assert.Equal(t, ir.String("x"), got["tag"])
		return nil
	})
}

func testUniqueIndex(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	require.NoError(t, a.Update(ctx, "items", func(w storage.Writer) error {
		return w.Put(ir.Int(1), ir.Object{"id": ir.Int(1), "sku": ir.String("A-1")})
	}))

	err := a.Update(ctx, "items", func(w storage.Writer) error {
		return w.Put(ir.Int(2), ir.Object{"id": ir.Int(2), "sku": ir.String("A-1")})
	})
	require.Error(t, err)
	assert.True(t, storage.IsConstraint(err))

	// Re-putting the owner of the unique value is not a violation.
	require.NoError(t, a.Update(ctx, "items", func(w storage.Writer) error {
		return w.Put(ir.Int(1), ir.Object{"id": ir.Int(1), "sku": ir.String("A-1"), "tag": ir.String("x")})
	}))

	read(t, a, func(r storage.Reader) error {
		n, err := r.Count(nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	})
}

func testDelete(t *testing.T, a storage.Adapter) {
	put(t, a, item(ir.Int(1), "x"), item(ir.Int(2), "x"))

	require.NoError(t, a.Update(context.Background(), "items", func(w storage.Writer) error {
		if err := w.Delete(ir.Int(1)); err != nil {
			return err
		}
		return w.Delete(ir.Int(99))
	}))

	read(t, a, func(r storage.Reader) error {
		keys, err := r.GetAllKeys(nil)
		require.NoError(t, err)
		assert.Equal(t, []ir.Value{ir.Int(2)}, keys)

		ix, err := r.Index("tag")
		require.NoError(t, err)
		pks, err := ix.GetAllKeys(rng(ir.Only(ir.String("x"))))
		require.NoError(t, err)
		assert.Equal(t, []ir.Value{ir.Int(2)}, pks)
		return nil
	})
}

func testClear(t *testing.T, a storage.Adapter) {
	put(t, a, item(ir.Int(1), "x"), item(ir.Int(2), "y"))

	require.NoError(t, a.Update(context.Background(), "items", func(w storage.Writer) error {
		return w.Clear()
	}))

	read(t, a, func(r storage.Reader) error {
		all, err := r.GetAll(nil)
		require.NoError(t, err)
		assert.Empty(t, all)

		ix, err := r.Index("tag")
		require.NoError(t, err)
		n, err := ix.Count(nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
}

func testRangeOrder(t *testing.T, a storage.Adapter) {
	put(t, a,
		item(ir.String("N"), ""),
		item(ir.Array{ir.Int(1)}, ""),
		item(ir.String("B"), ""),
		item(ir.Int(10), ""),
		item(ir.Int(-3), ""),
		item(ir.String("M"), ""),
	)

	read(t, a, func(r storage.Reader) error {
		keys, err := r.GetAllKeys(nil)
		require.NoError(t, err)
		assert.Equal(t, []ir.Value{
			ir.Int(-3), ir.Int(10),
			ir.String("B"), ir.String("M"), ir.String("N"),
			ir.Array{ir.Int(1)},
		}, keys)

		keys, err = r.GetAllKeys(rng(ir.Bound(ir.String("A"), ir.String("M"), false, false)))
		require.NoError(t, err)
		assert.Equal(t, []ir.Value{ir.String("B"), ir.String("M")}, keys)

		keys, err = r.GetAllKeys(rng(ir.Bound(ir.String("B"), ir.String("N"), true, true)))
		require.NoError(t, err)
		assert.Equal(t, []ir.Value{ir.String("M")}, keys)

		recs, err := r.GetAll(rng(ir.UpperBound(ir.Int(10), true)))
		require.NoError(t, err)
		assert.Equal(t, []ir.Object{item(ir.Int(-3), "")}, recs)
		return nil
	})
}

func testCount(t *testing.T, a storage.Adapter) {
	put(t, a, item(ir.Int(1), "x"), item(ir.Int(2), "x"), item(ir.Int(3), "y"))

	read(t, a, func(r storage.Reader) error {
		n, err := r.Count(nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = r.Count(rng(ir.LowerBound(ir.Int(2), false)))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = r.Count(rng(ir.Only(ir.Int(7))))
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
}

func testScan(t *testing.T, a storage.Adapter) {
	put(t, a, item(ir.Int(1), "x"), item(ir.Int(2), "y"), item(ir.Int(3), "z"))

	read(t, a, func(r storage.Reader) error {
		var seen []ir.Value
		err := r.Scan(nil, func(key ir.Value, rec ir.Object) error {
			seen = append(seen, key)
			assert.Equal(t, key, rec["id"])
			if len(seen) == 2 {
				return storage.ErrStopScan
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []ir.Value{ir.Int(1), ir.Int(2)}, seen)

		boom := errors.New("boom")
		err = r.Scan(nil, func(ir.Value, ir.Object) error { return boom })
		assert.ErrorIs(t, err, boom)
		return nil
	})
}

func testIndexReads(t *testing.T, a storage.Adapter) {
	put(t, a,
		item(ir.Int(3), "b"),
		item(ir.Int(1), "b"),
		item(ir.Int(2), "a"),
		item(ir.Int(4), ""),
	)

	read(t, a, func(r storage.Reader) error {
		ix, err := r.Index("tag")
		require.NoError(t, err)

		pks, err := ix.GetAllKeys(nil)
		require.NoError(t, err)
		assert.Equal(t, []ir.Value{ir.Int(2), ir.Int(1), ir.Int(3)}, pks, "ordered by index key then primary key")

		recs, err := ix.GetAll(rng(ir.Only(ir.String("b"))))
		require.NoError(t, err)
		assert.Equal(t, []ir.Object{item(ir.Int(1), "b"), item(ir.Int(3), "b")}, recs)

		rec, ok, err := ix.Get(rng(ir.Only(ir.String("b"))))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, item(ir.Int(1), "b"), rec)

		pk, ok, err := ix.GetKey(rng(ir.LowerBound(ir.String("a"), true)))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ir.Int(1), pk)

		_, ok, err = ix.GetKey(rng(ir.Only(ir.String("zzz"))))
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := ix.Count(nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n, "records without a tag are not indexed")
		return nil
	})
}

func testIndexMaintenance(t *testing.T, a storage.Adapter) {
	put(t, a, item(ir.Int(1), "x"))
	put(t, a, item(ir.Int(1), "y"))

	read(t, a, func(r storage.Reader) error {
		ix, err := r.Index("tag")
		require.NoError(t, err)

		n, err := ix.Count(rng(ir.Only(ir.String("x"))))
		require.NoError(t, err)
		assert.Zero(t, n, "stale entry removed on overwrite")

		n, err = ix.Count(rng(ir.Only(ir.String("y"))))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	})
}

func testNextKey(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	var keys []ir.Value
	for i := 0; i < 2; i++ {
		require.NoError(t, a.Update(ctx, "log", func(w storage.Writer) error {
			k, err := w.NextKey()
			if err != nil {
				return err
			}
			keys = append(keys, k)
			return w.Put(k, ir.Object{"msg": ir.String("hi")})
		}))
	}
	assert.Equal(t, []ir.Value{ir.Int(1), ir.Int(2)}, keys)

	require.NoError(t, a.Update(ctx, "log", func(w storage.Writer) error {
		if err := w.Clear(); err != nil {
			return err
		}
		k, err := w.NextKey()
		if err != nil {
			return err
		}
		assert.Equal(t, ir.Int(3), k, "sequences survive clear")
		return nil
	}))
}

func testNotFound(t *testing.T, a storage.Adapter) {
	ctx := context.Background()

	err := a.View(ctx, "missing", func(storage.Reader) error { return nil })
	assert.True(t, storage.IsNotFound(err))

	err = a.Update(ctx, "missing", func(storage.Writer) error { return nil })
	assert.True(t, storage.IsNotFound(err))

	err = a.View(ctx, "items", func(r storage.Reader) error {
		_, err := r.Index("missing")
		return err
	})
	assert.True(t, storage.IsNotFound(err))
}

func testRollback(t *testing.T, a storage.Adapter) {
	boom := errors.New("boom")
	err := a.Update(context.Background(), "items", func(w storage.Writer) error {
		if err := w.Put(ir.Int(1), item(ir.Int(1), "x")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	read(t, a, func(r storage.Reader) error {
		n, err := r.Count(nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
}

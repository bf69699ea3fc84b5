package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/schema"
	"github.com/roach88/livekv/internal/storage"
	"github.com/roach88/livekv/internal/storage/storagetest"
)

func openTestAdapter(t *testing.T, s *schema.Schema) *Adapter {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "test.db"), s)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, s *schema.Schema) storage.Adapter {
		return openTestAdapter(t, s)
	})
}

func TestOpen_CreatesLayout(t *testing.T) {
	a := openTestAdapter(t, storagetest.Schema())

	err := a.bolt.View(func(tx *bbolt.Tx) error {
		items := tx.Bucket([]byte("items"))
		require.NotNil(t, items)
		require.NotNil(t, items.Bucket(recordsBucket))
		require.NotNil(t, items.Bucket(indexBucket).Bucket([]byte("tag")))
		require.NotNil(t, items.Bucket(indexBucket).Bucket([]byte("sku")))
		require.NotNil(t, tx.Bucket([]byte("log")))
		return nil
	})
	require.NoError(t, err)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	a, err := Open(path, storagetest.Schema())
	require.NoError(t, err)
	require.NoError(t, a.Update(context.Background(), "items", func(w storage.Writer) error {
		return w.Put(ir.Int(1), ir.Object{"id": ir.Int(1), "tag": ir.String("x")})
	}))
	require.NoError(t, a.Close())

	a, err = Open(path, storagetest.Schema(), WithTimeout(100*time.Millisecond))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.View(context.Background(), "items", func(r storage.Reader) error {
		ix, err := r.Index("tag")
		require.NoError(t, err)
		keys, err := ix.GetAllKeys(nil)
		require.NoError(t, err)
		require.Equal(t, []ir.Value{ir.Int(1)}, keys)
		return nil
	}))
}

func TestOpen_LockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	a, err := Open(path, storagetest.Schema())
	require.NoError(t, err)
	defer a.Close()

	_, err = Open(path, storagetest.Schema(), WithTimeout(50*time.Millisecond))
	require.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	a := openTestAdapter(t, storagetest.Schema())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.View(ctx, "items", func(storage.Reader) error { return nil })
	require.True(t, storage.IsTransport(err))

	err = a.Update(ctx, "items", func(storage.Writer) error { return nil })
	require.True(t, storage.IsTransport(err))
}

func TestSplitEntry(t *testing.T) {
	ikey := ir.MustEncodeKey(ir.String("x"))
	pk := ir.MustEncodeKey(ir.Array{ir.Int(1), ir.String("a")})

	gotIkey, gotPK, err := splitEntry(append(append([]byte{}, ikey...), pk...))
	require.NoError(t, err)
	require.Equal(t, ikey, gotIkey)
	require.Equal(t, pk, gotPK)

	_, _, err = splitEntry([]byte{0xEE})
	require.Error(t, err)
}

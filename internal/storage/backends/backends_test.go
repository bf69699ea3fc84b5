package backends

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/schema"
	"github.com/roach88/livekv/internal/storage"
)

func TestOpen(t *testing.T) {
	s := schema.MustNew(schema.Store{Name: "items", KeyPath: "id"})

	for _, name := range append([]string{""}, Names...) {
		t.Run("backend="+name, func(t *testing.T) {
			a, err := Open(name, filepath.Join(t.TempDir(), "test.db"), s)
			require.NoError(t, err)
			defer a.Close()

			err = a.Update(context.Background(), "items", func(w storage.Writer) error {
				return w.Put(ir.Int(1), ir.Object{"id": ir.Int(1)})
			})
			require.NoError(t, err)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	s := schema.MustNew(schema.Store{Name: "items", KeyPath: "id"})
	_, err := Open("mongo", filepath.Join(t.TempDir(), "test.db"), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown backend "mongo"`)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(""))
	assert.True(t, Valid(SQLite))
	assert.True(t, Valid(Bolt))
	assert.False(t, Valid("postgres"))
}

// Package testutil provides test helpers shared by package tests: adapters
// on temporary directories, a fault-injecting adapter, and the stock
// schemas used across test suites.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/roach88/livekv/internal/schema"
	"github.com/roach88/livekv/internal/storage"
	"github.com/roach88/livekv/internal/storage/bolt"
	"github.com/roach88/livekv/internal/storage/sqlite"
)

// Backend opens a fresh adapter on a temporary directory.
type Backend struct {
	Name string
	Open func(t *testing.T, s *schema.Schema) storage.Adapter
}

// Backends lists every adapter implementation, for tests that run once per
// backend.
func Backends() []Backend {
	return []Backend{
		{Name: "sqlite", Open: OpenSQLite},
		{Name: "bolt", Open: OpenBolt},
	}
}

// OpenSQLite opens a SQLite adapter in t.TempDir(). Closed on cleanup.
func OpenSQLite(t *testing.T, s *schema.Schema) storage.Adapter {
	t.Helper()
	a, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), s)
	if err != nil {
		t.Fatalf("sqlite.Open() failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// OpenBolt opens a bbolt adapter in t.TempDir(). Closed on cleanup.
func OpenBolt(t *testing.T, s *schema.Schema) storage.Adapter {
	t.Helper()
	a, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), s)
	if err != nil {
		t.Fatalf("bolt.Open() failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// ItemsSchema is the schema most tests use:
//
//	items: key_path "id", index tag (tag), index sku (sku, unique)
//	users: key_path "email"
//	log:   auto_increment, key_path "seq"
func ItemsSchema() *schema.Schema {
	return schema.MustNew(
		schema.Store{
			Name:    "items",
			KeyPath: "id",
			Indexes: []schema.Index{
				{Name: "tag", KeyPath: "tag"},
				{Name: "sku", KeyPath: "sku", Unique: true},
			},
		},
		schema.Store{Name: "users", KeyPath: "email"},
		schema.Store{Name: "log", KeyPath: "seq", AutoIncrement: true},
	)
}

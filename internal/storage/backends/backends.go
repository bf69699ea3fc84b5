// Package backends opens a storage adapter by backend name.
package backends

import (
	"fmt"

	"github.com/roach88/livekv/internal/schema"
	"github.com/roach88/livekv/internal/storage"
	"github.com/roach88/livekv/internal/storage/bolt"
	"github.com/roach88/livekv/internal/storage/sqlite"
)

// Backend names.
const (
	SQLite = "sqlite"
	Bolt   = "bolt"
)

// Names lists the supported backends. The first is the default.
var Names = []string{SQLite, Bolt}

// Valid reports whether name selects a backend. Empty selects the default.
func Valid(name string) bool {
	switch name {
	case "", SQLite, Bolt:
		return true
	}
	return false
}

// Open opens the database at path with the named backend.
func Open(name, path string, s *schema.Schema) (storage.Adapter, error) {
	switch name {
	case "", SQLite:
		a, err := sqlite.Open(path, s)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return a, nil
	case Bolt:
		a, err := bolt.Open(path, s)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt database: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want %s or %s)", name, SQLite, Bolt)
	}
}

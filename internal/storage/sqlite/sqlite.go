package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/livekv/internal/schema"
	"github.com/roach88/livekv/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index_entries(store, key) lookup index
const currentSchemaVersion = 1

// Adapter is a storage.Adapter backed by a SQLite database file.
type Adapter struct {
	db          *sql.DB
	schema      *schema.Schema
	busyTimeout time.Duration
}

var _ storage.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithBusyTimeout sets how long a connection waits on a locked database.
//
// Default: 5 seconds
func WithBusyTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.busyTimeout = d
	}
}

// Open creates or opens a SQLite database at the given path for s.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, s *schema.Schema, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		schema:      s,
		busyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// Pragmas are per connection; with one connection they apply to all
	// transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := a.applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	a.db = db
	return a, nil
}

// Schema returns the schema the adapter was opened with.
func (a *Adapter) Schema() *schema.Schema {
	return a.schema
}

// Close closes the database connection.
func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// View runs fn in a transaction that is always rolled back.
func (a *Adapter) View(ctx context.Context, store string, fn func(storage.Reader) error) error {
	st, ok := a.schema.Store(store)
	if !ok {
		return storage.NewNotFoundError(store, "")
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.NewTransportError(store, "begin", err)
	}
	defer tx.Rollback()

	return fn(&txn{ctx: ctx, tx: tx, store: st})
}

// Update runs fn in a read-write transaction and commits when fn succeeds.
// Errors returned by fn are returned unchanged.
func (a *Adapter) Update(ctx context.Context, store string, fn func(storage.Writer) error) error {
	st, ok := a.schema.Store(store)
	if !ok {
		return storage.NewNotFoundError(store, "")
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.NewTransportError(store, "begin", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(&txn{ctx: ctx, tx: tx, store: st}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storage.NewTransportError(store, "commit", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func (a *Adapter) applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", a.busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the lookup index used when a record's index entries are
// replaced on put and delete.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_index_entries_key
		ON index_entries(store, key)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (a *Adapter) verifyPragma(name, expected string) error {
	var value string
	if err := a.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

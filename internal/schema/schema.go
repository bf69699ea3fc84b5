package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/livekv/internal/ir"
)

// Index is a named secondary key derived from a record field.
type Index struct {
	Name    string `json:"name" yaml:"name"`
	KeyPath string `json:"key_path" yaml:"key_path"`
	Unique  bool   `json:"unique,omitempty" yaml:"unique,omitempty"`
}

// KeyOf returns the index key of rec. A record participates in the index
// only when the value at the key path is a valid key.
func (ix Index) KeyOf(rec ir.Object) (ir.Value, bool) {
	if rec == nil {
		return nil, false
	}
	return ir.LookupKey(rec, ix.KeyPath)
}

// Store is a named keyed record collection.
type Store struct {
	Name          string  `json:"name" yaml:"name"`
	KeyPath       string  `json:"key_path,omitempty" yaml:"key_path,omitempty"`
	AutoIncrement bool    `json:"auto_increment,omitempty" yaml:"auto_increment,omitempty"`
	Indexes       []Index `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

// Index returns the named index.
func (s *Store) Index(name string) (Index, bool) {
	for _, ix := range s.Indexes {
		if ix.Name == name {
			return ix, true
		}
	}
	return Index{}, false
}

// KeyOf returns the primary key stored in rec at the store's key path.
// Stores without a key path never carry in-line keys.
func (s *Store) KeyOf(rec ir.Object) (ir.Value, bool) {
	if s.KeyPath == "" || rec == nil {
		return nil, false
	}
	return ir.LookupKey(rec, s.KeyPath)
}

// IndexNames returns the index names in declaration order.
func (s *Store) IndexNames() []string {
	names := make([]string, len(s.Indexes))
	for i, ix := range s.Indexes {
		names[i] = ix.Name
	}
	return names
}

// Schema is the immutable set of stores a database is opened with.
// Stores are kept sorted by name so iteration is deterministic.
type Schema struct {
	stores []Store
}

// New builds a schema from store definitions and validates it.
func New(stores ...Store) (*Schema, error) {
	sorted := make([]Store, len(stores))
	for i, st := range stores {
		st.Indexes = slices.Clone(st.Indexes)
		sorted[i] = st
	}
	slices.SortFunc(sorted, func(a, b Store) int {
		return strings.Compare(a.Name, b.Name)
	})

	s := &Schema{stores: sorted}
	if errs := Validate(s); len(errs) > 0 {
		return nil, fmt.Errorf("invalid schema: %w", errs[0])
	}
	return s, nil
}

// MustNew is like New but panics on error.
// Use only in tests or when the definitions are known to be valid.
func MustNew(stores ...Store) *Schema {
	s, err := New(stores...)
	if err != nil {
		panic(err)
	}
	return s
}

// Store returns the named store.
func (s *Schema) Store(name string) (*Store, bool) {
	for i := range s.stores {
		if s.stores[i].Name == name {
			return &s.stores[i], true
		}
	}
	return nil, false
}

// Stores returns a copy of every store, sorted by name.
func (s *Schema) Stores() []Store {
	return slices.Clone(s.stores)
}

// StoreNames returns the store names, sorted.
func (s *Schema) StoreNames() []string {
	names := make([]string, len(s.stores))
	for i, st := range s.stores {
		names[i] = st.Name
	}
	return names
}

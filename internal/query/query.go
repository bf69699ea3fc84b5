package query

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/roach88/livekv/internal/ir"
)

// Kind is the read a query performs.
type Kind string

const (
	KindGet        Kind = "get"
	KindGetAll     Kind = "getAll"
	KindGetAllKeys Kind = "getAllKeys"
	KindCount      Kind = "count"
	KindGetKey     Kind = "getKey"
	KindQuery      Kind = "query"
)

// ParseKind converts a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindGet, KindGetAll, KindGetAllKeys, KindCount, KindGetKey, KindQuery:
		return k, nil
	default:
		return "", fmt.Errorf("unknown query kind %q", s)
	}
}

var filterIDs atomic.Uint64

// Filter is an opaque record predicate. Filters compare by identity: every
// NewFilter call yields a distinct filter, even for identical functions.
type Filter struct {
	id   uint64
	name string
	fn   func(ir.Object) bool
}

// NewFilter wraps fn. name only labels the filter in logs and traces.
func NewFilter(name string, fn func(ir.Object) bool) *Filter {
	return &Filter{id: filterIDs.Add(1), name: name, fn: fn}
}

// ID returns the filter's identity number.
func (f *Filter) ID() uint64 { return f.id }

// Name returns the filter's label.
func (f *Filter) Name() string { return f.name }

// Match applies the filter. Absent records never match.
func (f *Filter) Match(rec ir.Object) bool {
	if rec == nil {
		return false
	}
	return f.fn(rec)
}

// Query identifies what a live view watches. Queries are values; do not
// modify one after handing it to a view.
type Query struct {
	Store  string
	Index  string
	Range  *ir.KeyRange
	Filter *Filter
	Kind   Kind
}

// Validate checks that the fields make sense together.
func (q Query) Validate() error {
	if q.Store == "" {
		return fmt.Errorf("query: store is required")
	}
	if _, err := ParseKind(string(q.Kind)); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if q.Range != nil {
		if err := q.Range.Validate(); err != nil {
			return fmt.Errorf("query: %w", err)
		}
	}

	switch {
	case q.Kind == KindQuery && q.Filter == nil:
		return fmt.Errorf("query: kind query requires a filter")
	case q.Kind != KindQuery && q.Filter != nil:
		return fmt.Errorf("query: only kind query takes a filter")
	case q.Kind == KindQuery && (q.Index != "" || q.Range != nil):
		return fmt.Errorf("query: kind query scans the whole store")
	case q.Kind == KindGetKey && q.Index == "":
		return fmt.Errorf("query: getKey requires an index")
	}
	return nil
}

// Describe renders the fingerprint input: kind, index, range and filter
// identity. The store is implied by the cache scope.
func (q Query) Describe() ir.Object {
	desc := ir.Object{
		"kind":   ir.String(q.Kind),
		"index":  ir.Null{},
		"range":  ir.Null{},
		"filter": ir.Null{},
	}
	if q.Index != "" {
		desc["index"] = ir.String(q.Index)
	}
	if q.Range != nil {
		desc["range"] = q.Range.Object()
	}
	if q.Filter != nil {
		desc["filter"] = ir.Int(q.Filter.ID())
	}
	return desc
}

// Fingerprint returns the canonical identity of the query within its
// scope. Equal descriptions always produce equal fingerprints.
func (q Query) Fingerprint() string {
	return ir.MustQueryHash(q.Describe())
}

// String renders the query for logs, e.g. "items.tag getAllKeys [x, x]".
func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Store)
	if q.Index != "" {
		b.WriteByte('.')
		b.WriteString(q.Index)
	}
	b.WriteByte(' ')
	b.WriteString(string(q.Kind))
	if q.Range != nil {
		b.WriteByte(' ')
		b.WriteString(q.Range.String())
	}
	if q.Filter != nil {
		fmt.Fprintf(&b, " filter(%s#%d)", q.Filter.Name(), q.Filter.ID())
	}
	return b.String()
}

// OnIndex reports whether the query reads through a secondary index.
func (q Query) OnIndex() bool {
	return q.Index != ""
}

// inRange reports whether v is present and inside the query range. A nil
// range contains every present key.
func (q Query) inRange(v ir.Value) bool {
	if v == nil || !ir.IsKey(v) {
		return false
	}
	if q.Range == nil {
		return true
	}
	return q.Range.Contains(v)
}

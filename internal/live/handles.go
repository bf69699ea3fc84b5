package live

import (
	"context"
	"sync"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/mutation"
	"github.com/roach88/livekv/internal/query"
)

// StoreHandle is the query surface of one store. Handles are memoized by
// Driver.Store, and each owns the view cache for the store's primary key.
type StoreHandle struct {
	d     *Driver
	name  string
	views *cache
	errs  *hub[*mutation.WriteError]

	mu      sync.Mutex
	indexes map[string]*IndexHandle
}

func newStoreHandle(d *Driver, name string) *StoreHandle {
	return &StoreHandle{
		d:       d,
		name:    name,
		views:   newCache(name, d.newView, d.evictViews, d.metrics),
		errs:    newHub[*mutation.WriteError](),
		indexes: make(map[string]*IndexHandle),
	}
}

// Name returns the store name.
func (s *StoreHandle) Name() string { return s.name }

// Get watches the record at key.
func (s *StoreHandle) Get(key ir.Value) *View {
	return s.Only(key).Get()
}

// GetAll watches every record.
func (s *StoreHandle) GetAll() *View {
	return s.All().GetAll()
}

// GetAllKeys watches the key set.
func (s *StoreHandle) GetAllKeys() *View {
	return s.All().GetAllKeys()
}

// Count watches the record count.
func (s *StoreHandle) Count() *View {
	return s.All().Count()
}

// Only selects the single key.
func (s *StoreHandle) Only(key ir.Value) *RangeHandle {
	return s.Range(ir.Only(key))
}

// Bound selects keys between lower and upper.
func (s *StoreHandle) Bound(lower, upper ir.Value, lowerOpen, upperOpen bool) *RangeHandle {
	return s.Range(ir.Bound(lower, upper, lowerOpen, upperOpen))
}

// LowerBound selects keys above lower.
func (s *StoreHandle) LowerBound(lower ir.Value, open bool) *RangeHandle {
	return s.Range(ir.LowerBound(lower, open))
}

// UpperBound selects keys below upper.
func (s *StoreHandle) UpperBound(upper ir.Value, open bool) *RangeHandle {
	return s.Range(ir.UpperBound(upper, open))
}

// Range selects the keys in r.
func (s *StoreHandle) Range(r ir.KeyRange) *RangeHandle {
	return &RangeHandle{scope: s.views, store: s.name, rng: &r}
}

// All selects every key of the store.
func (s *StoreHandle) All() *RangeHandle {
	return &RangeHandle{scope: s.views, store: s.name}
}

// Query watches the records f accepts, in key order.
func (s *StoreHandle) Query(f *query.Filter) *View {
	return s.views.resolve(query.Query{Store: s.name, Kind: query.KindQuery, Filter: f})
}

// Index returns the handle of the named index. Unknown indexes are not an
// error here; their views fail on first read.
func (s *StoreHandle) Index(name string) *IndexHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ix, ok := s.indexes[name]; ok {
		return ix
	}
	ix := &IndexHandle{
		store: s.name,
		name:  name,
		views: newCache(s.name, s.d.newView, s.d.evictViews, s.d.metrics),
	}
	s.indexes[name] = ix
	return ix
}

// Errors streams the write failures of this store until ctx is done.
func (s *StoreHandle) Errors(ctx context.Context) <-chan *mutation.WriteError {
	return s.errs.subscribe(ctx)
}

func (s *StoreHandle) scopes() []*cache {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*cache, 0, len(s.indexes)+1)
	out = append(out, s.views)
	for _, ix := range s.indexes {
		out = append(out, ix.views)
	}
	return out
}

func (s *StoreHandle) notify(ev *mutation.Event) {
	for _, c := range s.scopes() {
		c.notify(ev)
	}
}

func (s *StoreHandle) fail(ev *mutation.Event, werr *mutation.WriteError) int {
	s.errs.publish(werr)
	if ev == nil {
		return 0
	}
	failed := 0
	for _, c := range s.scopes() {
		failed += c.probe(ev, werr)
	}
	return failed
}

// IndexHandle is the query surface of one index. Single-key methods take
// the index key and watch Only(key).
type IndexHandle struct {
	store string
	name  string
	views *cache
}

// Name returns the index name.
func (ix *IndexHandle) Name() string { return ix.name }

// Get watches the first record whose index key is key.
func (ix *IndexHandle) Get(key ir.Value) *View {
	return ix.Only(key).Get()
}

// GetAll watches the records whose index key is key.
func (ix *IndexHandle) GetAll(key ir.Value) *View {
	return ix.Only(key).GetAll()
}

// GetAllKeys watches the primary keys of records whose index key is key.
func (ix *IndexHandle) GetAllKeys(key ir.Value) *View {
	return ix.Only(key).GetAllKeys()
}

// GetKey watches the primary key of the first record whose index key is
// key.
func (ix *IndexHandle) GetKey(key ir.Value) *View {
	return ix.Only(key).GetKey()
}

// Count watches the number of records whose index key is key.
func (ix *IndexHandle) Count(key ir.Value) *View {
	return ix.Only(key).Count()
}

// All selects the whole index.
func (ix *IndexHandle) All() *RangeHandle {
	return &RangeHandle{scope: ix.views, store: ix.store, index: ix.name}
}

// Only selects one index key.
func (ix *IndexHandle) Only(key ir.Value) *RangeHandle {
	return ix.Range(ir.Only(key))
}

// Bound selects index keys between lower and upper.
func (ix *IndexHandle) Bound(lower, upper ir.Value, lowerOpen, upperOpen bool) *RangeHandle {
	return ix.Range(ir.Bound(lower, upper, lowerOpen, upperOpen))
}

// LowerBound selects index keys above lower.
func (ix *IndexHandle) LowerBound(lower ir.Value, open bool) *RangeHandle {
	return ix.Range(ir.LowerBound(lower, open))
}

// UpperBound selects index keys below upper.
func (ix *IndexHandle) UpperBound(upper ir.Value, open bool) *RangeHandle {
	return ix.Range(ir.UpperBound(upper, open))
}

// Range selects the index keys in r.
func (ix *IndexHandle) Range(r ir.KeyRange) *RangeHandle {
	return &RangeHandle{scope: ix.views, store: ix.store, index: ix.name, rng: &r}
}

// RangeHandle is a key range (or the whole key space) within a scope.
type RangeHandle struct {
	scope *cache
	store string
	index string
	rng   *ir.KeyRange
}

// View returns the view of the given kind over the range.
func (r *RangeHandle) View(kind query.Kind) *View {
	return r.scope.resolve(query.Query{Store: r.store, Index: r.index, Range: r.rng, Kind: kind})
}

// Get watches the first record in range.
func (r *RangeHandle) Get() *View { return r.View(query.KindGet) }

// GetAll watches the records in range.
func (r *RangeHandle) GetAll() *View { return r.View(query.KindGetAll) }

// GetAllKeys watches the primary keys in range.
func (r *RangeHandle) GetAllKeys() *View { return r.View(query.KindGetAllKeys) }

// GetKey watches the primary key of the first record in range. Only index
// ranges support it; on the primary key the view fails on first read.
func (r *RangeHandle) GetKey() *View { return r.View(query.KindGetKey) }

// Count watches the number of records in range.
func (r *RangeHandle) Count() *View { return r.View(query.KindCount) }

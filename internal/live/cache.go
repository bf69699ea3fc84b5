package live

import (
	"context"
	"sync"

	"github.com/roach88/livekv/internal/mutation"
	"github.com/roach88/livekv/internal/query"
)

// cache memoizes the views of one scope (a store's primary key, or one
// index) by query fingerprint. It is the only place views are created.
type cache struct {
	store   string
	newView func(q query.Query, scope *cache) *View
	evicts  bool
	metrics *Metrics

	mu    sync.Mutex
	views map[string]*View
}

func newCache(store string, newView func(query.Query, *cache) *View, evicts bool, metrics *Metrics) *cache {
	return &cache{
		store:   store,
		newView: newView,
		evicts:  evicts,
		metrics: metrics,
		views:   make(map[string]*View),
	}
}

// resolve returns the view for q, creating it on first use. It never
// fails: invalid queries fail their view on its first read.
func (c *cache) resolve(q query.Query) *View {
	fp := q.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.views[fp]; ok {
		return v
	}
	v := c.newView(q, c)
	c.views[fp] = v
	c.metrics.viewAdded(c.store)
	return v
}

// subscribe attaches a subscriber to the canonical view for v's
// fingerprint. If v was evicted and nothing replaced it, v is cached
// again.
func (c *cache) subscribe(ctx context.Context, v *View) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	canon, ok := c.views[v.fingerprint]
	if !ok {
		c.views[v.fingerprint] = v
		c.metrics.viewAdded(c.store)
		canon = v
	}
	return canon.subscribe(ctx)
}

// evict drops v if eviction is enabled and v is still idle.
func (c *cache) evict(v *View) {
	if !c.evicts {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.views[v.fingerprint] != v || !v.idle() {
		return
	}
	delete(c.views, v.fingerprint)
	c.metrics.viewEvicted(c.store)
}

// snapshot returns the cached views.
func (c *cache) snapshot() []*View {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*View, 0, len(c.views))
	for _, v := range c.views {
		out = append(out, v)
	}
	return out
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.views)
}

func (c *cache) notify(ev *mutation.Event) {
	for _, v := range c.snapshot() {
		v.notify(ev)
	}
}

func (c *cache) probe(ev *mutation.Event, werr *mutation.WriteError) int {
	failed := 0
	for _, v := range c.snapshot() {
		if v.probe(ev, werr) {
			failed++
		}
	}
	return failed
}

package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/mutation"
	"github.com/roach88/livekv/internal/query"
	"github.com/roach88/livekv/internal/storage"
)

// item is one entry of the dispatch queue: a committed event, a failed
// write, or a flush marker.
type item struct {
	event   *mutation.Event
	failure *mutation.WriteError
	flushed chan struct{}
}

// ErrStopped is returned by Flush once the dispatch queue is closed.
var ErrStopped = errors.New("live: driver stopped")

// Driver owns the adapter, the write pipeline, the dispatch loop and the
// store handles.
//
// Events reach views only while Run is running. Writes may be executed
// before Run starts; their events wait in the queue.
type Driver struct {
	adapter    storage.Adapter
	pipeline   *mutation.Pipeline
	queue      *queue[item]
	logger     *slog.Logger
	metrics    *Metrics
	evictViews bool
	ids        mutation.IDGenerator
	clock      *mutation.Clock
	errs       *hub[*mutation.WriteError]

	mu     sync.Mutex
	stores map[string]*StoreHandle
}

// New creates a driver over adapter.
func New(adapter storage.Adapter, opts ...Option) *Driver {
	d := &Driver{
		adapter: adapter,
		queue:   newQueue[item](),
		logger:  slog.Default(),
		ids:     mutation.UUIDv7Generator{},
		clock:   mutation.NewClock(),
		errs:    newHub[*mutation.WriteError](),
		stores:  make(map[string]*StoreHandle),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.pipeline = mutation.NewPipeline(adapter,
		mutation.WithClock(d.clock),
		mutation.WithIDGenerator(d.ids),
		mutation.WithLogger(d.logger),
	)
	return d
}

// Adapter returns the underlying storage adapter.
func (d *Driver) Adapter() storage.Adapter {
	return d.adapter
}

// Store returns the handle of the named store. The same handle is
// returned for every call with the same name.
func (d *Driver) Store(name string) *StoreHandle {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.stores[name]; ok {
		return s
	}
	s := newStoreHandle(d, name)
	d.stores[name] = s
	return s
}

// Errors streams every write failure until ctx is done or the driver
// stops.
func (d *Driver) Errors(ctx context.Context) <-chan *mutation.WriteError {
	return d.errs.subscribe(ctx)
}

// Execute runs req and queues its outcome for the views. The returned
// error is always a *mutation.WriteError.
func (d *Driver) Execute(ctx context.Context, req mutation.Request) (*mutation.Event, error) {
	ev, err := d.pipeline.Execute(ctx, req)
	if err != nil {
		werr, _ := mutation.AsWriteError(err)
		d.metrics.failure(werr)
		d.enqueue(item{failure: werr})
		return nil, err
	}
	d.metrics.event(ev)
	d.enqueue(item{event: ev})
	return ev, nil
}

// Apply executes every request received from reqs, each in its own
// goroutine, until reqs is closed. It waits for the started writes before
// returning. Failures are reported on the error streams only.
func (d *Driver) Apply(ctx context.Context, reqs <-chan mutation.Request) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-reqs:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = d.Execute(ctx, req)
			}()
		}
	}
}

// Flush blocks until every outcome queued before the call has been
// dispatched to the views. Reads triggered by those outcomes may still be
// in flight.
func (d *Driver) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !d.queue.Enqueue(item{flushed: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) enqueue(it item) {
	if !d.queue.Enqueue(it) {
		d.logger.Warn("driver stopped, outcome not dispatched",
			"store", it.store(),
		)
		return
	}
	d.metrics.queued(d.queue.Len())
}

// Run starts the dispatch loop. Blocks until ctx is cancelled or Stop is
// called; on return the error streams are closed.
//
// Must be called from exactly one goroutine.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info("driver starting")
	defer d.closeStreams()

	for {
		if it, ok := d.queue.TryDequeue(); ok {
			d.metrics.queued(d.queue.Len())
			d.dispatch(it)
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Info("driver stopping: context cancelled")
			d.queue.Close()
			return ctx.Err()

		case <-d.queue.Wait():
			if d.queue.Drained() {
				d.logger.Info("driver stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the dispatch queue. Run returns once the queued outcomes
// are dispatched.
func (d *Driver) Stop() {
	d.queue.Close()
}

func (d *Driver) dispatch(it item) {
	if it.flushed != nil {
		close(it.flushed)
		return
	}
	if it.failure != nil {
		d.dispatchFailure(it.failure)
		return
	}

	ev := it.event
	d.logger.Debug("dispatching event",
		"store", ev.Store,
		"kind", ev.Kind,
		"seq", ev.Seq,
		"request_id", ev.RequestID,
	)
	if s := d.lookup(ev.Store); s != nil {
		s.notify(ev)
	}
}

func (d *Driver) dispatchFailure(werr *mutation.WriteError) {
	d.errs.publish(werr)

	s := d.lookup(werr.Query.Store)
	if s == nil {
		return
	}
	failed := s.fail(werr.Probe, werr)
	d.logger.Debug("write failure routed",
		"store", werr.Query.Store,
		"request_id", werr.RequestID,
		"views_failed", failed,
	)
}

func (d *Driver) lookup(store string) *StoreHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stores[store]
}

func (d *Driver) closeStreams() {
	d.errs.close()

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.stores {
		s.errs.close()
	}
}

// newView builds a view reading through the adapter.
func (d *Driver) newView(q query.Query, scope *cache) *View {
	return newView(q, d.reader(q), scope, d.logger, d.metrics)
}

func (d *Driver) reader(q query.Query) readFunc {
	return func(ctx context.Context) (ir.Value, error) {
		if err := q.Validate(); err != nil {
			return nil, err
		}
		var out ir.Value
		err := d.adapter.View(ctx, q.Store, func(r storage.Reader) error {
			v, err := query.Read(r, q)
			out = v
			return err
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (it item) store() string {
	switch {
	case it.failure != nil:
		return it.failure.Query.Store
	case it.event != nil:
		return it.event.Store
	}
	return ""
}

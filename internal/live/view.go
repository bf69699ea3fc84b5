package live

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/mutation"
	"github.com/roach88/livekv/internal/query"
)

// State is a view's lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateReadPending
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReadPending:
		return "read_pending"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Update is one emission of a view: a result, or the error that failed
// the view. An error is always the last update of a subscription.
type Update struct {
	Value ir.Value
	Err   error
}

// readFunc runs the view's query in a fresh read transaction.
type readFunc func(ctx context.Context) (ir.Value, error)

// View is the live result of one query. Views are created by the caches
// of StoreHandle and IndexHandle; identical queries share one View.
type View struct {
	q           query.Query
	fingerprint string
	read        readFunc
	scope       *cache
	logger      *slog.Logger
	metrics     *Metrics

	mu          sync.Mutex
	state       State
	snapshot    ir.Value
	hasSnapshot bool
	lastCount   ir.Value // last emitted count, reset when subscribers leave
	err         error
	subs        []*Subscription
	reading     bool
	dirty       bool
}

func newView(q query.Query, read readFunc, scope *cache, logger *slog.Logger, metrics *Metrics) *View {
	return &View{
		q:           q,
		fingerprint: q.Fingerprint(),
		read:        read,
		scope:       scope,
		logger:      logger,
		metrics:     metrics,
	}
}

// Query returns the view's query.
func (v *View) Query() query.Query { return v.q }

// Fingerprint returns the view's cache identity.
func (v *View) Fingerprint() string { return v.fingerprint }

// State returns the current lifecycle state.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Snapshot returns a copy of the last read result, if any.
func (v *View) Snapshot() (ir.Value, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.hasSnapshot {
		return nil, false
	}
	return ir.Clone(v.snapshot), true
}

// Err returns the error that failed the view, or nil.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Subscribe attaches a subscriber. The first subscriber triggers a read;
// later subscribers receive the last snapshot immediately. Subscribing to
// a failed view yields its error and a closed subscription. The
// subscription ends when Close is called or ctx is done.
func (v *View) Subscribe(ctx context.Context) *Subscription {
	if v.scope != nil {
		return v.scope.subscribe(ctx, v)
	}
	return v.subscribe(ctx)
}

func (v *View) subscribe(ctx context.Context) *Subscription {
	v.mu.Lock()
	defer v.mu.Unlock()

	sub := newSubscription(ctx, v)
	if v.state == StateFailed {
		sub.box.put(Update{Err: v.err})
		sub.box.close()
		return sub
	}

	v.subs = append(v.subs, sub)
	if len(v.subs) == 1 {
		v.startRead()
		return sub
	}
	if v.hasSnapshot {
		sub.box.put(Update{Value: ir.Clone(v.snapshot)})
		v.metrics.emitted(v.q.Store, 1)
	}
	return sub
}

// detach removes sub. Called once per subscription.
func (v *View) detach(sub *Subscription) {
	v.mu.Lock()
	for i, s := range v.subs {
		if s == sub {
			v.subs = append(v.subs[:i], v.subs[i+1:]...)
			break
		}
	}
	if len(v.subs) == 0 {
		v.lastCount = nil
	}
	idle := v.idleLocked()
	v.mu.Unlock()

	if idle && v.scope != nil {
		v.scope.evict(v)
	}
}

// notify handles a committed event. Views without subscribers ignore
// events; a read in flight absorbs any number of relevant events into one
// follow-up read.
func (v *View) notify(ev *mutation.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == StateFailed || len(v.subs) == 0 {
		return
	}
	if !query.Relevant(v.q, ev) {
		return
	}
	v.logger.Debug("view relevant",
		"query", v.q.String(),
		"event", ev.Kind,
		"seq", ev.Seq,
	)
	v.startRead()
}

// probe handles a failed write: if the attempted mutation is relevant, the
// view fails with werr.
func (v *View) probe(ev *mutation.Event, werr *mutation.WriteError) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == StateFailed || len(v.subs) == 0 {
		return false
	}
	if !query.Relevant(v.q, ev) {
		return false
	}
	v.failLocked(werr)
	return true
}

// startRead schedules a read. Must hold v.mu.
func (v *View) startRead() {
	v.state = StateReadPending
	if v.reading {
		v.dirty = true
		return
	}
	v.reading = true
	go v.runReads()
}

// runReads reads until no relevant event arrived during the last read.
func (v *View) runReads() {
	for {
		val, err := v.read(context.Background())
		v.metrics.read(v.q.Store, err)

		v.mu.Lock()
		if v.state == StateFailed {
			v.reading = false
			v.mu.Unlock()
			return
		}
		if err != nil {
			v.logger.Error("view read failed",
				"query", v.q.String(),
				"error", err,
			)
			v.failLocked(err)
			v.reading = false
			v.mu.Unlock()
			return
		}

		v.snapshot = val
		v.hasSnapshot = true
		v.state = StateActive
		v.emitLocked(val)

		if v.dirty && len(v.subs) > 0 {
			v.dirty = false
			v.state = StateReadPending
			v.mu.Unlock()
			continue
		}
		v.dirty = false
		v.reading = false
		idle := v.idleLocked()
		v.mu.Unlock()

		if idle && v.scope != nil {
			v.scope.evict(v)
		}
		return
	}
}

// emitLocked delivers a copy of val to every subscriber. Counts equal to
// the last emitted count are dropped.
func (v *View) emitLocked(val ir.Value) {
	if len(v.subs) == 0 {
		return
	}
	if v.q.Kind == query.KindCount {
		if v.lastCount != nil && ir.Equal(v.lastCount, val) {
			v.metrics.suppress(v.q.Store)
			return
		}
		v.lastCount = val
	}
	for _, sub := range v.subs {
		sub.box.put(Update{Value: ir.Clone(val)})
	}
	v.metrics.emitted(v.q.Store, len(v.subs))
}

// failLocked moves the view to the terminal Failed state, delivering err
// to every subscriber and closing their subscriptions.
func (v *View) failLocked(err error) {
	v.state = StateFailed
	v.err = err
	for _, sub := range v.subs {
		sub.box.put(Update{Err: err})
		sub.box.close()
	}
	v.subs = nil
}

// idleLocked reports whether the view may be evicted: no subscribers, no
// read in flight, not failed.
func (v *View) idleLocked() bool {
	return len(v.subs) == 0 && !v.reading && v.state != StateFailed
}

func (v *View) idle() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.idleLocked()
}

// Subscription is one subscriber's stream of updates.
type Subscription struct {
	view *View
	box  *mailbox[Update]
}

func newSubscription(ctx context.Context, v *View) *Subscription {
	sub := &Subscription{view: v}
	sub.box = newMailbox[Update](ctx, func() { v.detach(sub) })
	return sub
}

// C yields updates in emission order. It is closed after a failure is
// delivered, after Close, or when the subscription's context is done.
func (s *Subscription) C() <-chan Update {
	return s.box.out
}

// View returns the subscribed view.
func (s *Subscription) View() *View {
	return s.view
}

// Close detaches the subscriber. Pending updates are dropped.
func (s *Subscription) Close() {
	s.box.detach()
}

package mutation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/schema"
	"github.com/roach88/livekv/internal/storage"
)

// Pipeline executes write requests. Requests are not serialized against
// each other: each Execute runs its own transaction and the adapter decides
// how concurrent transactions interleave.
//
// Thread-safety: Pipeline is safe for concurrent use.
type Pipeline struct {
	adapter storage.Adapter
	clock   *Clock
	ids     IDGenerator
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock stamping events. Default: a fresh clock.
func WithClock(c *Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// WithIDGenerator sets the request ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pipeline) {
		p.ids = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// NewPipeline creates a pipeline writing through adapter.
func NewPipeline(adapter storage.Adapter, opts ...Option) *Pipeline {
	p := &Pipeline{
		adapter: adapter,
		clock:   NewClock(),
		ids:     UUIDv7Generator{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// attempt records what a request got to before it committed or failed.
// On failure it becomes the probe event.
type attempt struct {
	key    ir.Value
	old    ir.Object
	exists bool
	next   ir.Object
}

// Execute runs req in one read-write transaction. On success the event is
// stamped and returned; on failure nothing is committed and the error is a
// *WriteError.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Event, error) {
	id := p.ids.Generate()
	st, ok := p.adapter.Schema().Store(req.Store)
	if !ok {
		return nil, p.fail(req, id, nil, storage.NewNotFoundError(req.Store, ""), attempt{})
	}
	if err := req.Validate(); err != nil {
		return nil, p.fail(req, id, st, &storage.Error{
			Code:    storage.CodeMissingKey,
			Message: err.Error(),
			Store:   req.Store,
		}, attempt{})
	}

	var (
		ev  *Event
		att attempt
	)
	err := p.adapter.Update(ctx, req.Store, func(w storage.Writer) error {
		var err error
		switch req.Op {
		case OpPut:
			ev, err = executePut(w, st, req.Data.(ir.Object), &att)
		case OpAdd:
			ev, err = executeAdd(w, st, req.Data.(ir.Object), &att)
		case OpUpdate:
			ev, err = executeUpdate(w, st, req.Data.(ir.Object), &att)
		case OpDelete:
			ev, err = executeDelete(w, st, req.Data, &att)
		case OpClear:
			ev, err = executeClear(w)
		default:
			err = fmt.Errorf("unknown operation %q", req.Op)
		}
		return err
	})
	if err != nil {
		return nil, p.fail(req, id, st, err, att)
	}

	ev.Store = req.Store
	ev.Seq = p.clock.Next()
	ev.RequestID = id

	p.logger.Debug("write committed",
		"store", ev.Store,
		"op", req.Op,
		"kind", ev.Kind,
		"seq", ev.Seq,
		"request_id", id,
	)
	return ev, nil
}

// fail tags err with the request. st may be nil for unknown stores.
func (p *Pipeline) fail(req Request, id string, st *schema.Store, err error, a attempt) *WriteError {
	we := &WriteError{
		Query:     req,
		Cause:     storage.Classify(req.Store, string(req.Op), err),
		RequestID: id,
		Probe:     probe(req, id, st, a),
	}

	p.logger.Warn("write failed",
		"store", req.Store,
		"op", req.Op,
		"code", we.Code(),
		"request_id", id,
		"error", we.Cause,
	)
	return we
}

// probe builds the event the request would have produced: the would-be
// key, the request data (or merged record) as the new value, and index
// deltas from it.
func probe(req Request, id string, st *schema.Store, a attempt) *Event {
	ev := &Event{Store: req.Store, RequestID: id}

	switch req.Op {
	case OpClear:
		ev.Kind = Cleared
		return ev
	case OpDelete:
		ev.Kind = Deleted
		if ir.IsKey(req.Data) {
			ev.Key = req.Data
		}
	default:
		ev.Kind = Inserted
		if a.exists {
			ev.Kind = Modified
		}
		ev.Key = a.key
		ev.NewValue = a.next
		if ev.NewValue == nil {
			ev.NewValue, _ = req.Data.(ir.Object)
		}
		if ev.Key == nil && st != nil {
			ev.Key, _ = st.KeyOf(ev.NewValue)
		}
	}
	ev.OldValue = a.old

	if st != nil {
		ev.IndexDeltas = ComputeIndexDeltas(st, ev.OldValue, ev.NewValue)
	}
	return ev
}

// ComputeIndexDeltas derives the per-index old/new keys of a write.
// Indexes absent on both sides are omitted.
func ComputeIndexDeltas(st *schema.Store, old, next ir.Object) map[string]IndexDelta {
	deltas := make(map[string]IndexDelta, len(st.Indexes))
	for _, ix := range st.Indexes {
		var d IndexDelta
		if k, ok := ix.KeyOf(old); ok {
			d.Old = k
		}
		if k, ok := ix.KeyOf(next); ok {
			d.New = k
		}
		if d.Old == nil && d.New == nil {
			continue
		}
		deltas[ix.Name] = d
	}
	return deltas
}

// resolveKey determines the primary key of rec, drawing an auto-increment
// key when the record carries none. Returns the record to store, which
// holds the generated key at the key path when the store has one.
func resolveKey(w storage.Writer, st *schema.Store, rec ir.Object) (ir.Value, ir.Object, error) {
	if st.KeyPath != "" {
		if v, present := ir.Lookup(rec, st.KeyPath); present && !ir.IsAbsent(v) {
			if !ir.IsKey(v) {
				return nil, nil, storage.NewMissingKeyError(st.Name, st.KeyPath)
			}
			return v, rec, nil
		}
	}
	if !st.AutoIncrement {
		return nil, nil, storage.NewMissingKeyError(st.Name, st.KeyPath)
	}

	key, err := w.NextKey()
	if err != nil {
		return nil, nil, err
	}
	if st.KeyPath != "" {
		rec = ir.WithPath(rec, st.KeyPath, key)
	}
	return key, rec, nil
}

// readOld loads the record currently stored at key into att.
func readOld(w storage.Writer, key ir.Value, att *attempt) error {
	att.key = key
	old, exists, err := w.Get(key)
	if err != nil {
		return err
	}
	att.old, att.exists = old, exists
	return nil
}

func classify(att *attempt) Kind {
	if att.exists {
		return Modified
	}
	return Inserted
}

func executePut(w storage.Writer, st *schema.Store, data ir.Object, att *attempt) (*Event, error) {
	key, rec, err := resolveKey(w, st, data.Clone())
	if err != nil {
		return nil, err
	}
	if err := readOld(w, key, att); err != nil {
		return nil, err
	}
	att.next = rec
	if err := w.Put(key, rec); err != nil {
		return nil, err
	}
	return newEvent(st, classify(att), key, att.old, rec), nil
}

func executeAdd(w storage.Writer, st *schema.Store, data ir.Object, att *attempt) (*Event, error) {
	key, rec, err := resolveKey(w, st, data.Clone())
	if err != nil {
		return nil, err
	}
	if err := readOld(w, key, att); err != nil {
		return nil, err
	}
	att.next = rec
	if err := w.Add(key, rec); err != nil {
		return nil, err
	}
	return newEvent(st, Inserted, key, nil, rec), nil
}

// executeUpdate merges data over the stored record: fields absent from
// data keep their stored values. Updating a missing key inserts data.
func executeUpdate(w storage.Writer, st *schema.Store, data ir.Object, att *attempt) (*Event, error) {
	key, rec, err := resolveKey(w, st, data.Clone())
	if err != nil {
		return nil, err
	}
	if err := readOld(w, key, att); err != nil {
		return nil, err
	}
	if att.exists {
		rec = ir.Merge(att.old, rec)
	}
	att.next = rec
	if err := w.Put(key, rec); err != nil {
		return nil, err
	}
	return newEvent(st, classify(att), key, att.old, rec), nil
}

func executeDelete(w storage.Writer, st *schema.Store, key ir.Value, att *attempt) (*Event, error) {
	if err := readOld(w, key, att); err != nil {
		return nil, err
	}
	if err := w.Delete(key); err != nil {
		return nil, err
	}
	return newEvent(st, Deleted, key, att.old, nil), nil
}

func executeClear(w storage.Writer) (*Event, error) {
	if err := w.Clear(); err != nil {
		return nil, err
	}
	return &Event{Kind: Cleared}, nil
}

func newEvent(st *schema.Store, kind Kind, key ir.Value, old, next ir.Object) *Event {
	return &Event{
		Kind:        kind,
		Key:         key,
		OldValue:    old,
		NewValue:    next,
		IndexDeltas: ComputeIndexDeltas(st, old, next),
	}
}

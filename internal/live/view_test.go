package live

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/mutation"
	"github.com/roach88/livekv/internal/query"
)

// gatedReader returns successive ints, each read waiting for a release.
type gatedReader struct {
	release chan struct{}
	started chan struct{}
	calls   atomic.Int64
	err     error
}

func newGatedReader() *gatedReader {
	return &gatedReader{release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (g *gatedReader) read(context.Context) (ir.Value, error) {
	n := g.calls.Add(1)
	g.started <- struct{}{}
	<-g.release
	if g.err != nil {
		return nil, g.err
	}
	return ir.Int(n), nil
}

func testView(kind query.Kind, read readFunc) *View {
	return newView(query.Query{Store: "items", Kind: kind}, read, nil, slog.Default(), nil)
}

func insertEvent(id int64) *mutation.Event {
	return &mutation.Event{Store: "items", Kind: mutation.Inserted, Key: ir.Int(id), NewValue: ir.Object{"id": ir.Int(id)}}
}

func TestView_ReadsCoalesce(t *testing.T) {
	g := newGatedReader()
	v := testView(query.KindGetAll, g.read)
	assert.Equal(t, StateUninitialized, v.State())

	sub := subscribe(t, v)
	<-g.started
	assert.Equal(t, StateReadPending, v.State())

	// Three relevant events during the first read collapse into one
	// follow-up read.
	v.notify(insertEvent(1))
	v.notify(insertEvent(2))
	v.notify(insertEvent(3))

	g.release <- struct{}{}
	requireValue(t, ir.Int(1), nextValue(t, sub))

	<-g.started
	g.release <- struct{}{}
	requireValue(t, ir.Int(2), nextValue(t, sub))

	requireNone(t, sub)
	assert.Equal(t, int64(2), g.calls.Load())
	assert.Equal(t, StateActive, v.State())
}

func TestView_IgnoresEventsWithoutSubscribers(t *testing.T) {
	g := newGatedReader()
	v := testView(query.KindGetAll, g.read)

	v.notify(insertEvent(1))
	assert.Equal(t, int64(0), g.calls.Load())
	assert.Equal(t, StateUninitialized, v.State())
}

func TestView_IgnoresIrrelevantEvents(t *testing.T) {
	g := newGatedReader()
	v := testView(query.KindGetAllKeys, g.read)

	sub := subscribe(t, v)
	<-g.started
	g.release <- struct{}{}
	requireValue(t, ir.Int(1), nextValue(t, sub))

	v.notify(&mutation.Event{Store: "items", Kind: mutation.Modified, Key: ir.Int(1)})
	v.notify(&mutation.Event{Store: "users", Kind: mutation.Inserted, Key: ir.Int(9)})
	requireNone(t, sub)
	assert.Equal(t, int64(1), g.calls.Load())
}

func TestView_ReadFailureIsTerminal(t *testing.T) {
	g := newGatedReader()
	g.err = errors.New("disk on fire")
	v := testView(query.KindGetAll, g.read)

	sub := subscribe(t, v)
	<-g.started
	g.release <- struct{}{}

	u := next(t, sub)
	assert.EqualError(t, u.Err, "disk on fire")
	requireClosed(t, sub)
	assert.Equal(t, StateFailed, v.State())
	assert.EqualError(t, v.Err(), "disk on fire")

	v.notify(insertEvent(1))
	assert.Equal(t, int64(1), g.calls.Load())
}

func TestView_ProbeDuringReadDiscardsResult(t *testing.T) {
	g := newGatedReader()
	v := testView(query.KindGetAll, g.read)

	sub := subscribe(t, v)
	<-g.started

	werr := &mutation.WriteError{Query: mutation.Put("items", ir.Object{"id": ir.Int(1)}), Cause: errors.New("boom")}
	require.True(t, v.probe(insertEvent(1), werr))
	require.False(t, v.probe(insertEvent(1), werr), "failed views ignore probes")

	g.release <- struct{}{}
	u := next(t, sub)
	assert.Same(t, werr, u.Err)
	requireClosed(t, sub)

	_, ok := v.Snapshot()
	assert.False(t, ok)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "read_pending", StateReadPending.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}

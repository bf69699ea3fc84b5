package mutation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/storage"
	"github.com/roach88/livekv/internal/testutil"
)

func newTestPipeline(t *testing.T, a storage.Adapter) *Pipeline {
	t.Helper()
	return NewPipeline(a, WithIDGenerator(&CounterGenerator{}))
}

func item(id int64, tag string) ir.Object {
	return ir.Object{"id": ir.Int(id), "tag": ir.String(tag)}
}

func TestExecute_PutInsertsThenModifies(t *testing.T) {
	for _, b := range testutil.Backends() {
		t.Run(b.Name, func(t *testing.T) {
			p := newTestPipeline(t, b.Open(t, testutil.ItemsSchema()))
			ctx := context.Background()

			ev, err := p.Execute(ctx, Put("items", item(1, "x")))
			require.NoError(t, err)
			assert.Equal(t, "items", ev.Store)
			assert.Equal(t, Inserted, ev.Kind)
			assert.Equal(t, ir.Int(1), ev.Key)
			assert.Nil(t, ev.OldValue)
			assert.Equal(t, item(1, "x"), ev.NewValue)
			assert.Equal(t, map[string]IndexDelta{"tag": {New: ir.String("x")}}, ev.IndexDeltas)
			assert.Equal(t, int64(1), ev.Seq)
			assert.Equal(t, "req-1", ev.RequestID)

			ev, err = p.Execute(ctx, Put("items", item(1, "y")))
			require.NoError(t, err)
			assert.Equal(t, Modified, ev.Kind)
			assert.Equal(t, item(1, "x"), ev.OldValue)
			assert.Equal(t, map[string]IndexDelta{"tag": {Old: ir.String("x"), New: ir.String("y")}}, ev.IndexDeltas)
			assert.Equal(t, int64(2), ev.Seq)
		})
	}
}

func TestExecute_UpdateMergesShallowly(t *testing.T) {
	p := newTestPipeline(t, testutil.OpenBolt(t, testutil.ItemsSchema()))
	ctx := context.Background()

	_, err := p.Execute(ctx, Put("items", ir.Object{
		"id": ir.Int(1), "tag": ir.String("x"), "meta": ir.Object{"a": ir.Int(1), "b": ir.Int(2)},
	}))
	require.NoError(t, err)

	ev, err := p.Execute(ctx, Update("items", ir.Object{
		"id": ir.Int(1), "tag": ir.String("y"), "meta": ir.Object{"a": ir.Int(9)},
	}))
	require.NoError(t, err)

	assert.Equal(t, Modified, ev.Kind)
	assert.Equal(t, ir.Object{
		"id": ir.Int(1), "tag": ir.String("y"), "meta": ir.Object{"a": ir.Int(9)},
	}, ev.NewValue, "nested objects are replaced, not merged")

	ev, err = p.Execute(ctx, Update("items", ir.Object{"id": ir.Int(1), "extra": ir.Bool(true)}))
	require.NoError(t, err)
	assert.Equal(t, ir.String("y"), ev.NewValue["tag"], "fields absent from data are kept")
	assert.Equal(t, ir.Bool(true), ev.NewValue["extra"])
	assert.Equal(t, map[string]IndexDelta{"tag": {Old: ir.String("y"), New: ir.String("y")}}, ev.IndexDeltas)
}

func TestExecute_UpdateMissingKeyInserts(t *testing.T) {
	p := newTestPipeline(t, testutil.OpenBolt(t, testutil.ItemsSchema()))

	ev, err := p.Execute(context.Background(), Update("items", item(5, "z")))
	require.NoError(t, err)
	assert.Equal(t, Inserted, ev.Kind)
	assert.Equal(t, item(5, "z"), ev.NewValue)
}

func TestExecute_PutReplaces(t *testing.T) {
	p := newTestPipeline(t, testutil.OpenSQLite(t, testutil.ItemsSchema()))
	ctx := context.Background()

	_, err := p.Execute(ctx, Put("items", item(1, "x")))
	require.NoError(t, err)

	ev, err := p.Execute(ctx, Put("items", ir.Object{"id": ir.Int(1)}))
	require.NoError(t, err)
	assert.Equal(t, ir.Object{"id": ir.Int(1)}, ev.NewValue)
	assert.Equal(t, map[string]IndexDelta{"tag": {Old: ir.String("x")}}, ev.IndexDeltas)
}

func TestExecute_Add(t *testing.T) {
	p := newTestPipeline(t, testutil.OpenBolt(t, testutil.ItemsSchema()))
	ctx := context.Background()

	ev, err := p.Execute(ctx, Add("items", item(1, "x")))
	require.NoError(t, err)
	assert.Equal(t, Inserted, ev.Kind)

	_, err = p.Execute(ctx, Add("items", item(1, "y")))
	require.Error(t, err)
	assert.True(t, storage.IsConstraint(err))

	we, ok := AsWriteError(err)
	require.True(t, ok)
	assert.Equal(t, OpAdd, we.Query.Op)
	assert.Equal(t, "items", we.Query.Store)
	assert.Equal(t, item(1, "y"), we.Query.Data)
	assert.Equal(t, storage.CodeConstraint, we.Code())
	assert.Equal(t, "req-2", we.RequestID)

	require.NotNil(t, we.Probe)
	assert.Equal(t, Modified, we.Probe.Kind)
	assert.Equal(t, ir.Int(1), we.Probe.Key)
	assert.Equal(t, item(1, "y"), we.Probe.NewValue)
	assert.Equal(t, map[string]IndexDelta{"tag": {Old: ir.String("x"), New: ir.String("y")}}, we.Probe.IndexDeltas)
}

func TestExecute_Delete(t *testing.T) {
	p := newTestPipeline(t, testutil.OpenSQLite(t, testutil.ItemsSchema()))
	ctx := context.Background()

	_, err := p.Execute(ctx, Put("items", item(1, "x")))
	require.NoError(t, err)

	ev, err := p.Execute(ctx, Delete("items", ir.Int(1)))
	require.NoError(t, err)
	assert.Equal(t, Deleted, ev.Kind)
	assert.Equal(t, ir.Int(1), ev.Key)
	assert.Equal(t, item(1, "x"), ev.OldValue)
	assert.Nil(t, ev.NewValue)
	assert.Equal(t, map[string]IndexDelta{"tag": {Old: ir.String("x")}}, ev.IndexDeltas)

	ev, err = p.Execute(ctx, Delete("items", ir.Int(1)))
	require.NoError(t, err, "deleting a missing key succeeds")
	assert.Equal(t, Deleted, ev.Kind)
	assert.Empty(t, ev.IndexDeltas)
}

func TestExecute_Clear(t *testing.T) {
	p := newTestPipeline(t, testutil.OpenBolt(t, testutil.ItemsSchema()))
	ctx := context.Background()

	_, err := p.Execute(ctx, Put("items", item(1, "x")))
	require.NoError(t, err)

	ev, err := p.Execute(ctx, Clear("items"))
	require.NoError(t, err)
	assert.Equal(t, Cleared, ev.Kind)
	assert.Equal(t, "items", ev.Store)
	assert.Nil(t, ev.Key)
	assert.Empty(t, ev.IndexDeltas)
}

func TestExecute_AutoIncrement(t *testing.T) {
	for _, b := range testutil.Backends() {
		t.Run(b.Name, func(t *testing.T) {
			p := newTestPipeline(t, b.Open(t, testutil.ItemsSchema()))
			ctx := context.Background()

			ev, err := p.Execute(ctx, Put("log", ir.Object{"msg": ir.String("a")}))
			require.NoError(t, err)
			assert.Equal(t, ir.Int(1), ev.Key)
			assert.Equal(t, ir.Object{"msg": ir.String("a"), "seq": ir.Int(1)}, ev.NewValue)

			ev, err = p.Execute(ctx, Add("log", ir.Object{"msg": ir.String("b")}))
			require.NoError(t, err)
			assert.Equal(t, ir.Int(2), ev.Key)

			ev, err = p.Execute(ctx, Put("log", ir.Object{"seq": ir.Int(1), "msg": ir.String("c")}))
			require.NoError(t, err)
			assert.Equal(t, Modified, ev.Kind, "explicit keys bypass the generator")
		})
	}
}

func TestExecute_MissingKey(t *testing.T) {
	p := newTestPipeline(t, testutil.OpenBolt(t, testutil.ItemsSchema()))
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"no key field", Put("items", ir.Object{"tag": ir.String("x")})},
		{"key is not a key", Put("items", ir.Object{"id": ir.Bool(true)})},
		{"update without key", Update("items", ir.Object{"tag": ir.String("x")})},
		{"delete with invalid key", Delete("items", ir.Object{})},
		{"put with non-object data", Request{Op: OpPut, Store: "items", Data: ir.Int(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := p.Execute(ctx, tt.req)
			require.Error(t, err)
			assert.Nil(t, ev)
			assert.True(t, storage.IsMissingKey(err), "got %v", err)

			we, ok := AsWriteError(err)
			require.True(t, ok)
			assert.Equal(t, tt.req, we.Query)
		})
	}
}

func TestExecute_UnknownStore(t *testing.T) {
	p := newTestPipeline(t, testutil.OpenBolt(t, testutil.ItemsSchema()))

	_, err := p.Execute(context.Background(), Put("missing", item(1, "x")))
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))

	we, ok := AsWriteError(err)
	require.True(t, ok)
	assert.Equal(t, "missing", we.Probe.Store)
}

func TestExecute_UniqueIndexViolation(t *testing.T) {
	p := newTestPipeline(t, testutil.OpenSQLite(t, testutil.ItemsSchema()))
	ctx := context.Background()

	_, err := p.Execute(ctx, Put("items", ir.Object{"id": ir.Int(1), "sku": ir.String("A")}))
	require.NoError(t, err)

	_, err = p.Execute(ctx, Put("items", ir.Object{"id": ir.Int(2), "sku": ir.String("A")}))
	require.Error(t, err)
	assert.True(t, storage.IsConstraint(err))

	we, _ := AsWriteError(err)
	assert.Equal(t, Inserted, we.Probe.Kind)
	assert.Equal(t, ir.Int(2), we.Probe.Key)
	assert.Equal(t, map[string]IndexDelta{"sku": {New: ir.String("A")}}, we.Probe.IndexDeltas)
}

func TestExecute_TransportFailure(t *testing.T) {
	f := testutil.NewFaultyAdapter(testutil.OpenBolt(t, testutil.ItemsSchema()))
	p := newTestPipeline(t, f)
	ctx := context.Background()

	f.FailUpdates("items", 1)
	_, err := p.Execute(ctx, Put("items", item(1, "x")))
	require.Error(t, err)
	assert.True(t, storage.IsTransport(err))
	assert.ErrorIs(t, err, testutil.ErrInjected)

	we, _ := AsWriteError(err)
	assert.Equal(t, ir.Int(1), we.Probe.Key, "probe key derived from data")
	assert.Equal(t, Inserted, we.Probe.Kind)

	ev, err := p.Execute(ctx, Put("items", item(1, "x")))
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.Seq, "failed writes do not advance the clock")
}

func TestExecute_DoesNotAliasCallerData(t *testing.T) {
	p := newTestPipeline(t, testutil.OpenBolt(t, testutil.ItemsSchema()))

	data := item(1, "x")
	ev, err := p.Execute(context.Background(), Put("items", data))
	require.NoError(t, err)

	data["tag"] = ir.String("changed")
	assert.Equal(t, ir.String("x"), ev.NewValue["tag"])
}

func TestExecute_Concurrent(t *testing.T) {
	p := newTestPipeline(t, testutil.OpenSQLite(t, testutil.ItemsSchema()))
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	seqs := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			ev, err := p.Execute(ctx, Put("items", item(id, "x")))
			if assert.NoError(t, err) {
				seqs <- ev.Seq
			}
		}(int64(i))
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for s := range seqs {
		assert.False(t, seen[s], "duplicate seq %d", s)
		seen[s] = true
	}
	assert.Len(t, seen, n)
}

func TestComputeIndexDeltas(t *testing.T) {
	st, _ := testutil.ItemsSchema().Store("items")

	deltas := ComputeIndexDeltas(st, nil, ir.Object{"id": ir.Int(1)})
	assert.Empty(t, deltas, "absent on both sides is omitted")

	deltas = ComputeIndexDeltas(st,
		ir.Object{"id": ir.Int(1), "tag": ir.String("a"), "sku": ir.String("S")},
		ir.Object{"id": ir.Int(1), "tag": ir.Bool(true)})
	assert.Equal(t, map[string]IndexDelta{
		"tag": {Old: ir.String("a")},
		"sku": {Old: ir.String("S")},
	}, deltas)
}

package live

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/mutation"
	"github.com/roach88/livekv/internal/storage"
	"github.com/roach88/livekv/internal/testutil"
)

const waitTimeout = 2 * time.Second

// quietPeriod is how long a test waits to conclude that nothing is emitted.
const quietPeriod = 150 * time.Millisecond

func startDriver(t *testing.T, a storage.Adapter, opts ...Option) *Driver {
	t.Helper()

	opts = append([]Option{WithRequestIDs(&mutation.CounterGenerator{})}, opts...)
	d := New(a, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d
}

func newDriver(t *testing.T, opts ...Option) *Driver {
	t.Helper()
	return startDriver(t, testutil.OpenSQLite(t, testutil.ItemsSchema()), opts...)
}

func next(t *testing.T, sub *Subscription) Update {
	t.Helper()
	select {
	case u, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return u
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func nextValue(t *testing.T, sub *Subscription) ir.Value {
	t.Helper()
	u := next(t, sub)
	require.NoError(t, u.Err)
	return u.Value
}

func requireNone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case u, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected update: value=%v err=%v", u.Value, u.Err)
		}
	case <-time.After(quietPeriod):
	}
}

func requireClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case u, ok := <-sub.C():
		require.False(t, ok, "expected closed subscription, got value=%v err=%v", u.Value, u.Err)
	case <-time.After(waitTimeout):
		t.Fatal("subscription not closed")
	}
}

func subscribe(t *testing.T, v *View) *Subscription {
	t.Helper()
	sub := v.Subscribe(context.Background())
	t.Cleanup(sub.Close)
	return sub
}

func write(t *testing.T, d *Driver, req mutation.Request) *mutation.Event {
	t.Helper()
	ev, err := d.Execute(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, d.Flush(ctx), "event not dispatched")
	return ev
}

func rec(id int64, tag string) ir.Object {
	return ir.Object{"id": ir.Int(id), "tag": ir.String(tag)}
}

func requireValue(t *testing.T, want, got ir.Value) {
	t.Helper()
	require.True(t, ir.Equal(want, got), "got %v, want %v", got, want)
}

package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := newQueue[string]()

	for _, s := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(s))
	}

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q := newQueue[int]()
	q.Enqueue(1)
	q.Close()

	assert.False(t, q.Enqueue(2), "enqueue after close should return false")
	assert.False(t, q.Drained(), "closed queue with items is not drained")

	v, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.True(t, q.Drained())
}

func TestQueue_CloseWakesWaiters(t *testing.T) {
	q := newQueue[int]()

	done := make(chan struct{})
	go func() {
		<-q.Wait()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("waiter did not wake after close")
	}
	q.Close()
}

func TestQueue_Len(t *testing.T) {
	q := newQueue[int]()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(1)
	q.Enqueue(2)
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestQueue_ThreadSafe(t *testing.T) {
	q := newQueue[int]()

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(base + i)
			}
		}(p * 1000)
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Len())
	seen := make(map[int]bool)
	for {
		v, ok := q.TryDequeue()
		if !ok {
			break
		}
		seen[v] = true
	}
	assert.Len(t, seen, producers*perProducer)
}

func TestMailbox_DeliversInOrderThenCloses(t *testing.T) {
	m := newMailbox[int](context.Background(), nil)
	for i := 1; i <= 100; i++ {
		require.True(t, m.put(i))
	}
	m.close()

	var got []int
	for v := range m.out {
		got = append(got, v)
	}
	require.Len(t, got, 100)
	assert.Equal(t, 1, got[0])
	assert.Equal(t, 100, got[99])
	assert.False(t, m.put(101))
}

func TestMailbox_DetachDropsPending(t *testing.T) {
	detached := 0
	m := newMailbox[int](context.Background(), func() { detached++ })
	m.put(1)
	m.put(2)

	m.detach()
	m.detach()

	for range m.out {
	}
	assert.Equal(t, 1, detached)
}

func TestMailbox_ContextCancelDetaches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	called := make(chan struct{})
	m := newMailbox[int](ctx, func() { close(called) })

	cancel()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("cancel did not detach")
	}
	_, ok := <-m.out
	assert.False(t, ok)
}

func TestHub_FanOut(t *testing.T) {
	h := newHub[string]()
	ctx := context.Background()

	a := h.subscribe(ctx)
	b := h.subscribe(ctx)
	h.publish("x")
	h.close()

	for _, ch := range []<-chan string{a, b} {
		v, ok := <-ch
		require.True(t, ok)
		assert.Equal(t, "x", v)
		_, ok = <-ch
		assert.False(t, ok)
	}

	late := h.subscribe(ctx)
	_, ok := <-late
	assert.False(t, ok, "subscribing to a closed hub yields a closed stream")
}

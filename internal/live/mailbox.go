package live

import (
	"context"
	"sync"
)

// mailbox delivers values to one consumer through a channel, buffering
// without bound in between. A pump goroutine moves values from the queue
// to the channel; the channel closes when the mailbox is closed and
// drained, when it is detached, or when ctx is done.
type mailbox[T any] struct {
	box      *queue[T]
	out      chan T
	stop     chan struct{}
	once     sync.Once
	onDetach func()
}

func newMailbox[T any](ctx context.Context, onDetach func()) *mailbox[T] {
	m := &mailbox[T]{
		box:      newQueue[T](),
		out:      make(chan T),
		stop:     make(chan struct{}),
		onDetach: onDetach,
	}
	go m.pump(ctx)
	return m
}

// put queues v. Returns false once the mailbox is closed.
func (m *mailbox[T]) put(v T) bool {
	return m.box.Enqueue(v)
}

// close ends the stream after the queued values are delivered.
func (m *mailbox[T]) close() {
	m.box.Close()
}

// detach ends the stream now, dropping queued values.
func (m *mailbox[T]) detach() {
	m.once.Do(func() {
		m.box.Close()
		close(m.stop)
		if m.onDetach != nil {
			m.onDetach()
		}
	})
}

func (m *mailbox[T]) pump(ctx context.Context) {
	defer close(m.out)

	for {
		if v, ok := m.box.TryDequeue(); ok {
			select {
			case m.out <- v:
			case <-m.stop:
				return
			case <-ctx.Done():
				m.detach()
				return
			}
			continue
		}

		select {
		case <-m.box.Wait():
			if m.box.Drained() {
				return
			}
		case <-m.stop:
			return
		case <-ctx.Done():
			m.detach()
			return
		}
	}
}

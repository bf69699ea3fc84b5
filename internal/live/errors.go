package live

import (
	"context"
	"sync"
)

// hub fans values out to any number of subscribers. Every subscriber gets
// its own mailbox, so a slow reader never blocks publish.
type hub[T any] struct {
	mu     sync.Mutex
	subs   map[*mailbox[T]]struct{}
	closed bool
}

func newHub[T any]() *hub[T] {
	return &hub[T]{subs: make(map[*mailbox[T]]struct{})}
}

// subscribe returns a stream of values published after the call. The
// stream closes when ctx is done or the hub is closed.
func (h *hub[T]) subscribe(ctx context.Context) <-chan T {
	h.mu.Lock()
	defer h.mu.Unlock()

	var m *mailbox[T]
	m = newMailbox[T](ctx, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, m)
	})
	if h.closed {
		m.close()
		return m.out
	}
	h.subs[m] = struct{}{}
	return m.out
}

func (h *hub[T]) publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for m := range h.subs {
		m.put(v)
	}
}

// close ends every stream after its pending values are delivered.
func (h *hub[T]) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for m := range h.subs {
		m.close()
	}
	h.subs = nil
}

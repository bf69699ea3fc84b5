package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/livekv/internal/storage"
)

// ErrInjected is the cause of every injected failure.
var ErrInjected = errors.New("injected failure")

// FaultyAdapter wraps an adapter and fails chosen transactions with a
// TRANSPORT error wrapping ErrInjected.
//
// Thread-safety: safe for concurrent use.
type FaultyAdapter struct {
	storage.Adapter

	mu          sync.Mutex
	failViews   map[string]int
	failUpdates map[string]int
	views       map[string]int
	gate        map[string]chan struct{}
}

// NewFaultyAdapter wraps inner.
func NewFaultyAdapter(inner storage.Adapter) *FaultyAdapter {
	return &FaultyAdapter{
		Adapter:     inner,
		failViews:   make(map[string]int),
		failUpdates: make(map[string]int),
		views:       make(map[string]int),
		gate:        make(map[string]chan struct{}),
	}
}

// FailViews makes the next n read transactions on store fail.
// n < 0 fails every read until reset with FailViews(store, 0).
func (f *FaultyAdapter) FailViews(store string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failViews[store] = n
}

// FailUpdates makes the next n write transactions on store fail.
func (f *FaultyAdapter) FailUpdates(store string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpdates[store] = n
}

// Views returns how many read transactions were opened on store.
func (f *FaultyAdapter) Views(store string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.views[store]
}

// HoldViews blocks read transactions on store until the returned release
// function is called.
func (f *FaultyAdapter) HoldViews(store string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gate[store] = ch
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.gate, store)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// take consumes one injected failure from counts.
func take(counts map[string]int, store string) bool {
	n := counts[store]
	switch {
	case n < 0:
		return true
	case n > 0:
		counts[store] = n - 1
		return true
	}
	return false
}

func (f *FaultyAdapter) View(ctx context.Context, store string, fn func(storage.Reader) error) error {
	f.mu.Lock()
	f.views[store]++
	fail := take(f.failViews, store)
	gate := f.gate[store]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return storage.NewTransportError(store, "view", ctx.Err())
		}
	}
	if fail {
		return storage.NewTransportError(store, "view", ErrInjected)
	}
	return f.Adapter.View(ctx, store, fn)
}

func (f *FaultyAdapter) Update(ctx context.Context, store string, fn func(storage.Writer) error) error {
	f.mu.Lock()
	fail := take(f.failUpdates, store)
	f.mu.Unlock()

	if fail {
		return storage.NewTransportError(store, "update", ErrInjected)
	}
	return f.Adapter.Update(ctx, store, fn)
}

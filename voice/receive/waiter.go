package receive

import (
	"context"
	"sync"
)

// MultiWaiter is a 1-waiting-on-N primitive: any number of producers
// register or unregister themselves as "ready", and a single consumer
// blocks until at least one of them is. The packet router uses one to wake
// its delivery loop only when some decoder actually has data queued,
// instead of polling every decoder on a timer.
//
// Grounded on discord/voice/utils/multidataevent.py's MultiDataEvent,
// translated from a threading.Event plus a plain list into a sync.Cond
// guarding a slice, woken via context.AfterFunc the same way
// JitterBuffer.Pop is.
type MultiWaiter[T comparable] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []T
}

// NewMultiWaiter constructs an empty MultiWaiter.
func NewMultiWaiter[T comparable]() *MultiWaiter[T] {
	w := &MultiWaiter[T]{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Register adds item to the ready set, waking any blocked Wait.
func (w *MultiWaiter[T]) Register(item T) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, existing := range w.items {
		if existing == item {
			return
		}
	}
	w.items = append(w.items, item)
	w.cond.Broadcast()
}

// Unregister removes item from the ready set, a no-op if it wasn't in it.
func (w *MultiWaiter[T]) Unregister(item T) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, existing := range w.items {
		if existing == item {
			w.items = append(w.items[:i], w.items[i+1:]...)
			return
		}
	}
}

// Items returns a snapshot of the currently ready set.
func (w *MultiWaiter[T]) Items() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]T(nil), w.items...)
}

// Wait blocks until at least one item is ready or ctx is done, returning a
// snapshot of the ready set and true, or (nil, false) if ctx expired first.
func (w *MultiWaiter[T]) Wait(ctx context.Context) ([]T, bool) {
	stop := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	defer stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.items) == 0 && ctx.Err() == nil {
		w.cond.Wait()
	}

	if len(w.items) == 0 {
		return nil, false
	}
	return append([]T(nil), w.items...), true
}

// Clear empties the ready set, waking any blocked Wait with an empty
// result once its context is also done.
func (w *MultiWaiter[T]) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = nil
	w.cond.Broadcast()
}

package receive

import (
	"context"
	"testing"
	"time"
)

func TestMultiWaiterWaitsForRegistration(t *testing.T) {
	w := NewMultiWaiter[string]()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := w.Wait(ctx); ok {
		t.Fatal("expected Wait to time out with nothing registered")
	}

	w.Register("a")
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	items, ok := w.Wait(ctx2)
	if !ok {
		t.Fatal("expected Wait to succeed once an item is registered")
	}
	if len(items) != 1 || items[0] != "a" {
		t.Fatalf("unexpected items: %v", items)
	}
}

func TestMultiWaiterUnregisterRemovesItem(t *testing.T) {
	w := NewMultiWaiter[string]()
	w.Register("a")
	w.Register("b")
	w.Unregister("a")

	items := w.Items()
	if len(items) != 1 || items[0] != "b" {
		t.Fatalf("unexpected items after unregister: %v", items)
	}
}

func TestMultiWaiterRegisterIsIdempotent(t *testing.T) {
	w := NewMultiWaiter[string]()
	w.Register("a")
	w.Register("a")

	if items := w.Items(); len(items) != 1 {
		t.Fatalf("expected duplicate registration to be a no-op, got %v", items)
	}
}

func TestMultiWaiterClearWakesWaiters(t *testing.T) {
	w := NewMultiWaiter[string]()
	w.Register("a")
	w.Clear()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := w.Wait(ctx); ok {
		t.Fatal("expected Wait to report nothing ready after Clear")
	}
}

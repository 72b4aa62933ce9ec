package imagegen

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrencyGate_Bound(t *testing.T) {
	gate := NewConcurrencyGate(2)
	var cur, peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gate.Acquire(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			defer gate.Release()
			n := cur.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			cur.Add(-1)
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("expected at most 2 holders, got %d", peak.Load())
	}
	if gate.Peak() > 2 {
		t.Errorf("expected gate peak <= 2, got %d", gate.Peak())
	}
	if gate.InUse() != 0 {
		t.Errorf("expected all slots released, got %d in use", gate.InUse())
	}
}

func TestConcurrencyGate_DefaultCapacity(t *testing.T) {
	if got := NewConcurrencyGate(0).Capacity(); got != DefaultConcurrency {
		t.Errorf("expected capacity %d, got %d", DefaultConcurrency, got)
	}
}

func TestConcurrencyGate_AcquireCancelled(t *testing.T) {
	gate := NewConcurrencyGate(1)
	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := gate.Acquire(ctx)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
	if gate.InUse() != 1 {
		t.Errorf("cancelled acquire must not hold a slot, in use %d", gate.InUse())
	}
	gate.Release()
}

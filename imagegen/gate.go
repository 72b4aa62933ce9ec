package imagegen

import (
	"context"
	"sync/atomic"
)

// DefaultConcurrency is the gate capacity used when none is configured.
const DefaultConcurrency = 3

// ConcurrencyGate is a counting semaphore bounding the number of jobs that
// hold a slot at once. Waiters are admitted in channel order, which Go does
// not guarantee to be FIFO.
type ConcurrencyGate struct {
	slots chan struct{}
	inUse atomic.Int64
	peak  atomic.Int64
}

// NewConcurrencyGate creates a gate with capacity n (DefaultConcurrency when n < 1).
func NewConcurrencyGate(n int) *ConcurrencyGate {
	if n < 1 {
		n = DefaultConcurrency
	}
	return &ConcurrencyGate{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
// Returns an ErrCancelled error if ctx ends first; no slot is held in that case.
func (g *ConcurrencyGate) Acquire(ctx context.Context) error {
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	select {
	case g.slots <- struct{}{}:
		n := g.inUse.Add(1)
		for {
			peak := g.peak.Load()
			if n <= peak || g.peak.CompareAndSwap(peak, n) {
				break
			}
		}
		return nil
	case <-ctx.Done():
		return cancelled(ctx)
	}
}

// Release returns a slot. Each successful Acquire must be paired with one Release.
func (g *ConcurrencyGate) Release() {
	g.inUse.Add(-1)
	<-g.slots
}

// Capacity returns the maximum number of concurrent holders.
func (g *ConcurrencyGate) Capacity() int {
	return cap(g.slots)
}

// InUse returns the number of slots currently held.
func (g *ConcurrencyGate) InUse() int {
	return int(g.inUse.Load())
}

// Peak returns the highest number of slots held at once since creation.
func (g *ConcurrencyGate) Peak() int {
	return int(g.peak.Load())
}

package shutdown

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when a run is started after shutdown began.
var ErrClosed = errors.New("shutdown: no new work accepted")

// Tracker counts in-flight runs (a CLI batch, a scan) so shutdown can wait
// for them before releasing the resources they use.
type Tracker struct {
	mu     sync.Mutex
	active int
	closed bool
	idle   chan struct{}
}

// Begin registers a run. It returns false once Close has been called; a
// true result must be paired with End.
func (t *Tracker) Begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if t.active == 0 {
		t.idle = make(chan struct{})
	}
	t.active++
	return true
}

// End marks a run finished.
func (t *Tracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == 0 {
		return
	}
	t.active--
	if t.active == 0 {
		close(t.idle)
	}
}

// Close stops new runs from beginning.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Drain waits until no run is active or ctx is done.
func (t *Tracker) Drain(ctx context.Context) error {
	t.mu.Lock()
	if t.active == 0 {
		t.mu.Unlock()
		return nil
	}
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of runs in flight.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Closed reports whether Close has been called.
func (t *Tracker) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

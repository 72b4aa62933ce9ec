// Package shutdown coordinates graceful termination of bananagen processes:
// signal handling, draining in-flight runs and releasing resources in a
// fixed order.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Hook releases one resource. It should return promptly once ctx is done.
type Hook func(ctx context.Context) error

// Stages order hooks; lower stages run first. Hooks within a stage run in
// the order they were added.
const (
	// StageListeners stops accepting work (HTTP listeners)
	StageListeners = 10
	// StageWorkers drains background writers and schedulers
	StageWorkers = 20
	// StageStorage closes databases and object stores
	StageStorage = 30
	// StageFiles removes leftover staging files
	StageFiles = 40
	// StageLogs flushes the logger; it runs last
	StageLogs = 90
)

type hookEntry struct {
	name  string
	stage int
	fn    Hook
}

// Hooks is an ordered, run-once set of shutdown hooks.
//
// Example:
//
//	var hooks Hooks
//	hooks.Add("database", StageStorage, func(ctx context.Context) error {
//	    return database.Close()
//	})
//	err := hooks.Run(ctx)
type Hooks struct {
	mu      sync.Mutex
	entries []hookEntry
	ran     bool
}

// Add registers fn under name. Adding after Run is a no-op.
func (h *Hooks) Add(name string, stage int, fn Hook) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ran {
		return
	}
	h.entries = append(h.entries, hookEntry{name: name, stage: stage, fn: fn})
}

// sorted returns a stage-ordered copy. Caller holds mu.
func (h *Hooks) sorted() []hookEntry {
	out := make([]hookEntry, len(h.entries))
	copy(out, h.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].stage < out[j].stage
	})
	return out
}

// Run calls every hook in stage order, even after failures, and returns the
// failures joined. Only the first call runs anything.
func (h *Hooks) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.ran {
		h.mu.Unlock()
		return nil
	}
	h.ran = true
	entries := h.sorted()
	h.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}

// Names lists hook names in the order Run would call them.
func (h *Hooks) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := h.sorted()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Len returns the number of registered hooks.
func (h *Hooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

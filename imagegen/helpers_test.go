package imagegen

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bananagen/logging"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// spyProvider records calls and returns scripted results.
type spyProvider struct {
	mu       sync.Mutex
	calls    atomic.Int64
	starts   []time.Time
	inFlight atomic.Int64
	peak     atomic.Int64

	// fail returns the error for call n (0-based); nil means success.
	fail  func(n int) error
	delay func(prompt string) time.Duration
}

func (p *spyProvider) Generate(ctx context.Context, template []byte, prompt string, params map[string]any) ([]byte, map[string]any, error) {
	n := int(p.calls.Add(1)) - 1

	p.mu.Lock()
	p.starts = append(p.starts, time.Now())
	p.mu.Unlock()

	cur := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if cur <= peak || p.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	if p.delay != nil {
		if d := p.delay(prompt); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
	}
	if p.fail != nil {
		if err := p.fail(n); err != nil {
			return nil, nil, err
		}
	}
	return []byte("image:" + prompt), map[string]any{"prompt": prompt}, nil
}

func (p *spyProvider) Calls() int {
	return int(p.calls.Load())
}

func (p *spyProvider) Starts() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.starts...)
}

// memorySink keeps artifacts in a map.
type memorySink struct {
	mu    sync.Mutex
	saved map[string][]byte
	err   error
}

func newMemorySink() *memorySink {
	return &memorySink{saved: make(map[string][]byte)}
}

func (s *memorySink) Save(ctx context.Context, name string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[name] = data
	return "mem://" + name, nil
}

func (s *memorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.NewFromZap(zaptest.NewLogger(t))
}

func observedLogger() (*logging.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return logging.NewFromZap(zap.New(core)), logs
}

func fastConfig() BatchConfig {
	return BatchConfig{
		Concurrency:  3,
		RateInterval: time.Millisecond,
		MaxRetries:   3,
		RetryDelay:   time.Millisecond,
	}
}

func newTestOrchestrator(t *testing.T, store ResultStore, providers map[string]Provider) (*Orchestrator, *memorySink) {
	t.Helper()
	sink := newMemorySink()
	orch, err := NewOrchestrator(store, sink, providers, testLogger(t))
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return orch, sink
}

func job(id, prompt string) Job {
	return Job{ID: id, Prompt: prompt, Width: 8, Height: 8}
}

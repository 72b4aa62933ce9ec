package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultChannelCapacity is the default buffer size for queued writes.
const DefaultChannelCapacity = 100

// DefaultDrainTimeout is the maximum time to wait for pending writes during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// WriteOperation is one queued database write.
type WriteOperation struct {
	// Name identifies the write in logs, e.g. "job_result"
	Name string
	// Apply performs the write
	Apply func(ctx context.Context) error
	// Timestamp is when the operation was queued
	Timestamp time.Time
}

// AsyncWriter applies database writes on a background goroutine so that
// callers on hot paths (orchestrator result callbacks) never block on SQLite.
// Failed writes are logged and dropped.
type AsyncWriter struct {
	writeChan chan WriteOperation
	logger    *zap.Logger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	closed    bool
	mu        sync.Mutex
}

// AsyncWriterConfig holds configuration for the async writer.
type AsyncWriterConfig struct {
	// ChannelCapacity is the buffer size for pending writes
	ChannelCapacity int
}

// DefaultAsyncWriterConfig returns the default configuration.
func DefaultAsyncWriterConfig() AsyncWriterConfig {
	return AsyncWriterConfig{ChannelCapacity: DefaultChannelCapacity}
}

// NewAsyncWriter creates an async writer with the default configuration.
func NewAsyncWriter(logger *zap.Logger) *AsyncWriter {
	return NewAsyncWriterWithConfig(logger, DefaultAsyncWriterConfig())
}

// NewAsyncWriterWithConfig creates an async writer with custom configuration.
func NewAsyncWriterWithConfig(logger *zap.Logger, config AsyncWriterConfig) *AsyncWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ChannelCapacity < 1 {
		config.ChannelCapacity = DefaultChannelCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncWriter{
		writeChan: make(chan WriteOperation, config.ChannelCapacity),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background goroutine. Calling it twice is a no-op.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.closed {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.processWrites()
}

func (w *AsyncWriter) processWrites() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.drainChannel()
			return
		case op := <-w.writeChan:
			w.apply(op)
		}
	}
}

func (w *AsyncWriter) drainChannel() {
	for {
		select {
		case op := <-w.writeChan:
			w.apply(op)
		default:
			return
		}
	}
}

func (w *AsyncWriter) apply(op WriteOperation) {
	// Drained writes still need a live context after Stop cancels w.ctx.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := op.Apply(ctx); err != nil {
		w.logger.Warn("async write failed",
			zap.String("operation", op.Name),
			zap.Duration("queued_for", time.Since(op.Timestamp)),
			zap.Error(err))
	}
}

// Write queues apply without blocking. Returns false if the buffer is full
// or the writer is closed; the caller may then write synchronously.
func (w *AsyncWriter) Write(name string, apply func(ctx context.Context) error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}

	select {
	case w.writeChan <- WriteOperation{Name: name, Apply: apply, Timestamp: time.Now()}:
		return true
	default:
		return false
	}
}

// Pending returns the number of operations waiting in the buffer.
func (w *AsyncWriter) Pending() int {
	return len(w.writeChan)
}

// Stop rejects new writes, applies what is buffered and waits up to timeout.
// Returns false if the drain did not finish in time.
func (w *AsyncWriter) Stop(timeout time.Duration) bool {
	w.mu.Lock()
	w.closed = true
	started := w.started
	w.mu.Unlock()

	w.cancel()
	if !started {
		w.drainChannel()
		return true
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// IsStarted returns whether the background goroutine is running.
func (w *AsyncWriter) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bananagen/core"

	"go.uber.org/zap"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 30 * time.Second

// Manager is the shutdown organism for bananagen commands. It composes:
//   - a Tracker for in-flight runs
//   - Hooks for ordered resource release
//   - signal handling where the first SIGINT/SIGTERM cancels Context and a
//     second one exits immediately with code 130
//
// Example:
//
//	manager := shutdown.NewManager(logger)
//	manager.Listen()
//	manager.Add("database", shutdown.StageStorage, func(ctx context.Context) error {
//	    return database.Close()
//	})
//	err := manager.Track("batch", func(ctx context.Context) error {
//	    _, err := orchestrator.Submit(ctx, jobs, cfg)
//	    return err
//	})
//	manager.Shutdown()
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration
	exit    func(code int)

	ctx    context.Context
	cancel context.CancelFunc

	tracker Tracker
	hooks   Hooks

	mu        sync.Mutex
	listening bool
	done      bool
	signals   int
	sigChan   chan os.Signal
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the shutdown deadline. Default is DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithExit replaces os.Exit for the forced exit on a second signal.
func WithExit(exit func(code int)) Option {
	return func(m *Manager) {
		m.exit = exit
	}
}

// NewManager returns a Manager whose Context is live until the first signal
// or Shutdown.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:  logger,
		timeout: DefaultTimeout,
		exit:    os.Exit,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Add registers a hook to run during Shutdown.
func (m *Manager) Add(name string, stage int, fn Hook) {
	m.hooks.Add(name, stage, fn)
	m.logger.Debug("registered shutdown hook", zap.String("name", name), zap.Int("stage", stage))
}

// Hooks returns hook names in execution order.
func (m *Manager) Hooks() []string {
	return m.hooks.Names()
}

// Listen starts handling SIGINT and SIGTERM. Calling it again is a no-op.
func (m *Manager) Listen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listening {
		return
	}
	m.listening = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	m.mu.Lock()
	m.signals++
	n := m.signals
	m.mu.Unlock()

	if n == 1 {
		m.logger.Info("received shutdown signal, finishing in-flight work",
			zap.String("signal", sig.String()))
		m.cancel()
		return
	}
	m.logger.Warn("received second signal, exiting immediately")
	_ = m.logger.Sync()
	m.exit(core.ExitCodeSIGINT)
}

// Interrupted reports whether a signal has been received.
func (m *Manager) Interrupted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signals > 0
}

// Track runs fn as an in-flight run with the manager's context. It returns
// ErrClosed without calling fn once shutdown has begun.
func (m *Manager) Track(name string, fn func(ctx context.Context) error) error {
	if !m.tracker.Begin() {
		m.logger.Debug("run rejected, shutting down", zap.String("run", name))
		return ErrClosed
	}
	defer m.tracker.End()
	return fn(m.ctx)
}

// Active returns the number of tracked runs in flight.
func (m *Manager) Active() int {
	return m.tracker.Active()
}

// ShuttingDown reports whether Shutdown has been called.
func (m *Manager) ShuttingDown() bool {
	return m.tracker.Closed()
}

// Shutdown cancels Context, waits for tracked runs and then runs the hooks
// in stage order, all within the manager's timeout. Hooks get at least one
// second even when draining used the whole budget. Only the first call does
// anything.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	listening := m.listening
	m.mu.Unlock()

	start := time.Now()
	m.tracker.Close()
	m.cancel()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), m.timeout)
	if active := m.tracker.Active(); active > 0 {
		m.logger.Info("waiting for in-flight runs", zap.Int("active", active))
	}
	if err := m.tracker.Drain(drainCtx); err != nil {
		m.logger.Warn("in-flight runs did not finish in time", zap.Int("remaining", m.tracker.Active()))
	}
	cancelDrain()

	remaining := m.timeout - time.Since(start)
	if remaining < time.Second {
		remaining = time.Second
	}
	hookCtx, cancelHooks := context.WithTimeout(context.Background(), remaining)
	defer cancelHooks()

	m.logger.Debug("running shutdown hooks", zap.Strings("hooks", m.hooks.Names()))
	err := m.hooks.Run(hookCtx)

	if listening {
		signal.Stop(m.sigChan)
		close(m.sigChan)
	}

	if err != nil {
		m.logger.Error("shutdown completed with errors", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return err
	}
	m.logger.Debug("shutdown complete", zap.Duration("duration", time.Since(start)))
	return nil
}

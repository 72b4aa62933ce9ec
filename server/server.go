// Package server exposes the orchestrator over HTTP.
//
// Routes:
//   - POST /generate    one job, synchronous
//   - POST /batch       1-100 jobs, asynchronous, returns a batch id
//   - GET  /status/{id} job or batch status
//   - GET  /healthz     liveness
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"bananagen/db"
	"bananagen/imagegen"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Submitter runs a batch of jobs. *imagegen.Orchestrator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, jobs []imagegen.Job, cfg imagegen.BatchConfig) (*imagegen.BatchResult, error)
}

// Config configures the Server.
type Config struct {
	// Addr to listen on (default ":9090")
	Addr string

	ReadTimeout time.Duration

	// WriteTimeout must cover a synchronous /generate, retries included
	WriteTimeout time.Duration

	IdleTimeout time.Duration

	// ShutdownTimeout bounds Shutdown, including the drain of running batches
	ShutdownTimeout time.Duration

	// APITokenHash is a bcrypt hash. Empty disables authentication.
	APITokenHash string

	// Batch is the orchestration config used for every request
	Batch imagegen.BatchConfig

	// LogSkipPaths are paths excluded from request logging
	LogSkipPaths []string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":9090",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Batch:           imagegen.DefaultBatchConfig(),
		LogSkipPaths:    []string{"/healthz"},
	}
}

// Server wires the router, the orchestrator and persistence together.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	config     Config
	submitter  Submitter
	repo       *db.Repository
	writer     *db.AsyncWriter
	logger     *zap.Logger

	// batches run on baseCtx so they outlive the request that queued them
	baseCtx    context.Context
	cancelBase context.CancelFunc
	batches    sync.WaitGroup
}

// New creates a Server. writer may be nil, in which case job results are
// written synchronously.
func New(config Config, submitter Submitter, repo *db.Repository, writer *db.AsyncWriter, logger *zap.Logger) (*Server, error) {
	if submitter == nil {
		return nil, errors.New("server: submitter cannot be nil")
	}
	if repo == nil {
		return nil, errors.New("server: repository cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     config,
		submitter:  submitter,
		repo:       repo,
		writer:     writer,
		logger:     logger.Named("server"),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	s.logger.Info("server created",
		zap.String("addr", config.Addr),
		zap.Bool("auth_enabled", config.APITokenHash != ""))
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(requestLogger(s.logger, s.config.LogSkipPaths))

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.config.APITokenHash != "" {
			r.Use(newBearerAuth(s.config.APITokenHash, s.logger).Middleware)
		}
		r.Post("/generate", s.handleGenerate)
		r.Post("/batch", s.handleBatch)
		r.Get("/status/{id}", s.handleStatus)
	})
	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for running batches. Batches
// still running at the deadline are cancelled; their jobs end as failed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		s.batches.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("cancelling running batches")
		s.cancelBase()
		<-done
	}
	s.cancelBase()

	if err != nil {
		return fmt.Errorf("http shutdown error: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

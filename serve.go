package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"bananagen/core"
	"bananagen/db"
	"bananagen/server"
	"bananagen/shutdown"

	"go.uber.org/zap/zapcore"
)

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("serve", stderr)
	addr := fs.String("addr", "", "listen address (default BANANAGEN_ADDR)")
	cleanupEvery := fs.Duration("cleanup-interval", 24*time.Hour, "how often finished jobs older than BANANAGEN_RETENTION_DAYS are removed")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}

	a, err := newApp(stdout, stderr, zapcore.InfoLevel)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close()

	ctx := a.ctx()
	orch, err := a.orchestrator(ctx)
	if err != nil {
		return fail(stderr, err)
	}

	writer := db.NewAsyncWriter(a.logger.Zap().Named("async_writer"))
	writer.Start()
	a.manager.Add("async-writer", shutdown.StageWorkers, func(ctx context.Context) error {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if !writer.Stop(timeout) {
			return fmt.Errorf("pending job writes were not applied")
		}
		return nil
	})

	if a.cfg.RetentionDays > 0 {
		a.database.StartCleanupScheduler(ctx, db.CleanupSchedulerConfig{
			RetentionDays:  a.cfg.RetentionDays,
			Interval:       *cleanupEvery,
			RunImmediately: true,
		}, a.logger.Zap().Named("cleanup"))
	}

	cfg := server.DefaultConfig()
	cfg.Addr = a.cfg.Addr
	if *addr != "" {
		cfg.Addr = *addr
	}
	cfg.APITokenHash = a.cfg.APITokenHash
	cfg.Batch = a.batchConfig()
	// A synchronous /generate may spend every retry on every provider.
	if minWrite := a.cfg.HTTPTimeout * time.Duration(a.cfg.MaxRetries+1); minWrite > cfg.WriteTimeout {
		cfg.WriteTimeout = minWrite
	}

	srv, err := server.New(cfg, orch, a.repo, writer, a.logger.Zap())
	if err != nil {
		return fail(stderr, err)
	}
	a.manager.Add("http", shutdown.StageListeners, srv.Shutdown)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	fmt.Fprintf(stdout, "Listening on %s\n", cfg.Addr)

	select {
	case err := <-errCh:
		if err != nil {
			return fail(stderr, err)
		}
	case <-ctx.Done():
	}

	if err := a.close(); err != nil {
		return fail(stderr, fmt.Errorf("shutdown finished with errors: %w", err))
	}
	return core.ExitCodeSuccess
}

package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CleanupResult contains statistics about a cleanup run.
type CleanupResult struct {
	BatchesDeleted int64
	JobsDeleted    int64
	Duration       time.Duration
}

// Cleanup deletes finished batches and jobs last updated more than
// retentionDays ago. Cached generations are never removed: they are what
// makes later identical requests free.
//
// Example:
//
//	result, err := database.Cleanup(ctx, 30)
func (d *Database) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	start := time.Now()
	result := CleanupResult{}

	if retentionDays < 0 {
		return result, fmt.Errorf("retentionDays must be non-negative, got %d", retentionDays)
	}
	conn, err := d.conn()
	if err != nil {
		return result, err
	}
	cutoff := formatTime(time.Now().AddDate(0, 0, -retentionDays))

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin cleanup transaction: %w", err)
	}
	defer tx.Rollback()

	// Jobs go first so the count excludes cascaded deletes.
	res, err := tx.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE updated_at < ? AND status IN (?, ?)
		AND (batch_id IS NULL OR batch_id IN (SELECT id FROM batches WHERE updated_at < ? AND status IN (?, ?)))`,
		cutoff, StatusDone, StatusFailed, cutoff, StatusDone, StatusFailed)
	if err != nil {
		return result, fmt.Errorf("failed to delete jobs: %w", err)
	}
	result.JobsDeleted, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM batches WHERE updated_at < ? AND status IN (?, ?)`, cutoff, StatusDone, StatusFailed)
	if err != nil {
		return result, fmt.Errorf("failed to delete batches: %w", err)
	}
	result.BatchesDeleted, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	result.Duration = time.Since(start)
	return result, nil
}

// CleanupSchedulerConfig controls the periodic cleanup loop.
type CleanupSchedulerConfig struct {
	RetentionDays int
	Interval      time.Duration
	// RunImmediately runs one cleanup before the first tick
	RunImmediately bool
}

// DefaultCleanupSchedulerConfig keeps 30 days of history and checks daily.
func DefaultCleanupSchedulerConfig() CleanupSchedulerConfig {
	return CleanupSchedulerConfig{
		RetentionDays:  30,
		Interval:       24 * time.Hour,
		RunImmediately: true,
	}
}

// StartCleanupScheduler runs Cleanup on an interval until ctx is done.
// It returns at once; the loop runs in its own goroutine.
func (d *Database) StartCleanupScheduler(ctx context.Context, config CleanupSchedulerConfig, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultCleanupSchedulerConfig().Interval
	}

	run := func() {
		result, err := d.Cleanup(ctx, config.RetentionDays)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("database cleanup failed", zap.Error(err))
			}
			return
		}
		logger.Info("database cleanup finished",
			zap.Int64("batches_deleted", result.BatchesDeleted),
			zap.Int64("jobs_deleted", result.JobsDeleted),
			zap.Duration("duration", result.Duration))
	}

	go func() {
		if config.RunImmediately {
			run()
		}
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

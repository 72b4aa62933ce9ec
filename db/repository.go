package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bananagen/imagegen"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Job and batch statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// ErrDuplicateID is returned when a job or batch ID already exists.
var ErrDuplicateID = errors.New("db: duplicate id")

// JobRecord is a row of the jobs table.
type JobRecord struct {
	ID           string    `json:"id"`
	BatchID      string    `json:"batch_id,omitempty"`
	Prompt       string    `json:"prompt"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	ProviderHint string    `json:"provider_hint,omitempty"`
	Status       string    `json:"status"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	ArtifactRef  string    `json:"artifact_ref,omitempty"`
	ProviderUsed string    `json:"provider_used,omitempty"`
	Attempts     int       `json:"attempts"`
	Cached       bool      `json:"cached"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BatchRecord is a row of the batches table.
type BatchRecord struct {
	ID          string     `json:"id"`
	JobCount    int        `json:"job_count"`
	Status      string     `json:"status"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Cached      int        `json:"cached"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StatusReport answers a status lookup for either a job or a batch.
type StatusReport struct {
	Kind  string       `json:"kind"` // "job" or "batch"
	Job   *JobRecord   `json:"job,omitempty"`
	Batch *BatchRecord `json:"batch,omitempty"`
	Jobs  []JobRecord  `json:"jobs,omitempty"`
}

// Repository records batches and jobs and answers status lookups.
type Repository struct {
	db  *Database
	now func() time.Time
}

// NewRepository creates a Repository over database.
func NewRepository(database *Database) *Repository {
	return &Repository{db: database, now: time.Now}
}

// CreateBatch inserts a queued batch and its jobs in one transaction.
//
// Parameters:
//   - batchID: the batch row to create; empty records the jobs standalone
//   - jobs: inserted with status queued, in input order
//
// Returns ErrDuplicateID when the batch or any job ID already exists. Nothing
// is written in that case.
func (r *Repository) CreateBatch(ctx context.Context, batchID string, jobs []imagegen.Job) error {
	conn, err := r.db.conn()
	if err != nil {
		return err
	}
	now := formatTime(r.now())

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var batchRef any
	if batchID != "" {
		batchRef = batchID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batches (id, job_count, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`, batchID, len(jobs), StatusQueued, now, now)
		if err != nil {
			return insertError("batch", batchID, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO jobs (id, batch_id, prompt, width, height, provider_hint, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare job insert: %w", err)
	}
	defer stmt.Close()

	for _, job := range jobs {
		if _, err := stmt.ExecContext(ctx, job.ID, batchRef, job.Prompt, job.Width, job.Height, job.ProviderHint, StatusQueued, now, now); err != nil {
			return insertError("job", job.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// MarkProcessing moves a batch and its queued jobs to processing.
func (r *Repository) MarkProcessing(ctx context.Context, batchID string, jobIDs []string) error {
	conn, err := r.db.conn()
	if err != nil {
		return err
	}
	now := formatTime(r.now())

	if batchID != "" {
		if _, err := conn.ExecContext(ctx, `UPDATE batches SET status = ?, updated_at = ? WHERE id = ?`, StatusProcessing, now, batchID); err != nil {
			return fmt.Errorf("failed to update batch %s: %w", batchID, err)
		}
	}
	for _, id := range jobIDs {
		if _, err := conn.ExecContext(ctx, `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`, StatusProcessing, now, id, StatusQueued); err != nil {
			return fmt.Errorf("failed to update job %s: %w", id, err)
		}
	}
	return nil
}

// RecordJobResult stores the outcome of one job.
func (r *Repository) RecordJobResult(ctx context.Context, res imagegen.JobResult) error {
	conn, err := r.db.conn()
	if err != nil {
		return err
	}

	status := StatusDone
	if !res.Success {
		status = StatusFailed
	}
	_, err = conn.ExecContext(ctx, `
		UPDATE jobs SET status = ?, fingerprint = ?, artifact_ref = ?, provider_used = ?,
			attempts = ?, cached = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		status, res.Fingerprint, res.ArtifactRef, res.ProviderUsed,
		res.AttemptsMade, res.Cached, res.ErrorMessage(), formatTime(r.now()), res.JobID)
	if err != nil {
		return fmt.Errorf("failed to record result for job %s: %w", res.JobID, err)
	}
	return nil
}

// CompleteBatch records every job result and the batch totals.
//
// Parameters:
//   - batchID: a batch created by CreateBatch
//   - result: the BatchResult returned by Orchestrator.Submit
//
// The batch status becomes done, or failed when no job succeeded.
func (r *Repository) CompleteBatch(ctx context.Context, batchID string, result *imagegen.BatchResult) error {
	if result == nil {
		return fmt.Errorf("batch result is nil")
	}
	for _, res := range result.Results {
		if err := r.RecordJobResult(ctx, res); err != nil {
			return err
		}
	}
	if batchID == "" {
		return nil
	}

	conn, err := r.db.conn()
	if err != nil {
		return err
	}
	status := StatusDone
	if result.Succeeded == 0 && len(result.Results) > 0 {
		status = StatusFailed
	}
	now := formatTime(r.now())
	_, err = conn.ExecContext(ctx, `
		UPDATE batches SET status = ?, succeeded = ?, failed = ?, cached = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		status, result.Succeeded, result.Failed, result.Cached, now, now, batchID)
	if err != nil {
		return fmt.Errorf("failed to complete batch %s: %w", batchID, err)
	}
	return nil
}

// FailBatch marks a batch and its unfinished jobs failed with reason.
func (r *Repository) FailBatch(ctx context.Context, batchID, reason string) error {
	conn, err := r.db.conn()
	if err != nil {
		return err
	}
	now := formatTime(r.now())
	if _, err := conn.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ?
		WHERE batch_id = ? AND status IN (?, ?)`,
		StatusFailed, reason, now, batchID, StatusQueued, StatusProcessing); err != nil {
		return fmt.Errorf("failed to fail jobs of batch %s: %w", batchID, err)
	}
	if _, err := conn.ExecContext(ctx, `
		UPDATE batches SET status = ?, failed = job_count - succeeded, updated_at = ?, completed_at = ?
		WHERE id = ?`, StatusFailed, now, now, batchID); err != nil {
		return fmt.Errorf("failed to fail batch %s: %w", batchID, err)
	}
	return nil
}

const jobColumns = `id, COALESCE(batch_id, ''), prompt, width, height, provider_hint, status,
	fingerprint, artifact_ref, provider_used, attempts, cached, error, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (JobRecord, error) {
	var (
		j                    JobRecord
		createdAt, updatedAt string
	)
	err := row.Scan(&j.ID, &j.BatchID, &j.Prompt, &j.Width, &j.Height, &j.ProviderHint, &j.Status,
		&j.Fingerprint, &j.ArtifactRef, &j.ProviderUsed, &j.Attempts, &j.Cached, &j.Error, &createdAt, &updatedAt)
	if err != nil {
		return j, err
	}
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return j, nil
}

// GetJob returns one job or ErrNotFound.
func (r *Repository) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}
	j, err := scanJob(conn.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job %s: %w", id, err)
	}
	return &j, nil
}

// ListBatchJobs returns the jobs of a batch in insertion order.
func (r *Repository) ListBatchJobs(ctx context.Context, batchID string) ([]JobRecord, error) {
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE batch_id = ? ORDER BY rowid", batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs of batch %s: %w", batchID, err)
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetBatch returns one batch or ErrNotFound.
func (r *Repository) GetBatch(ctx context.Context, id string) (*BatchRecord, error) {
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}

	var (
		b                    BatchRecord
		createdAt, updatedAt string
		completedAt          sql.NullString
	)
	err = conn.QueryRowContext(ctx, `
		SELECT id, job_count, status, succeeded, failed, cached, created_at, updated_at, completed_at
		FROM batches WHERE id = ?`, id).
		Scan(&b.ID, &b.JobCount, &b.Status, &b.Succeeded, &b.Failed, &b.Cached, &createdAt, &updatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query batch %s: %w", id, err)
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	b.CompletedAt = parseNullTime(completedAt)
	return &b, nil
}

// Status looks id up as a job first, then as a batch.
func (r *Repository) Status(ctx context.Context, id string) (*StatusReport, error) {
	job, err := r.GetJob(ctx, id)
	if err == nil {
		return &StatusReport{Kind: "job", Job: job}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	batch, err := r.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	jobs, err := r.ListBatchJobs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusReport{Kind: "batch", Batch: batch, Jobs: jobs}, nil
}

// insertError maps primary key violations to ErrDuplicateID.
func insertError(kind, id string, err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %s %s", ErrDuplicateID, kind, id)
		}
	}
	return fmt.Errorf("failed to insert %s %s: %w", kind, id, err)
}

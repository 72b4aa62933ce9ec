package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"bananagen/imagegen"
)

// GenerationStore is the SQLite ResultStore. Records are written with
// INSERT ... ON CONFLICT DO NOTHING, so the first record for a fingerprint
// is the one that stays.
type GenerationStore struct {
	db *Database
}

var _ imagegen.ResultStore = (*GenerationStore)(nil)

// NewGenerationStore creates a store over database.
func NewGenerationStore(database *Database) *GenerationStore {
	return &GenerationStore{db: database}
}

// Get implements imagegen.ResultStore.
func (s *GenerationStore) Get(ctx context.Context, key string) (*imagegen.GenerationRecord, bool, error) {
	conn, err := s.db.conn()
	if err != nil {
		return nil, false, err
	}

	var (
		rec       imagegen.GenerationRecord
		metadata  string
		createdAt string
	)
	err = conn.QueryRowContext(ctx, `
		SELECT fingerprint, artifact_ref, provider, attempts, metadata, created_at
		FROM generations WHERE fingerprint = ?`, key).
		Scan(&rec.Fingerprint, &rec.ArtifactRef, &rec.ProviderUsed, &rec.Attempts, &metadata, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query generation: %w", err)
	}

	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return nil, false, fmt.Errorf("failed to decode generation metadata: %w", err)
		}
	}
	rec.CreatedAt = parseTime(createdAt)
	return &rec, true, nil
}

// Put implements imagegen.ResultStore.
func (s *GenerationStore) Put(ctx context.Context, key string, record imagegen.GenerationRecord) error {
	conn, err := s.db.conn()
	if err != nil {
		return err
	}

	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode generation metadata: %w", err)
	}
	if record.Metadata == nil {
		metadata = []byte("{}")
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO generations (fingerprint, artifact_ref, provider, attempts, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING`,
		key, record.ArtifactRef, record.ProviderUsed, record.Attempts, string(metadata), formatTime(record.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert generation: %w", err)
	}
	return nil
}

// Count returns the number of cached generations.
func (s *GenerationStore) Count(ctx context.Context) (int64, error) {
	conn, err := s.db.conn()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM generations").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count generations: %w", err)
	}
	return n, nil
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Sealer encrypts provider keys before they are stored.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// ProviderRecord is a row of the api_providers table.
type ProviderRecord struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	BaseURL     string    `json:"base_url"`
	ModelName   string    `json:"model_name"`
	AuthType    string    `json:"auth_type"`
	IsActive    bool      `json:"is_active"`
	HasKey      bool      `json:"has_key"`
	CreatedAt   time.Time `json:"created_at"`
}

// KeyRepository stores sealed provider API keys per environment.
// Plaintext keys never reach the database.
type KeyRepository struct {
	db     *Database
	sealer Sealer
	now    func() time.Time
}

// NewKeyRepository creates a KeyRepository.
//
// Parameters:
//   - database: an open, migrated Database
//   - sealer: seals keys before they reach the api_keys table; required
func NewKeyRepository(database *Database, sealer Sealer) (*KeyRepository, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if sealer == nil {
		return nil, fmt.Errorf("sealer cannot be nil")
	}
	return &KeyRepository{db: database, sealer: sealer, now: time.Now}, nil
}

// UpsertProvider creates or updates a provider row and returns its ID.
func (r *KeyRepository) UpsertProvider(ctx context.Context, p ProviderRecord) (int64, error) {
	conn, err := r.db.conn()
	if err != nil {
		return 0, err
	}
	if p.Name == "" {
		return 0, fmt.Errorf("provider name is required")
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Name
	}
	if p.AuthType == "" {
		p.AuthType = "bearer"
	}
	now := formatTime(r.now())

	var id int64
	err = conn.QueryRowContext(ctx, `
		INSERT INTO api_providers (name, display_name, base_url, model_name, auth_type, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name = excluded.display_name,
			base_url = CASE WHEN excluded.base_url = '' THEN api_providers.base_url ELSE excluded.base_url END,
			model_name = CASE WHEN excluded.model_name = '' THEN api_providers.model_name ELSE excluded.model_name END,
			auth_type = excluded.auth_type,
			is_active = 1,
			updated_at = excluded.updated_at
		RETURNING id`,
		p.Name, p.DisplayName, p.BaseURL, p.ModelName, p.AuthType, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert provider %s: %w", p.Name, err)
	}
	return id, nil
}

// SaveKey seals key and stores it for provider in environment, replacing any
// previous key for that pair.
func (r *KeyRepository) SaveKey(ctx context.Context, provider, environment, key string) error {
	conn, err := r.db.conn()
	if err != nil {
		return err
	}
	sealed, err := r.sealer.Seal(key)
	if err != nil {
		return fmt.Errorf("failed to seal key for %s: %w", provider, err)
	}

	providerID, err := r.providerID(ctx, conn, provider)
	if err != nil {
		return err
	}
	now := formatTime(r.now())
	_, err = conn.ExecContext(ctx, `
		INSERT INTO api_keys (provider_id, sealed_key, environment, is_active, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(provider_id, environment) DO UPDATE SET
			sealed_key = excluded.sealed_key,
			is_active = 1,
			updated_at = excluded.updated_at`,
		providerID, sealed, environment, now, now)
	if err != nil {
		return fmt.Errorf("failed to store key for %s: %w", provider, err)
	}
	return nil
}

// LoadKey returns the plaintext key for provider in environment and stamps
// last_used_at. Returns ErrNotFound when no active key exists.
func (r *KeyRepository) LoadKey(ctx context.Context, provider, environment string) (string, error) {
	conn, err := r.db.conn()
	if err != nil {
		return "", err
	}

	var (
		keyID  int64
		sealed string
	)
	err = conn.QueryRowContext(ctx, `
		SELECT k.id, k.sealed_key
		FROM api_keys k JOIN api_providers p ON p.id = k.provider_id
		WHERE p.name = ? AND k.environment = ? AND k.is_active = 1 AND p.is_active = 1`,
		provider, environment).Scan(&keyID, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query key for %s: %w", provider, err)
	}

	key, err := r.sealer.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to unseal key for %s: %w", provider, err)
	}
	if _, err := conn.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, formatTime(r.now()), keyID); err != nil {
		return "", fmt.Errorf("failed to stamp key usage for %s: %w", provider, err)
	}
	return key, nil
}

// DeactivateKey disables the key for provider in environment.
func (r *KeyRepository) DeactivateKey(ctx context.Context, provider, environment string) error {
	conn, err := r.db.conn()
	if err != nil {
		return err
	}
	res, err := conn.ExecContext(ctx, `
		UPDATE api_keys SET is_active = 0, updated_at = ?
		WHERE environment = ? AND provider_id = (SELECT id FROM api_providers WHERE name = ?)`,
		formatTime(r.now()), environment, provider)
	if err != nil {
		return fmt.Errorf("failed to deactivate key for %s: %w", provider, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProviders returns all providers and whether each has an active key in environment.
func (r *KeyRepository) ListProviders(ctx context.Context, environment string) ([]ProviderRecord, error) {
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `
		SELECT p.id, p.name, p.display_name, p.base_url, p.model_name, p.auth_type, p.is_active, p.created_at,
			EXISTS (SELECT 1 FROM api_keys k WHERE k.provider_id = p.id AND k.environment = ? AND k.is_active = 1)
		FROM api_providers p ORDER BY p.name`, environment)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var out []ProviderRecord
	for rows.Next() {
		var (
			p         ProviderRecord
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.DisplayName, &p.BaseURL, &p.ModelName, &p.AuthType, &p.IsActive, &createdAt, &p.HasKey); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *KeyRepository) providerID(ctx context.Context, conn *sql.DB, name string) (int64, error) {
	var id int64
	err := conn.QueryRowContext(ctx, `SELECT id FROM api_providers WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: provider %s", ErrNotFound, name)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query provider %s: %w", name, err)
	}
	return id, nil
}

// Package pgstore is a Postgres-backed imagegen.ResultStore, for caches
// shared between hosts. The SQLite store in package db stays the default.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bananagen/core"
	"bananagen/imagegen"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the connection pool.
type Config struct {
	URL             string
	PingTimeout     time.Duration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// ConfigFromEnv reads pool settings; url usually comes from core.Config.DatabaseURL.
func ConfigFromEnv(url string) (Config, error) {
	cfg := Config{
		URL:             url,
		PingTimeout:     core.ParseDurationEnv("DATABASE_PING_TIMEOUT", 2),
		MaxConns:        int32(core.ParseIntEnv("DATABASE_MAX_CONNS", 10)),
		MinConns:        int32(core.ParseIntEnv("DATABASE_MIN_CONNS", 0)),
		MaxConnLifetime: time.Duration(core.ParseIntEnv("DATABASE_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and ranges.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("DATABASE_PING_TIMEOUT must be positive")
	}
	if c.MaxConns < 1 {
		return errors.New("DATABASE_MAX_CONNS must be >= 1")
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		return errors.New("DATABASE_MIN_CONNS must be between 0 and DATABASE_MAX_CONNS")
	}
	if c.MaxConnLifetime < 0 {
		return errors.New("DATABASE_CONN_MAX_LIFETIME_MIN must be >= 0")
	}
	return nil
}

// Querier is the subset of *pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS bananagen_generations (
	fingerprint   TEXT PRIMARY KEY,
	artifact_ref  TEXT NOT NULL,
	provider_used TEXT NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 0,
	metadata      JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store implements imagegen.ResultStore on Postgres.
type Store struct {
	q    Querier
	pool *pgxpool.Pool
}

var _ imagegen.ResultStore = (*Store)(nil)

// New wraps an existing querier. The caller owns its lifecycle.
func New(q Querier) *Store {
	return &Store{q: q}
}

// Open creates a pool, pings it and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &Store{q: pool, pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the generations table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Get returns the record stored under key.
func (s *Store) Get(ctx context.Context, key string) (*imagegen.GenerationRecord, bool, error) {
	var (
		rec      imagegen.GenerationRecord
		metadata []byte
	)
	err := s.q.QueryRow(ctx, `
		SELECT fingerprint, artifact_ref, provider_used, attempts, metadata, created_at
		FROM bananagen_generations WHERE fingerprint = $1`, key).
		Scan(&rec.Fingerprint, &rec.ArtifactRef, &rec.ProviderUsed, &rec.Attempts, &metadata, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query generation %s: %w", key, err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, false, fmt.Errorf("decode metadata for %s: %w", key, err)
		}
	}
	return &rec, true, nil
}

// Put stores record under key. An existing record is kept.
func (s *Store) Put(ctx context.Context, key string, record imagegen.GenerationRecord) error {
	var metadata []byte
	if record.Metadata != nil {
		b, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", key, err)
		}
		metadata = b
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO bananagen_generations (fingerprint, artifact_ref, provider_used, attempts, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fingerprint) DO NOTHING`,
		key, record.ArtifactRef, record.ProviderUsed, record.Attempts, metadata, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("insert generation %s: %w", key, err)
	}
	return nil
}

// Close releases the pool opened by Open. It is a no-op for stores built with New.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

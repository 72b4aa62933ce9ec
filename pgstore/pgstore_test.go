package pgstore

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"bananagen/imagegen"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type storedRow struct {
	ref       string
	provider  string
	attempts  int
	metadata  []byte
	createdAt time.Time
}

// stubDB emulates the two statements Store issues.
type stubDB struct {
	mu      sync.Mutex
	rows    map[string]storedRow
	execErr error
	schema  int
}

func newStubDB() *stubDB {
	return &stubDB{rows: make(map[string]storedRow)}
}

func (s *stubDB) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execErr != nil {
		return pgconn.CommandTag{}, s.execErr
	}
	switch {
	case strings.Contains(query, "CREATE TABLE"):
		s.schema++
	case strings.Contains(query, "INSERT INTO bananagen_generations"):
		key := args[0].(string)
		if _, exists := s.rows[key]; exists {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		s.rows[key] = storedRow{
			ref:       args[1].(string),
			provider:  args[2].(string),
			attempts:  args[3].(int),
			metadata:  args[4].([]byte),
			createdAt: args[5].(time.Time),
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	default:
		return pgconn.CommandTag{}, errors.New("unsupported exec")
	}
	return pgconn.CommandTag{}, nil
}

func (s *stubDB) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := args[0].(string)
	row, ok := s.rows[key]
	if !ok {
		return stubRow{}
	}
	return stubRow{scan: func(dest ...any) error {
		*dest[0].(*string) = key
		*dest[1].(*string) = row.ref
		*dest[2].(*string) = row.provider
		*dest[3].(*int) = row.attempts
		*dest[4].(*[]byte) = row.metadata
		*dest[5].(*time.Time) = row.createdAt
		return nil
	}}
}

func TestStore_GetPut(t *testing.T) {
	ctx := context.Background()
	db := newStubDB()
	store := New(db)

	if err := store.EnsureSchema(ctx); err != nil || db.schema != 1 {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	if _, ok, err := store.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	rec := imagegen.GenerationRecord{
		ArtifactRef:  "s3://bucket/a.png",
		ProviderUsed: "gemini",
		Attempts:     1,
		CreatedAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Metadata:     map[string]any{"model": "gemini-2.5-flash-image-preview"},
	}
	if err := store.Put(ctx, "fp", rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "fp", imagegen.GenerationRecord{ArtifactRef: "other"}); err != nil {
		t.Fatalf("duplicate Put failed: %v", err)
	}

	got, ok, err := store.Get(ctx, "fp")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.ArtifactRef != rec.ArtifactRef || got.Fingerprint != "fp" {
		t.Errorf("expected first record to win, got %+v", got)
	}
	if got.Metadata["model"] != "gemini-2.5-flash-image-preview" {
		t.Errorf("unexpected metadata %v", got.Metadata)
	}
}

func TestStore_ExecError(t *testing.T) {
	db := newStubDB()
	db.execErr = errors.New("connection refused")
	store := New(db)

	err := store.Put(context.Background(), "fp", imagegen.GenerationRecord{ArtifactRef: "x"})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected wrapped exec error, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{URL: "postgres://localhost/bananagen", PingTimeout: time.Second, MaxConns: 4}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing url", func(c *Config) { c.URL = "" }, true},
		{"zero ping timeout", func(c *Config) { c.PingTimeout = 0 }, true},
		{"zero max conns", func(c *Config) { c.MaxConns = 0 }, true},
		{"min above max", func(c *Config) { c.MinConns = 5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_MAX_CONNS", "3")
	cfg, err := ConfigFromEnv("postgres://localhost/bananagen")
	if err != nil {
		t.Fatalf("ConfigFromEnv failed: %v", err)
	}
	if cfg.MaxConns != 3 || cfg.PingTimeout != 2*time.Second {
		t.Errorf("unexpected config %+v", cfg)
	}
	if _, err := ConfigFromEnv(""); err == nil {
		t.Error("expected error without url")
	}
}

func TestOpen_Integration(t *testing.T) {
	url := os.Getenv("BANANAGEN_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BANANAGEN_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	cfg, err := ConfigFromEnv(url)
	if err != nil {
		t.Fatal(err)
	}
	store, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	key := "integration-" + time.Now().Format("20060102150405.000000000")
	if err := store.Put(ctx, key, imagegen.GenerationRecord{ArtifactRef: "ref", ProviderUsed: "mock", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok, err := store.Get(ctx, key)
	if err != nil || !ok || got.ArtifactRef != "ref" {
		t.Errorf("expected stored record, got %+v ok=%v err=%v", got, ok, err)
	}
}

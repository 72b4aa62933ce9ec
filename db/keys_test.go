package db

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// reverseSealer is a reversible stand-in for the AEAD sealer.
type reverseSealer struct{}

func (reverseSealer) Seal(s string) (string, error) {
	return "sealed:" + reverse(s), nil
}

func (reverseSealer) Open(s string) (string, error) {
	if !strings.HasPrefix(s, "sealed:") {
		return "", errors.New("not sealed")
	}
	return reverse(strings.TrimPrefix(s, "sealed:")), nil
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

func TestKeyRepository_SaveLoad(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)
	keys, err := NewKeyRepository(database, reverseSealer{})
	if err != nil {
		t.Fatal(err)
	}

	if err := keys.SaveKey(ctx, "openrouter", "production", "sk-or-v1-abc"); err != nil {
		t.Fatalf("SaveKey failed: %v", err)
	}

	var stored string
	database.DB().QueryRow(`SELECT sealed_key FROM api_keys`).Scan(&stored)
	if strings.Contains(stored, "sk-or-v1-abc") {
		t.Error("plaintext key reached the database")
	}

	got, err := keys.LoadKey(ctx, "openrouter", "production")
	if err != nil || got != "sk-or-v1-abc" {
		t.Errorf("expected key back, got %q (%v)", got, err)
	}

	var lastUsed *string
	database.DB().QueryRow(`SELECT last_used_at FROM api_keys`).Scan(&lastUsed)
	if lastUsed == nil {
		t.Error("expected last_used_at to be stamped")
	}

	if err := keys.SaveKey(ctx, "openrouter", "production", "sk-or-v1-new"); err != nil {
		t.Fatalf("replacing key failed: %v", err)
	}
	got, _ = keys.LoadKey(ctx, "openrouter", "production")
	if got != "sk-or-v1-new" {
		t.Errorf("expected replaced key, got %q", got)
	}

	if _, err := keys.LoadKey(ctx, "openrouter", "staging"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other environment, got %v", err)
	}
}

func TestKeyRepository_DeactivateAndList(t *testing.T) {
	ctx := context.Background()
	keys, _ := NewKeyRepository(newTestDatabase(t), reverseSealer{})

	keys.SaveKey(ctx, "gemini", "development", "AIza-test")
	providers, err := keys.ListProviders(ctx, "development")
	if err != nil {
		t.Fatalf("ListProviders failed: %v", err)
	}
	if len(providers) != 3 {
		t.Fatalf("expected 3 providers, got %d", len(providers))
	}
	for _, p := range providers {
		if (p.Name == "gemini") != p.HasKey {
			t.Errorf("unexpected HasKey for %s: %v", p.Name, p.HasKey)
		}
	}

	if err := keys.DeactivateKey(ctx, "gemini", "development"); err != nil {
		t.Fatalf("DeactivateKey failed: %v", err)
	}
	if _, err := keys.LoadKey(ctx, "gemini", "development"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after deactivation, got %v", err)
	}
	if err := keys.DeactivateKey(ctx, "requesty", "development"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound without a key, got %v", err)
	}
}

func TestKeyRepository_UnknownProvider(t *testing.T) {
	keys, _ := NewKeyRepository(newTestDatabase(t), reverseSealer{})
	if err := keys.SaveKey(context.Background(), "nope", "production", "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	id, err := keys.UpsertProvider(context.Background(), ProviderRecord{Name: "custom", BaseURL: "https://example.com/v1"})
	if err != nil || id == 0 {
		t.Fatalf("UpsertProvider failed: %d %v", id, err)
	}
	if err := keys.SaveKey(context.Background(), "custom", "production", "k"); err != nil {
		t.Errorf("SaveKey after upsert failed: %v", err)
	}
}

func TestNewKeyRepository_RequiresSealer(t *testing.T) {
	if _, err := NewKeyRepository(newTestDatabase(t), nil); err == nil {
		t.Error("expected error for nil sealer")
	}
}

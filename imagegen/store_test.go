package imagegen

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryStore_FirstPutWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, ok, err := s.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	first := GenerationRecord{Fingerprint: "k", ArtifactRef: "one", CreatedAt: time.Now()}
	second := GenerationRecord{Fingerprint: "k", ArtifactRef: "two", CreatedAt: time.Now()}
	if err := s.Put(ctx, "k", first); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, "k", second); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	rec, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if rec.ArtifactRef != "one" {
		t.Errorf("expected first record to win, got %s", rec.ArtifactRef)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 record, got %d", s.Len())
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Put(ctx, "k", GenerationRecord{Metadata: map[string]any{"a": 1}})

	rec, _, _ := s.Get(ctx, "k")
	rec.Metadata["a"] = 2

	again, _, _ := s.Get(ctx, "k")
	if again.Metadata["a"] != 1 {
		t.Errorf("stored metadata was mutated through Get: %v", again.Metadata["a"])
	}
}

func TestFileSink_Save(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}

	ref, err := sink.Save(context.Background(), "nested/a.png", []byte("png"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	want := filepath.Join(dir, "out", "nested", "a.png")
	if ref != want {
		t.Errorf("expected ref %s, got %s", want, ref)
	}
	data, err := os.ReadFile(ref)
	if err != nil || string(data) != "png" {
		t.Errorf("expected file content png, got %q (%v)", data, err)
	}

	abs := filepath.Join(dir, "abs.png")
	ref, err = sink.Save(context.Background(), abs, []byte("x"))
	if err != nil || ref != abs {
		t.Errorf("expected absolute ref %s, got %s (%v)", abs, ref, err)
	}
}

func TestFileSink_Errors(t *testing.T) {
	if _, err := NewFileSink(""); err == nil {
		t.Error("expected error for empty directory")
	}

	sink, _ := NewFileSink(t.TempDir())
	if _, err := sink.Save(context.Background(), "", []byte("x")); err == nil {
		t.Error("expected error for empty name")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sink.Save(ctx, "a.png", []byte("x")); err == nil {
		t.Error("expected error for cancelled context")
	}
}

package imagegen

import (
	"context"
	"sync"
)

// ResultStore maps a content fingerprint to the record of its completed
// generation. Implementations must be safe for concurrent use.
//
// Put keeps the first record stored for a key; later Puts for the same key
// are ignored without error, so records never change once written.
type ResultStore interface {
	Get(ctx context.Context, key string) (*GenerationRecord, bool, error)
	Put(ctx context.Context, key string, record GenerationRecord) error
}

// MemoryStore is an in-process ResultStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]GenerationRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]GenerationRecord)}
}

// Get returns a copy of the record for key.
func (s *MemoryStore) Get(ctx context.Context, key string) (*GenerationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	rec.Metadata = cloneMetadata(rec.Metadata)
	return &rec, true, nil
}

// Put stores record under key unless a record already exists.
func (s *MemoryStore) Put(ctx context.Context, key string, record GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[key]; exists {
		return nil
	}
	record.Metadata = cloneMetadata(record.Metadata)
	s.records[key] = record
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

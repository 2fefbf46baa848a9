package ledger

import (
	"context"
	"strings"
	"sync"
)

type memoryRecord struct {
	status string
	value  []byte
}

// MemoryStore is an in-process Store used by tests and local development.
// It honors the same conditional-write semantics as the durable backends.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(rec.value))
	copy(out, rec.value)
	return out, true, nil
}

func (s *MemoryStore) PutIfStatus(_ context.Context, key, expectedStatus, newStatus string, value []byte) (bool, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if expectedStatus == StatusAbsent {
		if exists {
			return false, append([]byte(nil), rec.value...), nil
		}
	} else {
		if !exists || rec.status != expectedStatus {
			return false, append([]byte(nil), rec.value...), nil
		}
	}

	s.records[key] = memoryRecord{status: newStatus, value: append([]byte(nil), value...)}
	return true, nil, nil
}

func (s *MemoryStore) ListByPrefix(_ context.Context, prefix string) ([]KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []KV
	for k, rec := range s.records {
		if strings.HasPrefix(k, prefix) {
			out = append(out, KV{Key: k, Value: append([]byte(nil), rec.value...)})
		}
	}
	return out, nil
}

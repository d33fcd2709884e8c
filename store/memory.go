package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps run records in process memory. Useful for tests and for
// callers that do not need durability.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*RunRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*RunRecord)}
}

func (s *MemoryStore) Save(ctx context.Context, record *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	copied.UpdatedAt = time.Now()
	if existing, ok := s.records[record.RunID]; ok {
		copied.CreatedAt = existing.CreatedAt
	}
	s.records[record.RunID] = &copied
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[runID]; !ok {
		return ErrRunNotFound
	}
	delete(s.records, runID)
	return nil
}

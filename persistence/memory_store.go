package persistence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryRunStore keeps run records in process memory. Records are stored
// as serialized JSON so callers never share mutable state with the store.
type MemoryRunStore struct {
	mu     sync.RWMutex
	runs   map[string][]byte
	closed bool
}

// NewMemoryRunStore creates an in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string][]byte)}
}

func (s *MemoryRunStore) SaveRun(ctx context.Context, record *RunRecord) error {
	if record == nil || record.RunID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.runs[record.RunID] = data
	return nil
}

func (s *MemoryRunStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	data, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *MemoryRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	records := make([]*RunRecord, 0, len(s.runs))
	for _, data := range s.runs {
		var record RunRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, err
		}
		if matchesFilter(&record, filter) {
			records = append(records, &record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

func (s *MemoryRunStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.runs[runID]; !ok {
		return ErrNotFound
	}
	delete(s.runs, runID)
	return nil
}

func (s *MemoryRunStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryRunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.runs = nil
	return nil
}

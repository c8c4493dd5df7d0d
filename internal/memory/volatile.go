package memory

import (
	"context"
	"sync"
)

// VolatileStore keeps records in process memory only.
type VolatileStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
}

func NewVolatileStore() *VolatileStore {
	return &VolatileStore{collections: map[string]map[string]Record{}}
}

func (s *VolatileStore) Upsert(_ context.Context, collection string, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.collections[collection]
	if !ok {
		records = map[string]Record{}
		s.collections[collection] = records
	}
	records[record.Key] = record
	return nil
}

func (s *VolatileStore) Search(_ context.Context, collection string, embedding []float64, limit int, minRelevance float64) ([]Match, error) {
	s.mu.RLock()
	records := make([]Record, 0, len(s.collections[collection]))
	for _, record := range s.collections[collection] {
		records = append(records, record)
	}
	s.mu.RUnlock()
	return rank(records, embedding, limit, minRelevance), nil
}

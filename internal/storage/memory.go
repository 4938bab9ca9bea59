package storage

import (
	"context"

	"doppa/internal/model"
)

const memoryShards = 64

// MemoryStore keeps records in process memory
type MemoryStore struct {
	records *ShardedMemoryStorage[model.FeatureKey, Record]
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: NewShardedMemoryStorage[model.FeatureKey, Record](memoryShards, nil),
	}
}

func (s *MemoryStore) Put(_ context.Context, entries ...Entry) error {
	for _, e := range entries {
		s.records.Set(e.Key, e.Record)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key model.FeatureKey) (Record, error) {
	rec, ok := s.records.Get(key)
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Len(context.Context) (int, error) {
	return s.records.Count(), nil
}

func (s *MemoryStore) Close() error {
	s.records.Clear()
	return nil
}

package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. It is not durable.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

func memoryKey(contentKey, jobClass string) string {
	return jobClass + "\x00" + contentKey
}

func (s *MemoryStore) IsProcessed(_ context.Context, contentKey, jobClass string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[memoryKey(contentKey, jobClass)]
	return ok, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, contentKey, jobClass, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(contentKey, jobClass)
	if _, ok := s.records[key]; ok {
		return nil
	}
	now := s.now()
	s.records[key] = Record{
		ContentKey: contentKey,
		JobClass:   jobClass,
		TaskID:     taskID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

func (s *MemoryStore) ListProcessed(_ context.Context, jobClass string) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if jobClass == "" || rec.JobClass == jobClass {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context, jobClass string) (*Stats, error) {
	records, err := s.ListProcessed(ctx, jobClass)
	if err != nil {
		return nil, err
	}
	return statsFromRecords(records, startOfDay(s.now())), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

package counter

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-node deployments and tests.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string][]time.Time
	quotas map[string]int64
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]time.Time),
		quotas: make(map[string]int64),
		now:    time.Now,
	}
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	kept := s.prune(key, now, window)
	kept = append(kept, now)
	s.events[key] = kept
	return int64(len(kept)), nil
}

func (s *MemoryStore) Count(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.prune(key, s.now(), window)
	s.events[key] = kept
	return int64(len(kept)), nil
}

// prune drops events older than the window. Must hold the lock.
func (s *MemoryStore) prune(key string, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	evs := s.events[key]
	i := 0
	for ; i < len(evs); i++ {
		if evs[i].After(cutoff) {
			break
		}
	}
	return evs[i:]
}

func (s *MemoryStore) AddQuota(_ context.Context, key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.quotas[key] += n
	return s.quotas[key], nil
}

func (s *MemoryStore) Quota(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotas[key], nil
}

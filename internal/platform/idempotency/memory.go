package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore provides an in-memory implementation useful for testing and
// local development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]time.Time
}

// NewMemoryStore constructs an empty memory-backed ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]time.Time)}
}

// Reserve implements the Store interface.
func (s *MemoryStore) Reserve(_ context.Context, source, eventID string, now time.Time, ttl time.Duration) (bool, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	key := source + "::" + eventID

	s.mu.Lock()
	defer s.mu.Unlock()

	if expires, ok := s.records[key]; ok && now.Before(expires) {
		return false, nil
	}
	s.records[key] = now.Add(ttl)
	return true, nil
}

// Release implements the Store interface.
func (s *MemoryStore) Release(_ context.Context, source, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, source+"::"+eventID)
	return nil
}

// CleanupExpired implements the Store interface.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}

	removed := 0
	for key, expires := range s.records {
		if now.Before(expires) {
			continue
		}
		delete(s.records, key)
		removed++
		if removed >= limit {
			break
		}
	}
	return removed, nil
}

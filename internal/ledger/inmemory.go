package ledger

import (
	"context"
	"sync"
)

const defaultInMemoryCapacity = 1000

// InMemoryStore keeps the most recent entries in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	capacity int
	entries  []Entry
}

func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = defaultInMemoryCapacity
	}
	return &InMemoryStore{capacity: capacity}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	entry = normalize(entry)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	if over := len(s.entries) - s.capacity; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return nil
}

// Recent returns up to limit entries in chronological order.
func (s *InMemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]Entry, limit)
	copy(out, s.entries[len(s.entries)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

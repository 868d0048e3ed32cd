package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the most recent entries in a ring.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewMemoryStore creates a store holding at most capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{entries: make([]Entry, capacity)}
}

func (s *MemoryStore) Record(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[s.next] = e
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, q Query) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.limit()
	out := make([]Entry, 0, min(limit, s.lenLocked()))
	s.eachNewestLocked(func(e Entry) bool {
		if q.matches(e) {
			out = append(out, e)
		}
		return len(out) < limit
	})
	return out, nil
}

func (s *MemoryStore) Stats(context.Context) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum Summary
	var total time.Duration
	s.eachNewestLocked(func(e Entry) bool {
		sum.add(e.Status, 1)
		total += e.Duration
		return true
	})
	if sum.Total > 0 {
		sum.AverageDuration = total / time.Duration(sum.Total)
	}
	return sum, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lenLocked()
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) lenLocked() int {
	if s.full {
		return len(s.entries)
	}
	return s.next
}

func (s *MemoryStore) eachNewestLocked(fn func(Entry) bool) {
	n := s.lenLocked()
	for i := 1; i <= n; i++ {
		idx := (s.next - i + len(s.entries)) % len(s.entries)
		if !fn(s.entries[idx]) {
			return
		}
	}
}

var _ Store = (*MemoryStore)(nil)

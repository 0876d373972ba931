package audit

import (
	"context"
	"sync"
	"time"
)

type storedEntry struct {
	Entry
	CreatedAt time.Time
}

// MemoryService is the default in-memory audit log.
type MemoryService struct {
	mu      sync.Mutex
	entries []storedEntry
	limit   int
}

// NewMemoryService keeps at most limit entries (oldest evicted first); 0
// means unbounded.
func NewMemoryService(limit int) *MemoryService {
	return &MemoryService{limit: limit}
}

func (s *MemoryService) Record(_ context.Context, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, storedEntry{Entry: e, CreatedAt: time.Now()})
	if s.limit > 0 && len(s.entries) > s.limit {
		s.entries = s.entries[len(s.entries)-s.limit:]
	}
}

// FailureCount is always 0: an in-memory append cannot fail.
func (s *MemoryService) FailureCount() uint64 { return 0 }

// Entries returns a snapshot, newest last, for tests and admin tooling.
func (s *MemoryService) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Entry
	}
	return out
}

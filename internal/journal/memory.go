package journal

import "sync"

// MemorySink keeps the most recent entries in a bounded ring. Useful
// for tests and for serving recent-activity queries without a
// database.
type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
}

// NewMemorySink creates a ring sink holding up to max entries.
// max <= 0 defaults to 4096.
func NewMemorySink(max int) *MemorySink {
	if max <= 0 {
		max = 4096
	}
	return &MemorySink{max: max}
}

// Append implements Sink.
func (s *MemorySink) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) >= s.max {
		s.entries = s.entries[1:]
	}
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of all retained entries in arrival order.
func (s *MemorySink) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// EntriesForRun returns retained entries for one run, in sequence
// order (which equals arrival order within a run).
func (s *MemorySink) EntriesForRun(runID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

package ingest

import "sync"

// NotifiedSet is the process-wide dedup bookkeeping for approval prompts.
// Marks are taken synchronously before any asynchronous prompt call, closing
// the race between the three arrival channels. Restart starts empty: task
// candidacy is re-derived from persisted status, never from stale memory.
type NotifiedSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewNotifiedSet() *NotifiedSet {
	return &NotifiedSet{ids: map[string]struct{}{}}
}

// MarkIfAbsent atomically checks-then-marks. false means another channel got
// there first.
func (s *NotifiedSet) MarkIfAbsent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Unmark rolls a mark back (failed prompt) or clears it on resolution.
func (s *NotifiedSet) Unmark(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *NotifiedSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

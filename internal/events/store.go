package events

import (
	"sort"
	"sync"
	"time"
)

const maxRuns = 200

// Store keeps the most recent runs in memory.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

func NewStore() *Store {
	return &Store{runs: make(map[string]*Run)}
}

// Add records a run, evicting the oldest finished ones over capacity.
func (s *Store) Add(r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	s.evict()
}

// Get returns a copy of a run.
func (s *Store) Get(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return *r, true
}

// Update applies fn to a run under the lock and returns the result.
func (s *Store) Update(id string, fn func(*Run)) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	fn(r)
	return *r, true
}

// List returns runs newest first, optionally only those of stackID.
func (s *Store) List(stackID string) []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		if stackID == "" || r.StackID == stackID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Stats summarises the stored runs.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{TotalRuns: len(s.runs)}
	var total time.Duration
	for _, r := range s.runs {
		switch r.Status {
		case StatusRunning:
			st.ActiveRuns++
		case StatusCompleted:
			st.CompletedRuns++
			total += r.Duration
		case StatusFailed:
			st.FailedRuns++
		}
	}
	if st.CompletedRuns > 0 {
		st.AvgDuration = total.Seconds() / float64(st.CompletedRuns)
	}
	if finished := st.CompletedRuns + st.FailedRuns; finished > 0 {
		st.SuccessRate = float64(st.CompletedRuns) / float64(finished)
	}
	return st
}

// evict must be called with the lock held.
func (s *Store) evict() {
	if len(s.runs) <= maxRuns {
		return
	}
	var done []*Run
	for _, r := range s.runs {
		if r.Status != StatusRunning {
			done = append(done, r)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].StartedAt.Before(done[j].StartedAt) })
	for i := 0; i < len(s.runs)-maxRuns && i < len(done); i++ {
		delete(s.runs, done[i].ID)
	}
}

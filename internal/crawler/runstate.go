package crawler

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// RunState is the state every task of one run shares: the visited counter,
// the join counter and the abort flag.
type RunState struct {
	id     uuid.UUID
	budget int64

	reserveMu sync.Mutex
	visited   atomic.Int64

	outstanding atomic.Int64
	joined      chan struct{}

	aborted atomic.Bool
	forks   atomic.Int64
	merges  atomic.Int64
}

// NewRunState returns the state for a run identified by id. A budget of zero
// leaves the run unbounded.
func NewRunState(id uuid.UUID, budget int) *RunState {
	if budget < 0 {
		budget = 0
	}
	return &RunState{
		id:     id,
		budget: int64(budget),
		joined: make(chan struct{}),
	}
}

// ID returns the run identifier.
func (s *RunState) ID() uuid.UUID { return s.id }

// Bounded reports whether the run has a budget.
func (s *RunState) Bounded() bool { return s.budget > 0 }

// Budget returns the run budget, or zero when unbounded.
func (s *RunState) Budget() int { return int(s.budget) }

// Visited returns how many URLs have been reserved for parsing.
func (s *RunState) Visited() int { return int(s.visited.Load()) }

// Remaining returns the unreserved budget. It returns -1 for unbounded runs.
func (s *RunState) Remaining() int {
	if !s.Bounded() {
		return -1
	}
	left := s.budget - s.visited.Load()
	if left < 0 {
		return 0
	}
	return int(left)
}

// Exhausted reports whether a bounded run has no budget left.
func (s *RunState) Exhausted() bool {
	return s.Bounded() && s.Remaining() == 0
}

// Reserve claims up to n URLs of budget and returns how many were granted.
// The check and the increment happen under one lock, so concurrent tasks
// never push visited past the budget. Nothing is granted once the run is
// aborted.
func (s *RunState) Reserve(n int) int {
	if n <= 0 {
		return 0
	}
	s.reserveMu.Lock()
	defer s.reserveMu.Unlock()
	if s.aborted.Load() {
		return 0
	}
	if !s.Bounded() {
		s.visited.Add(int64(n))
		return n
	}
	left := s.budget - s.visited.Load()
	if left <= 0 {
		return 0
	}
	if int64(n) > left {
		n = int(left)
	}
	s.visited.Add(int64(n))
	return n
}

// Abort sets the abort flag. It returns true only for the call that set it.
// Once Abort returns, Reserve grants nothing and visited no longer grows.
func (s *RunState) Abort() bool {
	s.reserveMu.Lock()
	defer s.reserveMu.Unlock()
	return s.aborted.CompareAndSwap(false, true)
}

// Aborted reports whether the run has been aborted.
func (s *RunState) Aborted() bool { return s.aborted.Load() }

// Acquire takes a join reference for a task that is about to be scheduled.
func (s *RunState) Acquire() int64 {
	return s.outstanding.Add(1)
}

// Release drops a join reference and closes Joined when the counter reaches
// zero. Releasing more references than were acquired panics, like a negative
// sync.WaitGroup counter.
func (s *RunState) Release() int64 {
	n := s.outstanding.Add(-1)
	switch {
	case n == 0:
		close(s.joined)
	case n < 0:
		panic("crawler: negative join counter")
	}
	return n
}

// Outstanding returns the current join counter.
func (s *RunState) Outstanding() int64 { return s.outstanding.Load() }

// Joined is closed once every task of the run has released its reference.
func (s *RunState) Joined() <-chan struct{} { return s.joined }

// Forks returns how many worker tasks were forked.
func (s *RunState) Forks() int { return int(s.forks.Load()) }

// Merges returns how many task merges reached the root handler.
func (s *RunState) Merges() int { return int(s.merges.Load()) }

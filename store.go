package examlab

import (
	"sync"
)

// ChangeKind identifies which field of an ExerciseState was updated.
type ChangeKind string

const (
	ChangeStatus    ChangeKind = "status"
	ChangeLastCheck ChangeKind = "lastCheck"
)

// Change describes a committed update to one exercise row.
type Change struct {
	ExerciseID int
	Kind       ChangeKind
	State      ExerciseState
}

// Store is the process-wide, in-memory table of exercise states. Rows exist
// for every catalog exercise from construction on and are never removed.
// Readers always receive copies; a row is replaced as a whole under the lock
// so no partially written record is ever observable.
type Store struct {
	mu        sync.RWMutex
	rows      map[int]ExerciseState
	listeners []func(Change)
}

// NewStore creates a store with one idle row per exercise.
func NewStore(exercises []Exercise) *Store {
	s := &Store{
		rows: make(map[int]ExerciseState, len(exercises)),
	}
	for _, ex := range exercises {
		s.rows[ex.ID] = ExerciseState{Status: StatusIdle}
	}
	return s
}

// OnChange registers a callback invoked after every committed update.
// Callbacks run on the updating goroutine, outside the store lock.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Get returns a copy of the state for id.
func (s *Store) Get(id int) (ExerciseState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.rows[id]
	if !ok {
		return ExerciseState{}, false
	}
	st.LastCheck = st.LastCheck.clone()
	return st, true
}

// Status returns the lifecycle status for id.
func (s *Store) Status(id int) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.rows[id]
	return st.Status, ok
}

// Snapshot returns copies of every row keyed by exercise id.
func (s *Store) Snapshot() map[int]ExerciseState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int]ExerciseState, len(s.rows))
	for id, st := range s.rows {
		st.LastCheck = st.LastCheck.clone()
		out[id] = st
	}
	return out
}

// SetStatus records a new lifecycle status. Only the lifecycle manager
// calls this.
func (s *Store) SetStatus(id int, status Status) error {
	return s.update(id, ChangeStatus, func(st *ExerciseState) {
		st.Status = status
	})
}

// SetLastCheck replaces the most recent check result. Only the checker
// engine calls this.
func (s *Store) SetLastCheck(id int, result CheckResult) error {
	stored := result.clone()
	return s.update(id, ChangeLastCheck, func(st *ExerciseState) {
		st.LastCheck = stored
	})
}

func (s *Store) update(id int, kind ChangeKind, apply func(*ExerciseState)) error {
	s.mu.Lock()
	st, ok := s.rows[id]
	if !ok {
		s.mu.Unlock()
		return &ExerciseError{ExerciseID: id, Err: ErrExerciseNotFound}
	}
	apply(&st)
	s.rows[id] = st
	listeners := s.listeners
	st.LastCheck = st.LastCheck.clone()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(Change{ExerciseID: id, Kind: kind, State: st})
	}
	return nil
}

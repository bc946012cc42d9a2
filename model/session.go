package model

import (
	"sync"
)

// RoutineID names a once-per-session maintenance routine.
type RoutineID string

// Session tracks which maintenance routines already ran during this client
// session. It replaces module-level "already ran" globals: callers create one
// Session per login and pass it to the migration runner explicitly.
type Session struct {
	mu  sync.Mutex
	ran map[RoutineID]bool
}

func NewSession() *Session {
	return &Session{ran: make(map[RoutineID]bool)}
}

func (s *Session) Ran(id RoutineID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ran[id]
}

// MarkRan records a successful run. Failed attempts are not marked so the
// routine is retried next session.
func (s *Session) MarkRan(id RoutineID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ran[id] = true
}

// Reset clears the run set, used when a run is explicitly forced.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ran = make(map[RoutineID]bool)
}

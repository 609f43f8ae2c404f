package rag

import "sync"

// sessionLocks serializes turns per session id. Entries are dropped once no
// turn holds or waits on them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: map[string]*refMutex{}}
}

// Lock blocks until the session is free and returns its unlock function
func (s *sessionLocks) Lock(id string) func() {
	s.mu.Lock()
	m, ok := s.locks[id]
	if !ok {
		m = &refMutex{}
		s.locks[id] = m
	}
	m.refs++
	s.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		s.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

func (s *sessionLocks) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

package session

import (
	"sort"
	"sync"
	"time"
)

// Store keeps one Session per chat. Each entry has its own lock, so events
// for one chat run one at a time while other chats proceed in parallel.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	mu   sync.Mutex
	sess *Session
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (s *Store) entry(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{sess: &Session{ID: id, State: Idle, UpdatedAt: s.now()}}
		s.entries[id] = e
	}
	return e
}

// With runs fn with exclusive access to the session, creating it on first
// use. fn must not retain the pointer.
func (s *Store) With(id string, fn func(*Session)) {
	e := s.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.sess)
	e.sess.UpdatedAt = s.now()
}

// Get returns a copy of the session. It waits for any event in flight.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.clone(), true
}

// IDs returns every known session id, sorted.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ResetIdle returns sessions that have been waiting longer than maxAge to
// idle, without touching one that is busy. It returns how many were reset.
func (s *Store) ResetIdle(maxAge time.Duration) int {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	reset := 0
	for _, e := range entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.sess.State.Kind != StateIdle && e.sess.UpdatedAt.Before(cutoff) {
			e.sess.reset()
			e.sess.UpdatedAt = s.now()
			reset++
		}
		e.mu.Unlock()
	}
	return reset
}

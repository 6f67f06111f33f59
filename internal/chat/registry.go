package chat

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrDuplicateID is returned by Insert when the session id is already taken.
var ErrDuplicateID = errors.New("session id is already registered")

// Sequence mints session ids. Ids start at 1 and are never reused within
// the lifetime of a Sequence.
type Sequence struct {
	last atomic.Int64
}

// NewSequence returns a Sequence whose first id is start. Values below 1
// start at 1.
func NewSequence(start int) *Sequence {
	if start < 1 {
		start = 1
	}
	s := &Sequence{}
	s.last.Store(int64(start - 1))
	return s
}

// Next returns the next unused id.
func (s *Sequence) Next() int {
	return int(s.last.Add(1))
}

// Registry maintains a thread-safe map of session id to Session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int]*Session
}

// NewRegistry creates a new empty session registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[int]*Session),
	}
}

// Insert adds a session under its id.
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.id]; exists {
		return ErrDuplicateID
	}
	r.sessions[s.id] = s
	return nil
}

// Remove deletes a session by id and returns it. Removing an absent id is a
// no-op that reports false.
func (r *Registry) Remove(id int) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[id]
	if exists {
		delete(r.sessions, id)
	}
	return s, exists
}

// Get retrieves a session by id.
func (r *Registry) Get(id int) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, exists := r.sessions[id]
	return s, exists
}

// Count returns the number of registered sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the registered sessions ordered by id.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].id < sessions[j].id
	})
	return sessions
}

// ForEach calls action for every session accepted by pred. Membership is
// fixed when iteration starts and neither callback runs under the registry
// lock, so sessions may be removed concurrently.
func (r *Registry) ForEach(pred func(*Session) bool, action func(*Session)) {
	for _, s := range r.Snapshot() {
		if pred == nil || pred(s) {
			action(s)
		}
	}
}

// Close tells every session the server is going away, closes them, and
// clears the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[int]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
	}
}

package session

import "sync"

// Registry maps connection ID -> Session. It is safe for concurrent use.
// Absence from the registry means "never joined or already disconnected",
// which callers treat as a no-op rather than an error.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
	}
}

// Put inserts or overwrites the session for connID.
func (r *Registry) Put(connID string, s Session) {
	r.mu.Lock()
	r.sessions[connID] = s
	r.mu.Unlock()
}

// Get returns the session for connID and whether it exists.
func (r *Registry) Get(connID string) (Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[connID]
	r.mu.RUnlock()
	return s, ok
}

// Remove deletes the session for connID and returns it if it was present.
func (r *Registry) Remove(connID string) (Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[connID]
	if ok {
		delete(r.sessions, connID)
	}
	r.mu.Unlock()
	return s, ok
}

// InRoom returns a snapshot of the connection IDs whose session is in room.
// The slice is safe to iterate after the lock is released.
func (r *Registry) InRoom(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0)
	for id, s := range r.sessions {
		if s.Room == room {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.sessions)
	r.mu.RUnlock()
	return n
}

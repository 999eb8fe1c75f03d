package session

import "sync"

// Registry owns the stream-id → session mapping. Sessions are created
// by carrier ingress on a start event and removed on every teardown
// path: transport close, carrier stop, or webhook hangup.
type Registry struct {
	mu       sync.RWMutex
	byStream map[string]*Session
	byCall   map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byStream: make(map[string]*Session),
		byCall:   make(map[string]*Session),
	}
}

// Add registers a session under its stream id and call-control id.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byStream[s.StreamID] = s
	if s.CallControlID != "" {
		r.byCall[s.CallControlID] = s
	}
}

// ByStream looks up a session by carrier stream id.
func (r *Registry) ByStream(streamID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byStream[streamID]
	return s, ok
}

// ByCall looks up a session by call-control id.
func (r *Registry) ByCall(callControlID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byCall[callControlID]
	return s, ok
}

// Remove deletes a session from both indexes. Safe to call more than
// once for the same session.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byStream[s.StreamID]; ok && cur == s {
		delete(r.byStream, s.StreamID)
	}
	if cur, ok := r.byCall[s.CallControlID]; ok && cur == s {
		delete(r.byCall, s.CallControlID)
	}
}

// All returns a snapshot of the active sessions.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.byStream))
	for _, s := range r.byStream {
		sessions = append(sessions, s)
	}
	return sessions
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byStream)
}

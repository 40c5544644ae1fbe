// Package session implements the process-wide Session Registry
// (§2, §3): a mapping from user_id to the one live connection that
// owns it.
package session

import (
	"sync"

	"github.com/lipsignal/lipsignal-go/domain"
	"github.com/pion/webrtc/v4"
)

// Socket is the minimal surface the registry needs from a
// connection; the gateway's real websocket wrapper satisfies it.
// Keeping this as an interface (rather than importing
// gorilla/websocket here) lets the registry and its tests stay free
// of any transport dependency.
type Socket interface {
	Send(encrypted []byte) error
	RemoteAddr() string
}

// Session is the in-memory per-connection state described in §3.
type Session struct {
	UserID          string
	Socket          Socket
	AESKey          [32]byte
	ServerPC        *webrtc.PeerConnection
	ModelPreference domain.ModelPreference
}

// Registry is the process-wide Session Registry. All mutations are
// serialized by mu so a concurrent reader never observes a partial
// add/remove/replace (§5).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put registers or atomically replaces the session for userID. The
// caller is responsible for closing any previous socket/PC before or
// after the swap; Put itself only returns the session it replaced.
func (r *Registry) Put(s *Session) (previous *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous = r.sessions[s.UserID]
	r.sessions[s.UserID] = s
	return previous
}

// Get returns the live session for userID, if any.
func (r *Registry) Get(userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Remove deletes the session for userID iff it is still the one
// identified by sess (prevents a stale cleanup from a replaced
// connection removing the new session).
func (r *Registry) Remove(userID string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[userID]; ok && cur == sess {
		delete(r.sessions, userID)
	}
}

// FindBySocket locates the session owning sock, for callers that
// have the socket but not the user_id.
func (r *Registry) FindBySocket(sock Socket) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.Socket == sock {
			return s, true
		}
	}
	return nil, false
}

// Count returns the number of live sessions.
func (r *Registry) Count() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.sessions))
}

// SetModelPreference updates the model preference for userID, if a
// session exists.
func (r *Registry) SetModelPreference(userID string, pref domain.ModelPreference) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return false
	}
	s.ModelPreference = pref
	return true
}

// SetServerPC attaches a server-side peer connection to userID's
// session.
func (r *Registry) SetServerPC(userID string, pc *webrtc.PeerConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return false
	}
	s.ServerPC = pc
	return true
}

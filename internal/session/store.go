// Package session holds the client-side session and watches its expiry.
package session

import (
	"sync"
	"time"

	"github.com/example/neighborhood-portal/internal/access"
)

// Session is the token pair a client holds after signing in.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Store is the single place a client keeps its session and identity. It is
// safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	current  *Session
	identity *access.Identity
}

func NewStore() *Store {
	return &Store{}
}

// Set installs a fresh session, replacing any previous one.
func (s *Store) Set(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &session
}

// Replace installs rotated tokens. ExpiresAt never moves backwards; it
// reports false when no session is held.
func (s *Store) Replace(next Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return false
	}
	if !next.ExpiresAt.After(s.current.ExpiresAt) {
		next.ExpiresAt = s.current.ExpiresAt
	}
	s.current = &next
	return true
}

// Get returns a copy of the current session.
func (s *Store) Get() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

// AccessToken returns the bearer token or "" when signed out.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.AccessToken
}

func (s *Store) SetIdentity(identity *access.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity == nil {
		s.identity = nil
		return
	}
	clone := *identity
	clone.Roles = append([]access.RoleAssignment(nil), identity.Roles...)
	s.identity = &clone
}

// Identity returns a copy of the cached identity, or nil.
func (s *Store) Identity() *access.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	clone := *s.identity
	clone.Roles = append([]access.RoleAssignment(nil), s.identity.Roles...)
	return &clone
}

// Clear forgets the session and identity.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.identity = nil
}

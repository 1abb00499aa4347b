package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Session struct {
	ID        string
	Username  string
	ExpiresAt time.Time
}

// SessionManager keeps admin sessions in memory; a restart logs everybody out.
type SessionManager struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]Session
	now      func() time.Time
}

func NewSessionManager(ttl time.Duration) *SessionManager {
	return &SessionManager{
		ttl:      ttl,
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

func (m *SessionManager) Create(username string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, session := range m.sessions {
		if !now.Before(session.ExpiresAt) {
			delete(m.sessions, id)
		}
	}

	session := Session{
		ID:        uuid.NewString(),
		Username:  username,
		ExpiresAt: now.Add(m.ttl),
	}
	m.sessions[session.ID] = session
	return session
}

// Get returns the session if it exists and has not expired.
func (m *SessionManager) Get(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	if !m.now().Before(session.ExpiresAt) {
		delete(m.sessions, id)
		return Session{}, false
	}
	return session, true
}

func (m *SessionManager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

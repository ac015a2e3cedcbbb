package memory

import (
	"context"
	"sync"

	"assessment-session-service/internal/app"
	"assessment-session-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
// It allows one active session per student.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
	active   map[string]string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.Session),
		active:   make(map[string]string),
	}
}

func (s *SessionStore) Add(_ context.Context, session *app.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.active[session.StudentID()]; ok && id != session.ID() {
		return domain.ErrActiveSessionExists
	}
	s.active[session.StudentID()] = session.ID()
	s.sessions[session.ID()] = session
	return nil
}

func (s *SessionStore) Get(sessionID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

// Release frees the student's active slot if it is still held by session.
func (s *SessionStore) Release(_ context.Context, session *app.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[session.StudentID()] == session.ID() {
		delete(s.active, session.StudentID())
	}
}

func (s *SessionStore) Remove(_ context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	delete(s.sessions, sessionID)
	if s.active[session.StudentID()] == sessionID {
		delete(s.active, session.StudentID())
	}
}

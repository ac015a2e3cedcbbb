package redis

import (
	"context"
	"sync"
	"time"

	"assessment-session-service/internal/app"
	"assessment-session-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the student claim only while it still names the session.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Sessions keep running in process; a local map holds them.
//   - Redis marks session liveness and holds the one-active-session claim
//     per student, so the claim holds across instances.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) Add(ctx context.Context, session *app.Session) error {
	ok, err := s.client.SetNX(ctx, s.studentKey(session.StudentID()), session.ID(), s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrActiveSessionExists
	}

	s.mu.Lock()
	s.sessions[session.ID()] = session
	s.mu.Unlock()
	// best-effort liveness marker
	_ = s.client.Set(ctx, s.key(session.ID()), session.StudentID(), s.ttl).Err()
	return nil
}

func (s *SessionStore) Get(sessionID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

func (s *SessionStore) Release(ctx context.Context, session *app.Session) {
	_ = releaseScript.Run(ctx, s.client, []string{s.studentKey(session.StudentID())}, session.ID()).Err()
}

func (s *SessionStore) Remove(ctx context.Context, sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.Release(ctx, session)
	_ = s.client.Del(ctx, s.key(sessionID)).Err()
}

func (s *SessionStore) key(sessionID string) string {
	return "assessment:session:" + sessionID
}

func (s *SessionStore) studentKey(studentID string) string {
	return "assessment:student:" + studentID + ":active"
}

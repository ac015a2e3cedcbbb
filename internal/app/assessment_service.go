package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"assessment-session-service/internal/domain"
	"assessment-session-service/internal/question"
	"assessment-session-service/internal/submission"
	"github.com/google/uuid"
)

// SessionRepository abstracts where live sessions are kept (in-memory, Redis, etc).
// Add claims the student's single active session slot.
type SessionRepository interface {
	Add(ctx context.Context, s *Session) error
	Get(sessionID string) (*Session, bool)
	Release(ctx context.Context, s *Session)
	Remove(ctx context.Context, sessionID string)
}

// DefaultRetention is how long a finished session stays readable.
const DefaultRetention = 10 * time.Minute

// ServiceConfig holds the defaults applied to every new session.
type ServiceConfig struct {
	DefaultTimeLimitSeconds int
	Retention               time.Duration
	Session                 SessionOptions
}

// CreateRequest describes a new session. Exactly one of Topic or Slots selects the questions.
type CreateRequest struct {
	StudentID                string
	Topic                    *question.Topic
	Slots                    []question.Slot
	TimeLimitSeconds         int
	WindowStart              time.Time
	WindowEnd                time.Time
	QuestionTimeLimitSeconds int
}

// AssessmentService contains the session use cases.
type AssessmentService struct {
	sessions SessionRepository
	loader   *question.Loader
	pipeline *submission.Pipeline
	cfg      ServiceConfig
	logger   *slog.Logger
}

func NewAssessmentService(store SessionRepository, loader *question.Loader, pipeline *submission.Pipeline, cfg ServiceConfig, logger *slog.Logger) *AssessmentService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = logger
	}
	return &AssessmentService{
		sessions: store,
		loader:   loader,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
	}
}

// Create loads the questions and opens a session in the instructions state.
func (s *AssessmentService) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if strings.TrimSpace(req.StudentID) == "" {
		return nil, domain.ErrMissingIdentity
	}

	var (
		questions []domain.Question
		err       error
	)
	switch {
	case req.Topic != nil && len(req.Slots) == 0:
		questions, err = s.loader.LoadTopic(ctx, *req.Topic)
	case req.Topic == nil && len(req.Slots) > 0:
		questions, err = s.loader.LoadSlots(ctx, req.Slots)
	default:
		return nil, fmt.Errorf("%w: exactly one of topic or slots is required", domain.ErrInvalidConfig)
	}
	if err != nil {
		return nil, err
	}

	limit := req.TimeLimitSeconds
	if limit <= 0 {
		limit = s.cfg.DefaultTimeLimitSeconds
	}
	cfg := domain.SessionConfig{
		Questions:                questions,
		TimeLimitSeconds:         limit,
		WindowStart:              req.WindowStart,
		WindowEnd:                req.WindowEnd,
		QuestionTimeLimitSeconds: req.QuestionTimeLimitSeconds,
	}

	session, err := NewSession(uuid.NewString(), req.StudentID, cfg, s.pipeline, s.cfg.Session)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Add(ctx, session); err != nil {
		session.Close()
		return nil, err
	}
	go s.reap(session)

	s.logger.Info("session created",
		"session_id", session.ID(),
		"student_id", session.StudentID(),
		"questions", len(questions))
	return session, nil
}

// reap frees the student's slot once the session is over and drops the
// session after the retention period.
func (s *AssessmentService) reap(session *Session) {
	select {
	case <-session.Finished():
	case <-session.Done():
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.sessions.Release(ctx, session)
	cancel()

	time.AfterFunc(s.cfg.Retention, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.sessions.Remove(ctx, session.ID())
		session.Close()
	})
}

// Get returns a live or recently finished session.
func (s *AssessmentService) Get(sessionID string) (*Session, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Authorize returns the session when it belongs to studentID.
func (s *AssessmentService) Authorize(sessionID, studentID string) (*Session, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, domain.ErrMissingIdentity
	}
	session, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if session.StudentID() != studentID {
		// Do not reveal sessions of other students.
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Abandon closes the session and forgets it.
func (s *AssessmentService) Abandon(ctx context.Context, sessionID string) error {
	session, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	session.Close()
	s.sessions.Release(ctx, session)
	s.sessions.Remove(ctx, sessionID)
	s.logger.Info("session removed", "session_id", sessionID)
	return nil
}

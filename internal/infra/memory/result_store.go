package memory

import (
	"context"
	"sync"
	"time"

	"assessment-session-service/internal/domain"
)

// ResultStore keeps submitted results in memory. A second submission of the
// same session is rejected with domain.ErrDuplicateSubmission and the
// recorded receipt.
type ResultStore struct {
	mu      sync.Mutex
	now     func() time.Time
	results map[string]storedResult
}

type storedResult struct {
	submission domain.Submission
	receipt    domain.Receipt
}

func NewResultStore() *ResultStore {
	return &ResultStore{
		now:     time.Now,
		results: make(map[string]storedResult),
	}
}

func (s *ResultStore) Submit(ctx context.Context, sub domain.Submission) (*domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.results[sub.SessionID]; ok {
		receipt := prev.receipt
		return &receipt, domain.ErrDuplicateSubmission
	}
	agg := sub.Aggregate
	receipt := domain.Receipt{
		SessionID:  sub.SessionID,
		Aggregate:  &agg,
		RecordedAt: s.now(),
	}
	s.results[sub.SessionID] = storedResult{submission: sub, receipt: receipt}
	return &receipt, nil
}

// Get returns the stored submission of a session.
func (s *ResultStore) Get(sessionID string) (domain.Submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[sessionID]
	return r.submission, ok
}

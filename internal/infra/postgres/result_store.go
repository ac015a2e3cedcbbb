package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"assessment-session-service/internal/domain"
	"github.com/uptrace/bun"
)

// sessionResult is the row of a submitted session.
type sessionResult struct {
	bun.BaseModel `bun:"table:session_results"`

	SessionID        string                  `bun:"session_id,pk"`
	StudentID        string                  `bun:"student_id,notnull"`
	Correct          int                     `bun:"correct,notnull"`
	Incorrect        int                     `bun:"incorrect,notnull"`
	Unattempted      int                     `bun:"unattempted,notnull"`
	Total            int                     `bun:"total,notnull"`
	Percentage       float64                 `bun:"percentage,notnull"`
	TimeTakenSeconds int                     `bun:"time_taken_seconds,notnull"`
	TimedOut         bool                    `bun:"timed_out,notnull"`
	CompletedAt      time.Time               `bun:"completed_at,notnull"`
	PerQuestion      []domain.QuestionResult `bun:"per_question,type:jsonb"`
	RecordedAt       time.Time               `bun:"recorded_at,nullzero,notnull,default:current_timestamp"`
}

func (r sessionResult) receipt() *domain.Receipt {
	return &domain.Receipt{
		SessionID: r.SessionID,
		Aggregate: &domain.Aggregate{
			Correct:     r.Correct,
			Incorrect:   r.Incorrect,
			Unattempted: r.Unattempted,
			Total:       r.Total,
			Percentage:  r.Percentage,
		},
		RecordedAt: r.RecordedAt,
	}
}

// ResultStore persists submissions in the session_results table. The session
// id is the primary key, so a second submission returns the recorded row with
// domain.ErrDuplicateSubmission.
type ResultStore struct {
	db *bun.DB
}

func NewResultStore(db *bun.DB) *ResultStore {
	return &ResultStore{db: db}
}

func (s *ResultStore) Submit(ctx context.Context, sub domain.Submission) (*domain.Receipt, error) {
	row := &sessionResult{
		SessionID:        sub.SessionID,
		StudentID:        sub.StudentID,
		Correct:          sub.Aggregate.Correct,
		Incorrect:        sub.Aggregate.Incorrect,
		Unattempted:      sub.Aggregate.Unattempted,
		Total:            sub.Aggregate.Total,
		Percentage:       sub.Aggregate.Percentage,
		TimeTakenSeconds: sub.TimeTakenSeconds,
		TimedOut:         sub.TimedOut,
		CompletedAt:      sub.CompletedAt,
		PerQuestion:      sub.PerQuestionResults,
	}
	res, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (session_id) DO NOTHING").
		Returning("recorded_at").
		Exec(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// conflict: nothing inserted, nothing returned
	case err != nil:
		return nil, fmt.Errorf("insert session result: %w", err)
	default:
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return row.receipt(), nil
		}
	}

	prev, err := s.load(ctx, sub.SessionID)
	if err != nil {
		return nil, err
	}
	return prev.receipt(), domain.ErrDuplicateSubmission
}

func (s *ResultStore) load(ctx context.Context, sessionID string) (sessionResult, error) {
	var row sessionResult
	if err := s.db.NewSelect().Model(&row).Where("session_id = ?", sessionID).Scan(ctx); err != nil {
		return sessionResult{}, fmt.Errorf("load session result: %w", err)
	}
	return row, nil
}

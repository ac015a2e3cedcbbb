package postgres

import (
	"context"
	"errors"
	"fmt"

	"assessment-session-service/internal/domain"
	"assessment-session-service/internal/question"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionSource loads question-bank payloads (JSONB) from Postgres.
type QuestionSource struct {
	pool *pgxpool.Pool
}

func NewQuestionSource(pool *pgxpool.Pool) *QuestionSource {
	return &QuestionSource{pool: pool}
}

func (s *QuestionSource) FetchTopic(ctx context.Context, topic question.Topic) ([]question.RawItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, sub_index, payload
		FROM questions
		WHERE class_level=$1 AND subject=$2 AND topic=$3
		ORDER BY position, id`,
		topic.ClassLevel, topic.Subject, topic.Topic)
	if err != nil {
		return nil, fmt.Errorf("query topic: %w", err)
	}
	defer rows.Close()

	var items []question.RawItem
	for rows.Next() {
		var (
			item question.RawItem
			typ  string
			raw  []byte
		)
		if err := rows.Scan(&item.ID, &typ, &item.SubIndex, &raw); err != nil {
			// keep the slot; the loader turns it into a placeholder
			item.Err = err
		}
		item.Type = domain.QuestionType(typ)
		item.Payload = raw
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read topic: %w", err)
	}
	return items, nil
}

func (s *QuestionSource) FetchItem(ctx context.Context, slot question.Slot) (question.RawItem, error) {
	var (
		typ string
		raw []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT type, payload FROM questions WHERE id=$1`, slot.ID).Scan(&typ, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return question.RawItem{}, fmt.Errorf("question %s: %w", slot.ID, domain.ErrQuestionNotFound)
	}
	if err != nil {
		return question.RawItem{}, fmt.Errorf("load question: %w", err)
	}
	return question.RawItem{
		ID:       slot.ID,
		Type:     domain.QuestionType(typ),
		SubIndex: slot.SubIndex,
		Payload:  raw,
	}, nil
}

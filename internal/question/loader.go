package question

import (
	"context"
	"fmt"
	"log/slog"

	"assessment-session-service/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Topic selects a question list from the bank.
type Topic struct {
	ClassLevel string `json:"classLevel" validate:"required"`
	Subject    string `json:"subject" validate:"required"`
	Topic      string `json:"topic" validate:"required"`
}

func (t Topic) String() string {
	return t.ClassLevel + "/" + t.Subject + "/" + t.Topic
}

// Slot is one position of a session built from explicit question ids.
type Slot struct {
	ID       string              `json:"id" validate:"required"`
	Type     domain.QuestionType `json:"type" validate:"required,oneof=multiple_choice audio video puzzle"`
	SubIndex int                 `json:"subIndex" validate:"gte=0"`
}

// Source fetches raw payloads from a question bank (database, cache, remote).
type Source interface {
	FetchTopic(ctx context.Context, topic Topic) ([]RawItem, error)
	FetchItem(ctx context.Context, slot Slot) (RawItem, error)
}

// DefaultFetchConcurrency bounds parallel per-slot fetches.
const DefaultFetchConcurrency = 8

// Loader fetches and normalizes the question list of a session.
type Loader struct {
	source      Source
	adapter     *Adapter
	logger      *slog.Logger
	concurrency int
}

func NewLoader(source Source, logger *slog.Logger, concurrency int) *Loader {
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		source:      source,
		adapter:     NewAdapter(),
		logger:      logger,
		concurrency: concurrency,
	}
}

// LoadTopic returns the normalized questions of a topic. Failing to fetch the
// list is an error; items that cannot be normalized become placeholders.
func (l *Loader) LoadTopic(ctx context.Context, topic Topic) ([]domain.Question, error) {
	items, err := l.source.FetchTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("fetch topic %s: %w", topic, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("topic %s: %w", topic, domain.ErrQuestionNotFound)
	}
	questions := make([]domain.Question, 0, len(items))
	for _, item := range items {
		questions = append(questions, l.normalize(item))
	}
	return questions, nil
}

// LoadSlots fetches every slot concurrently and keeps slot order. A slot that
// cannot be fetched becomes a placeholder instead of failing the session.
func (l *Loader) LoadSlots(ctx context.Context, slots []Slot) ([]domain.Question, error) {
	questions := make([]domain.Question, len(slots))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, slot := range slots {
		i, slot := i, slot
		g.Go(func() error {
			item, err := l.source.FetchItem(gctx, slot)
			if err != nil {
				item = RawItem{ID: slot.ID, Type: slot.Type, SubIndex: slot.SubIndex, Err: err}
			}
			if item.ID == "" {
				item.ID = slot.ID
			}
			item.Type = slot.Type
			item.SubIndex = slot.SubIndex
			q := l.normalize(item)
			if q.Placeholder && slot.Type == domain.Video && slot.SubIndex > 0 {
				q.ID = SubQuestionID(slot.ID, slot.SubIndex)
			}
			questions[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return questions, nil
}

func (l *Loader) normalize(item RawItem) domain.Question {
	q, err := l.adapter.NormalizeStrict(item)
	if err != nil {
		l.logger.Warn("question unavailable, using placeholder",
			"question_id", item.ID,
			"type", item.Type,
			"error", err)
		return Placeholder(item.ID, item.Type)
	}
	return q
}

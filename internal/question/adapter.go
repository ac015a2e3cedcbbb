package question

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"assessment-session-service/internal/domain"
)

// RawItem is one fetched question-bank payload before normalization.
type RawItem struct {
	ID       string              `json:"id"`
	Type     domain.QuestionType `json:"type"`
	SubIndex int                 `json:"subIndex,omitempty"`
	Payload  json.RawMessage     `json:"payload"`
	// Err is set when fetching this single item failed.
	Err error `json:"-"`
}

// placeholder text shown when a question could not be loaded.
const placeholderPrompt = "Question unavailable"

var placeholderOptions = []string{"Option A", "Option B", "Option C", "Option D"}

// payload is the union of all question-bank wire shapes.
type payload struct {
	ID         string        `json:"id"`
	Question   string        `json:"question"`
	Prompt     string        `json:"prompt"`
	Title      string        `json:"title"`
	Options    []string      `json:"options"`
	Answer     string        `json:"answer"`
	Correct    string        `json:"correctAnswer"`
	Hint       string        `json:"hint"`
	AudioURL   string        `json:"audioUrl"`
	VideoURL   string        `json:"videoUrl"`
	PuzzleKind string        `json:"puzzleKind"`
	Questions  []subQuestion `json:"questions"`
}

// subQuestion is one question of a set that shares a media asset.
type subQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
	Correct  string   `json:"correctAnswer"`
	Hint     string   `json:"hint"`
}

func (p payload) prompt() string {
	return firstNonEmpty(p.Question, p.Prompt, p.Title)
}

func (p payload) answer() string {
	return firstNonEmpty(p.Correct, p.Answer)
}

func (s subQuestion) answer() string {
	return firstNonEmpty(s.Correct, s.Answer)
}

var errNoPayload = errors.New("empty payload")

// Adapter turns raw question-bank items into normalized questions.
type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

// Normalize never fails: an item that cannot be decoded, or whose fetch
// failed, becomes a deterministic placeholder so that one unreachable
// question does not block the rest of the session.
func (a *Adapter) Normalize(item RawItem) domain.Question {
	q, err := a.normalize(item)
	if err != nil {
		return Placeholder(item.ID, item.Type)
	}
	return q
}

// NormalizeStrict is Normalize without the placeholder fallback.
func (a *Adapter) NormalizeStrict(item RawItem) (domain.Question, error) {
	return a.normalize(item)
}

func (a *Adapter) normalize(item RawItem) (domain.Question, error) {
	if item.Err != nil {
		return domain.Question{}, item.Err
	}
	if !item.Type.Valid() {
		return domain.Question{}, fmt.Errorf("item %s: unsupported type %q", item.ID, item.Type)
	}
	if len(item.Payload) == 0 {
		return domain.Question{}, fmt.Errorf("item %s: %w", item.ID, errNoPayload)
	}

	var p payload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return domain.Question{}, fmt.Errorf("item %s: decode payload: %w", item.ID, err)
	}

	id := firstNonEmpty(item.ID, p.ID)
	if id == "" {
		return domain.Question{}, errors.New("question without id")
	}

	var q domain.Question
	switch item.Type {
	case domain.MultipleChoice:
		q = choiceQuestion(id, item.Type, p, "")
	case domain.Audio:
		q = choiceQuestion(id, item.Type, p, p.AudioURL)
	case domain.Video:
		q = videoQuestion(id, p, item.SubIndex)
	case domain.Puzzle:
		q = domain.Question{
			ID:            id,
			Type:          domain.Puzzle,
			Prompt:        p.prompt(),
			Options:       []string{},
			CorrectAnswer: domain.PuzzleSentinel,
			Hint:          p.Hint,
			PuzzleKind:    p.PuzzleKind,
		}
	}

	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}

func choiceQuestion(id string, t domain.QuestionType, p payload, mediaURL string) domain.Question {
	return domain.Question{
		ID:            id,
		Type:          t,
		Prompt:        p.prompt(),
		MediaURL:      mediaURL,
		Options:       nonNil(p.Options),
		CorrectAnswer: p.answer(),
		Hint:          p.Hint,
	}
}

// videoQuestion distinguishes a question embedded directly in the payload
// from a question drawn out of a set attached to a shared video. When neither
// shape matches it degrades to a question with no options.
func videoQuestion(id string, p payload, subIndex int) domain.Question {
	q := domain.Question{
		ID:       id,
		Type:     domain.Video,
		Prompt:   p.prompt(),
		MediaURL: p.VideoURL,
		Options:  []string{},
		Hint:     p.Hint,
	}
	switch {
	case len(p.Options) > 0:
		q.Options = p.Options
		q.CorrectAnswer = p.answer()
	case len(p.Questions) > 0:
		q.ID = SubQuestionID(id, subIndex)
		if subIndex < 0 || subIndex >= len(p.Questions) {
			return q
		}
		sub := p.Questions[subIndex]
		q.Prompt = firstNonEmpty(sub.Question, q.Prompt)
		q.Options = nonNil(sub.Options)
		q.CorrectAnswer = sub.answer()
		if sub.Hint != "" {
			q.Hint = sub.Hint
		}
	}
	return q
}

// SubQuestionID identifies one question of a set sharing a media asset, so
// several questions drawn from the same asset stay distinct in a session.
func SubQuestionID(assetID string, subIndex int) string {
	return fmt.Sprintf("%s#%d", assetID, subIndex)
}

// Placeholder returns the deterministic stand-in for an unavailable question.
// It has no correct answer, so it is never scored correct.
func Placeholder(id string, t domain.QuestionType) domain.Question {
	if !t.Valid() {
		t = domain.MultipleChoice
	}
	q := domain.Question{
		ID:          id,
		Type:        t,
		Prompt:      placeholderPrompt,
		Placeholder: true,
	}
	if t == domain.Puzzle {
		q.Options = []string{}
		q.CorrectAnswer = domain.PuzzleSentinel
		return q
	}
	q.Options = append([]string(nil), placeholderOptions...)
	return q
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

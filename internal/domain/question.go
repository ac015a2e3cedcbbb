package domain

import (
	"fmt"
	"slices"
	"time"
)

// QuestionType tags the evaluation and rendering strategy of a question.
type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	Audio          QuestionType = "audio"
	Video          QuestionType = "video"
	Puzzle         QuestionType = "puzzle"
)

// QuestionTypes lists the supported types in a stable order.
var QuestionTypes = []QuestionType{MultipleChoice, Audio, Video, Puzzle}

// Valid reports whether t is a supported question type.
func (t QuestionType) Valid() bool {
	return slices.Contains(QuestionTypes, t)
}

// HasMedia reports whether questions of this type carry an observable media asset.
func (t QuestionType) HasMedia() bool {
	return t == Audio || t == Video
}

// PuzzleSentinel is the correct answer of puzzle questions, which are scored
// by threshold rather than string equality.
const PuzzleSentinel = "__puzzle_score__"

// Question is a normalized, immutable question of any supported type.
type Question struct {
	ID            string       `json:"id"`
	Type          QuestionType `json:"type"`
	Prompt        string       `json:"prompt"`
	MediaURL      string       `json:"mediaUrl,omitempty"`
	Options       []string     `json:"options"`
	CorrectAnswer string       `json:"correctAnswer"`
	Hint          string       `json:"hint,omitempty"`
	PuzzleKind    string       `json:"puzzleKind,omitempty"`
	Placeholder   bool         `json:"placeholder,omitempty"`
}

// Validate checks the option invariant of non-puzzle questions. Placeholders
// carry options but no correct answer.
func (q Question) Validate() error {
	if !q.Type.Valid() {
		return fmt.Errorf("question %s: unsupported type %q", q.ID, q.Type)
	}
	if q.Type == Puzzle || (q.Placeholder && q.CorrectAnswer == "") {
		return nil
	}
	if len(q.Options) > 0 && !slices.Contains(q.Options, q.CorrectAnswer) {
		return fmt.Errorf("question %s: correct answer is not an option", q.ID)
	}
	return nil
}

// HasOption reports whether value is one of the question options.
func (q Question) HasOption(value string) bool {
	return slices.Contains(q.Options, value)
}

// QuestionView is the student-facing shape of a question; it never carries the correct answer.
type QuestionView struct {
	ID          string       `json:"id"`
	Type        QuestionType `json:"type"`
	Prompt      string       `json:"prompt"`
	MediaURL    string       `json:"mediaUrl,omitempty"`
	Options     []string     `json:"options"`
	HasHint     bool         `json:"hasHint"`
	PuzzleKind  string       `json:"puzzleKind,omitempty"`
	Placeholder bool         `json:"placeholder,omitempty"`
}

// View strips answer data from q.
func (q Question) View() QuestionView {
	return QuestionView{
		ID:          q.ID,
		Type:        q.Type,
		Prompt:      q.Prompt,
		MediaURL:    q.MediaURL,
		Options:     slices.Clone(q.Options),
		HasHint:     q.Hint != "",
		PuzzleKind:  q.PuzzleKind,
		Placeholder: q.Placeholder,
	}
}

// SessionConfig describes one bounded attempt at an ordered list of questions.
type SessionConfig struct {
	Questions        []Question
	TimeLimitSeconds int
	WindowStart      time.Time
	WindowEnd        time.Time
	// QuestionTimeLimitSeconds enables the per-question countdown when positive.
	QuestionTimeLimitSeconds int
}

// EffectiveCountdown returns min(TimeLimitSeconds, WindowEnd-now) in whole
// seconds. A zero WindowEnd means the window never closes.
func (c SessionConfig) EffectiveCountdown(now time.Time) int {
	limit := c.TimeLimitSeconds
	if c.WindowEnd.IsZero() {
		return limit
	}
	left := int(c.WindowEnd.Sub(now) / time.Second)
	if limit <= 0 || left < limit {
		return left
	}
	return limit
}

// IsOpen reports whether the opening instant has passed.
func (c SessionConfig) IsOpen(now time.Time) bool {
	return c.WindowStart.IsZero() || !now.Before(c.WindowStart)
}

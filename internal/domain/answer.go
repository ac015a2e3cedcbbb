package domain

import "time"

// AnswerStatus tracks whether a question was answered, skipped or left alone.
type AnswerStatus string

const (
	StatusNotAttempted AnswerStatus = "not_attempted"
	StatusAttempted    AnswerStatus = "attempted"
	StatusSkipped      AnswerStatus = "skipped"
)

// MediaEventKind is an event emitted by the media collaborator.
type MediaEventKind string

const (
	MediaPlay       MediaEventKind = "play"
	MediaPause      MediaEventKind = "pause"
	MediaSeek       MediaEventKind = "seek"
	MediaEnded      MediaEventKind = "ended"
	MediaTimeUpdate MediaEventKind = "timeupdate"
)

// Valid reports whether k is a known media event.
func (k MediaEventKind) Valid() bool {
	switch k {
	case MediaPlay, MediaPause, MediaSeek, MediaEnded, MediaTimeUpdate:
		return true
	}
	return false
}

// MediaEvent is one observed playback event with a position/duration pair in seconds.
type MediaEvent struct {
	Kind     MediaEventKind `json:"kind"`
	Position float64        `json:"position"`
	Duration float64        `json:"duration"`
	At       time.Time      `json:"at"`
}

// MediaAnalytics aggregates engagement with the media of an audio or video question.
type MediaAnalytics struct {
	PlayCount          int          `json:"playCount"`
	PauseCount         int          `json:"pauseCount"`
	SeekCount          int          `json:"seekCount"`
	MaxProgressPercent float64      `json:"maxProgressPercent"`
	ListenedSeconds    int          `json:"listenedSeconds"`
	Events             []MediaEvent `json:"events"`
}

// PuzzleEndReason is reported by the puzzle collaborator.
type PuzzleEndReason string

const (
	PuzzleCompleted PuzzleEndReason = "COMPLETED"
	PuzzleTimeUp    PuzzleEndReason = "TIME_UP"
	PuzzleExited    PuzzleEndReason = "EXITED"
)

// Valid reports whether r is a known end reason.
func (r PuzzleEndReason) Valid() bool {
	switch r {
	case PuzzleCompleted, PuzzleTimeUp, PuzzleExited:
		return true
	}
	return false
}

// PuzzleResult is the only puzzle data the engine understands.
type PuzzleResult struct {
	Score            float64         `json:"score"`
	TimeTakenSeconds float64         `json:"timeTakenSeconds"`
	EndReason        PuzzleEndReason `json:"endReason"`
}

// AnswerRecord is the mutable per-question record of one session.
type AnswerRecord struct {
	QuestionID         string          `json:"questionId"`
	SelectedAnswer     string          `json:"selectedAnswer,omitempty"`
	HasAnswer          bool            `json:"hasAnswer"`
	Status             AnswerStatus    `json:"status"`
	TimeSpentSeconds   float64         `json:"timeSpentSeconds"`
	DisplayedAt        time.Time       `json:"displayedAt"`
	FirstInteractionAt time.Time       `json:"firstInteractionAt"`
	AnsweredAt         time.Time       `json:"answeredAt"`
	AnswerChanges      int             `json:"answerChanges"`
	HintUsed           bool            `json:"hintUsed"`
	Media              *MediaAnalytics `json:"media,omitempty"`
	Puzzle             *PuzzleResult   `json:"puzzle,omitempty"`
}

// Clone returns a deep copy of the record.
func (r AnswerRecord) Clone() AnswerRecord {
	out := r
	if r.Media != nil {
		m := *r.Media
		m.Events = append([]MediaEvent(nil), r.Media.Events...)
		out.Media = &m
	}
	if r.Puzzle != nil {
		p := *r.Puzzle
		out.Puzzle = &p
	}
	return out
}

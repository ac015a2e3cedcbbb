package domain

import "time"

// EndReason explains why a session stopped accepting answers.
type EndReason string

const (
	EndSubmitted          EndReason = "submitted"
	EndTimeout            EndReason = "timeout"
	EndQuestionsExhausted EndReason = "questions_exhausted"
)

// SubmissionState records what the submission pipeline did with a result.
type SubmissionState string

const (
	SubmissionPending       SubmissionState = "pending"
	SubmissionConfirmed     SubmissionState = "confirmed"
	SubmissionLocalFallback SubmissionState = "local_fallback"
)

// Analytics is the read-only analytics view attached to a question result.
type Analytics struct {
	TimeSpentSeconds float64         `json:"timeSpentSeconds"`
	AnswerChanges    int             `json:"answerChanges"`
	HintUsed         bool            `json:"hintUsed"`
	Media            *MediaAnalytics `json:"media,omitempty"`
	Puzzle           *PuzzleResult   `json:"puzzle,omitempty"`
}

// QuestionResult is the evaluated outcome of one question.
type QuestionResult struct {
	QuestionID     string       `json:"questionId"`
	Type           QuestionType `json:"type"`
	SelectedAnswer string       `json:"selectedAnswer,omitempty"`
	CorrectAnswer  string       `json:"correctAnswer"`
	IsCorrect      bool         `json:"isCorrect"`
	Status         AnswerStatus `json:"status"`
	Guess          bool         `json:"guess"`
	Analytics      Analytics    `json:"analytics"`
}

// Aggregate counts question outcomes. Correct+Incorrect+Unattempted always equals Total.
type Aggregate struct {
	Correct     int     `json:"correct"`
	Incorrect   int     `json:"incorrect"`
	Unattempted int     `json:"unattempted"`
	Total       int     `json:"total"`
	Percentage  float64 `json:"percentage"`
}

// Consistent reports whether the counts add up to the total.
func (a Aggregate) Consistent() bool {
	return a.Total >= 0 && a.Correct+a.Incorrect+a.Unattempted == a.Total
}

// SessionResult is produced once per session by the evaluator.
type SessionResult struct {
	SessionID        string                     `json:"sessionId"`
	StudentID        string                     `json:"studentId"`
	PerQuestion      []QuestionResult           `json:"perQuestion"`
	Aggregate        Aggregate                  `json:"aggregate"`
	ByType           map[QuestionType]Aggregate `json:"byType"`
	StartedAt        time.Time                  `json:"startedAt"`
	CompletedAt      time.Time                  `json:"completedAt"`
	TimeTakenSeconds int                        `json:"timeTakenSeconds"`
	TimedOut         bool                       `json:"timedOut"`
	EndReason        EndReason                  `json:"endReason"`
	SubmissionState  SubmissionState            `json:"submissionState"`
}

// Submission is the payload sent to the results store.
type Submission struct {
	SessionID          string           `json:"sessionId"`
	StudentID          string           `json:"studentId"`
	PerQuestionResults []QuestionResult `json:"perQuestionResults"`
	Aggregate          Aggregate        `json:"aggregate"`
	TimeTakenSeconds   int              `json:"timeTakenSeconds"`
	CompletedAt        time.Time        `json:"completedAt"`
	TimedOut           bool             `json:"timedOut"`
}

// Receipt is what a results store returns; Aggregate is the echoed or recorded one when present.
type Receipt struct {
	SessionID  string     `json:"sessionId"`
	Aggregate  *Aggregate `json:"aggregate,omitempty"`
	RecordedAt time.Time  `json:"recordedAt"`
}

// Outcome is the final observable output of a session.
type Outcome struct {
	Result           SessionResult   `json:"result"`
	State            SubmissionState `json:"state"`
	Saved            bool            `json:"saved"`
	AlreadySubmitted bool            `json:"alreadySubmitted"`
	Error            string          `json:"error,omitempty"`
}

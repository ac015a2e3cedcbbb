package evaluator

import (
	"math"
	"time"

	"assessment-session-service/internal/analytics"
	"assessment-session-service/internal/domain"
)

// DefaultPuzzlePassScore is the puzzle score (0-100) at which a puzzle counts as correct.
const DefaultPuzzlePassScore = 50

// Rules are the deployment tunables of evaluation.
type Rules struct {
	PuzzlePassScore float64
	GuessThreshold  time.Duration
}

// DefaultRules returns the stock thresholds.
func DefaultRules() Rules {
	return Rules{
		PuzzlePassScore: DefaultPuzzlePassScore,
		GuessThreshold:  analytics.DefaultGuessThreshold,
	}
}

type grade int

const (
	gradeUnattempted grade = iota
	gradeIncorrect
	gradeCorrect
)

// rule grades one question type.
type rule interface {
	grade(q domain.Question, rec domain.AnswerRecord, ok bool) grade
}

type choiceRule struct{}

func (choiceRule) grade(q domain.Question, rec domain.AnswerRecord, ok bool) grade {
	switch {
	case !ok:
		return gradeUnattempted
	case rec.HasAnswer:
		if rec.SelectedAnswer == q.CorrectAnswer {
			return gradeCorrect
		}
		return gradeIncorrect
	case rec.Status == domain.StatusSkipped:
		return gradeIncorrect
	default:
		return gradeUnattempted
	}
}

type puzzleRule struct {
	passScore float64
}

func (r puzzleRule) grade(_ domain.Question, rec domain.AnswerRecord, ok bool) grade {
	switch {
	case !ok:
		return gradeUnattempted
	case rec.Puzzle != nil:
		if r.passScore <= rec.Puzzle.Score {
			return gradeCorrect
		}
		return gradeIncorrect
	case rec.Status == domain.StatusSkipped:
		return gradeIncorrect
	default:
		return gradeUnattempted
	}
}

// Evaluator grades a full answer set with one rule per question type.
type Evaluator struct {
	rules Rules
	byTag map[domain.QuestionType]rule
}

func New(rules Rules) *Evaluator {
	choice := choiceRule{}
	return &Evaluator{
		rules: rules,
		byTag: map[domain.QuestionType]rule{
			domain.MultipleChoice: choice,
			domain.Audio:          choice,
			domain.Video:          choice,
			domain.Puzzle:         puzzleRule{passScore: rules.PuzzlePassScore},
		},
	}
}

// Input is everything the evaluator reads. Records are keyed by question id.
type Input struct {
	SessionID   string
	StudentID   string
	Questions   []domain.Question
	Records     map[string]domain.AnswerRecord
	StartedAt   time.Time
	CompletedAt time.Time
	// MaxSeconds caps TimeTakenSeconds at the session countdown when positive.
	MaxSeconds int
	EndReason  domain.EndReason
}

// IsCorrect grades a single question; attempted is false when the question counts as unattempted.
func (e *Evaluator) IsCorrect(q domain.Question, rec domain.AnswerRecord, ok bool) (correct, attempted bool) {
	g := e.rule(q.Type).grade(q, rec, ok)
	return g == gradeCorrect, g != gradeUnattempted
}

func (e *Evaluator) rule(t domain.QuestionType) rule {
	if r, ok := e.byTag[t]; ok {
		return r
	}
	return choiceRule{}
}

// Evaluate produces the session result. It is pure: the same input always
// yields an identical result.
func (e *Evaluator) Evaluate(in Input) domain.SessionResult {
	res := domain.SessionResult{
		SessionID:        in.SessionID,
		StudentID:        in.StudentID,
		PerQuestion:      make([]domain.QuestionResult, 0, len(in.Questions)),
		ByType:           make(map[domain.QuestionType]domain.Aggregate),
		StartedAt:        in.StartedAt,
		CompletedAt:      in.CompletedAt,
		TimeTakenSeconds: timeTaken(in),
		TimedOut:         in.EndReason == domain.EndTimeout,
		EndReason:        in.EndReason,
		SubmissionState:  domain.SubmissionPending,
	}

	for _, q := range in.Questions {
		rec, ok := in.Records[q.ID]
		g := e.rule(q.Type).grade(q, rec, ok)

		qr := domain.QuestionResult{
			QuestionID:    q.ID,
			Type:          q.Type,
			CorrectAnswer: q.CorrectAnswer,
			IsCorrect:     g == gradeCorrect,
			Status:        domain.StatusNotAttempted,
		}
		if ok {
			rec = rec.Clone()
			qr.SelectedAnswer = rec.SelectedAnswer
			qr.Status = rec.Status
			qr.Guess = analytics.Guess(rec, e.rules.GuessThreshold)
			qr.Analytics = domain.Analytics{
				TimeSpentSeconds: rec.TimeSpentSeconds,
				AnswerChanges:    rec.AnswerChanges,
				HintUsed:         rec.HintUsed,
				Media:            rec.Media,
				Puzzle:           rec.Puzzle,
			}
		}
		res.PerQuestion = append(res.PerQuestion, qr)

		cat := res.ByType[q.Type]
		count(&cat, g)
		res.ByType[q.Type] = cat
		count(&res.Aggregate, g)
	}

	res.Aggregate.Percentage = Percentage(res.Aggregate.Correct, res.Aggregate.Total)
	for t, cat := range res.ByType {
		cat.Percentage = Percentage(cat.Correct, cat.Total)
		res.ByType[t] = cat
	}
	return res
}

func count(a *domain.Aggregate, g grade) {
	a.Total++
	switch g {
	case gradeCorrect:
		a.Correct++
	case gradeIncorrect:
		a.Incorrect++
	default:
		a.Unattempted++
	}
}

// Percentage returns correct/total*100 rounded to two decimals, or 0 for an empty session.
func Percentage(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(total)*100*100) / 100
}

func timeTaken(in Input) int {
	if in.StartedAt.IsZero() || in.CompletedAt.Before(in.StartedAt) {
		return 0
	}
	secs := int(in.CompletedAt.Sub(in.StartedAt) / time.Second)
	if in.MaxSeconds > 0 && secs > in.MaxSeconds {
		return in.MaxSeconds
	}
	return secs
}

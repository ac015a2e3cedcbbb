package analytics

import (
	"errors"
	"fmt"
	"math"
	"time"

	"assessment-session-service/internal/domain"
)

// ErrFrozen is returned for writes after the recorder was frozen.
var ErrFrozen = errors.New("analytics recorder is read-only")

// DefaultGuessThreshold is the answer latency under which an answer is flagged as a guess.
const DefaultGuessThreshold = 4 * time.Second

// Recorder keeps exactly one AnswerRecord per question id. It is written by
// every interaction while the session runs and read once at evaluation time.
// It is not safe for concurrent use.
type Recorder struct {
	now            func() time.Time
	guessThreshold time.Duration

	records  map[string]*domain.AnswerRecord
	visits   map[string]time.Time
	playback map[string]*playback
	frozen   bool
}

// playback tracks which whole seconds of a media asset have been heard.
type playback struct {
	playing bool
	lastPos float64
	counted map[int]struct{}
}

func NewRecorder(guessThreshold time.Duration) *Recorder {
	return NewRecorderWithClock(guessThreshold, time.Now)
}

// NewRecorderWithClock allows deterministic timestamps in tests.
func NewRecorderWithClock(guessThreshold time.Duration, now func() time.Time) *Recorder {
	return &Recorder{
		now:            now,
		guessThreshold: guessThreshold,
		records:        make(map[string]*domain.AnswerRecord),
		visits:         make(map[string]time.Time),
		playback:       make(map[string]*playback),
	}
}

func (r *Recorder) record(qid string) *domain.AnswerRecord {
	rec, ok := r.records[qid]
	if !ok {
		rec = &domain.AnswerRecord{QuestionID: qid, Status: domain.StatusNotAttempted}
		r.records[qid] = rec
	}
	return rec
}

// Display marks the question as shown. The first display instant is kept.
func (r *Recorder) Display(qid string) error {
	if r.frozen {
		return ErrFrozen
	}
	now := r.now()
	rec := r.record(qid)
	if rec.DisplayedAt.IsZero() {
		rec.DisplayedAt = now
	}
	if _, visiting := r.visits[qid]; !visiting {
		r.visits[qid] = now
	}
	return nil
}

// Leave closes the current visit of qid and adds its duration to the time spent.
func (r *Recorder) Leave(qid string) error {
	if r.frozen {
		return ErrFrozen
	}
	start, ok := r.visits[qid]
	if !ok {
		return nil
	}
	delete(r.visits, qid)
	if elapsed := r.now().Sub(start); elapsed > 0 {
		r.record(qid).TimeSpentSeconds += elapsed.Seconds()
	}
	return nil
}

// FirstInteraction records the first-attempt timestamp. It reports whether this call set it.
func (r *Recorder) FirstInteraction(qid string) (bool, error) {
	if r.frozen {
		return false, ErrFrozen
	}
	rec := r.record(qid)
	if !rec.FirstInteractionAt.IsZero() {
		return false, nil
	}
	rec.FirstInteractionAt = r.now()
	return true, nil
}

// Answer stores value as the selected answer, counting a change only when a
// different prior value existed.
func (r *Recorder) Answer(qid, value string) error {
	if _, err := r.FirstInteraction(qid); err != nil {
		return err
	}
	rec := r.record(qid)
	if rec.HasAnswer && rec.SelectedAnswer != value {
		rec.AnswerChanges++
	}
	rec.SelectedAnswer = value
	rec.HasAnswer = true
	rec.AnsweredAt = r.now()
	rec.Status = domain.StatusAttempted
	return nil
}

// Skip clears any answer or puzzle result and marks the question skipped.
func (r *Recorder) Skip(qid string) error {
	if r.frozen {
		return ErrFrozen
	}
	rec := r.record(qid)
	rec.SelectedAnswer = ""
	rec.HasAnswer = false
	rec.AnsweredAt = time.Time{}
	rec.Puzzle = nil
	rec.Status = domain.StatusSkipped
	return nil
}

// UseHint marks that the hint of qid was revealed.
func (r *Recorder) UseHint(qid string) error {
	if _, err := r.FirstInteraction(qid); err != nil {
		return err
	}
	r.record(qid).HintUsed = true
	return nil
}

// Media applies one media collaborator event to the record of qid.
func (r *Recorder) Media(qid string, ev domain.MediaEvent) error {
	if r.frozen {
		return ErrFrozen
	}
	if !ev.Kind.Valid() {
		return fmt.Errorf("unknown media event %q", ev.Kind)
	}
	if ev.At.IsZero() {
		ev.At = r.now()
	}
	rec := r.record(qid)
	if rec.Media == nil {
		rec.Media = &domain.MediaAnalytics{}
	}
	pb, ok := r.playback[qid]
	if !ok {
		pb = &playback{counted: make(map[int]struct{})}
		r.playback[qid] = pb
	}

	m := rec.Media
	switch ev.Kind {
	case domain.MediaPlay:
		if _, err := r.FirstInteraction(qid); err != nil {
			return err
		}
		m.PlayCount++
		pb.playing = true
		pb.lastPos = ev.Position
	case domain.MediaPause:
		pb.advance(ev.Position)
		pb.playing = false
		m.PauseCount++
	case domain.MediaSeek:
		m.SeekCount++
		pb.lastPos = ev.Position
	case domain.MediaEnded:
		pb.advance(ev.Position)
		pb.playing = false
	case domain.MediaTimeUpdate:
		pb.advance(ev.Position)
	}

	m.MaxProgressPercent = math.Max(m.MaxProgressPercent, progressPercent(ev.Position, ev.Duration))
	m.ListenedSeconds = len(pb.counted)
	m.Events = append(m.Events, ev)
	return nil
}

// advance counts every whole second between the last known position and pos.
// Seconds already counted are not counted again.
func (p *playback) advance(pos float64) {
	if p.playing && pos > p.lastPos {
		for s := int(math.Floor(p.lastPos)); s < int(math.Floor(pos)); s++ {
			p.counted[s] = struct{}{}
		}
	}
	p.lastPos = pos
}

func progressPercent(position, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	pct := position / duration * 100
	return math.Min(100, math.Max(0, pct))
}

// Puzzle stores the puzzle collaborator's report for qid.
func (r *Recorder) Puzzle(qid string, result domain.PuzzleResult) error {
	if _, err := r.FirstInteraction(qid); err != nil {
		return err
	}
	rec := r.record(qid)
	res := result
	rec.Puzzle = &res
	rec.SelectedAnswer = domain.PuzzleSentinel
	rec.HasAnswer = true
	rec.AnsweredAt = r.now()
	rec.Status = domain.StatusAttempted
	return nil
}

// IsGuess reports whether the answer to qid was confirmed faster than the
// guess threshold after the question was first displayed.
func (r *Recorder) IsGuess(qid string) bool {
	rec, ok := r.records[qid]
	if !ok {
		return false
	}
	return Guess(*rec, r.guessThreshold)
}

// Guess is the derived guess flag of a record.
func Guess(rec domain.AnswerRecord, threshold time.Duration) bool {
	if threshold <= 0 || !rec.HasAnswer || rec.DisplayedAt.IsZero() || rec.AnsweredAt.IsZero() {
		return false
	}
	return rec.AnsweredAt.Sub(rec.DisplayedAt) < threshold
}

// Freeze closes any open visits and makes the recorder read-only.
func (r *Recorder) Freeze() {
	if r.frozen {
		return
	}
	for qid := range r.visits {
		_ = r.Leave(qid)
	}
	r.frozen = true
}

func (r *Recorder) Frozen() bool { return r.frozen }

// Get returns a copy of the record for qid.
func (r *Recorder) Get(qid string) (domain.AnswerRecord, bool) {
	rec, ok := r.records[qid]
	if !ok {
		return domain.AnswerRecord{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns deep copies of all records keyed by question id.
func (r *Recorder) Snapshot() map[string]domain.AnswerRecord {
	out := make(map[string]domain.AnswerRecord, len(r.records))
	for qid, rec := range r.records {
		out[qid] = rec.Clone()
	}
	return out
}

// Status returns the answer status of qid; untouched questions are not attempted.
func (r *Recorder) Status(qid string) domain.AnswerStatus {
	if rec, ok := r.records[qid]; ok {
		return rec.Status
	}
	return domain.StatusNotAttempted
}

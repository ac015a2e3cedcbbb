package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"assessment-session-service/internal/analytics"
	"assessment-session-service/internal/clock"
	"assessment-session-service/internal/domain"
	"assessment-session-service/internal/evaluator"
	"assessment-session-service/internal/submission"
)

// State is a step of the session lifecycle.
type State string

const (
	StateInstructions    State = "instructions"
	StateCountdownToOpen State = "countdown_to_open"
	StateInProgress      State = "in_progress"
	StateEnding          State = "ending"
	StateEnded           State = "ended"
	StateReported        State = "reported"
	StateExpired         State = "expired"
	StateAbandoned       State = "abandoned"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateReported || s == StateExpired || s == StateAbandoned
}

// SessionOptions are the per-deployment knobs of a session.
type SessionOptions struct {
	Rules   evaluator.Rules
	Tickers clock.TickerFactory
	Now     func() time.Time
	Logger  *slog.Logger
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.Rules == (evaluator.Rules{}) {
		o.Rules = evaluator.DefaultRules()
	}
	if o.Tickers == nil {
		o.Tickers = clock.NewTicker
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Snapshot is the presentation-free view of a session at one instant.
type Snapshot struct {
	SessionID                string                `json:"sessionId"`
	State                    State                 `json:"state"`
	CanStart                 bool                  `json:"canStart"`
	OpensInSeconds           int                   `json:"opensInSeconds,omitempty"`
	RemainingSeconds         int                   `json:"remainingSeconds"`
	QuestionRemainingSeconds int                   `json:"questionRemainingSeconds,omitempty"`
	CurrentIndex             int                   `json:"currentIndex"`
	Current                  *domain.QuestionView  `json:"current,omitempty"`
	Selected                 string                `json:"selected,omitempty"`
	Total                    int                   `json:"total"`
	Statuses                 []domain.AnswerStatus `json:"statuses"`
	Result                   *domain.SessionResult `json:"result,omitempty"`
	Outcome                  *domain.Outcome       `json:"outcome,omitempty"`
}

type command struct {
	fn   func()
	done chan struct{}
}

// Session runs one bounded attempt at an ordered list of questions by one
// student. A single goroutine owns all session state and processes user
// commands, clock ticks and the submission completion strictly in arrival
// order, so no state is shared between goroutines.
type Session struct {
	id        string
	studentID string
	cfg       domain.SessionConfig
	index     map[string]int

	now       func() time.Time
	tickers   clock.TickerFactory
	logger    *slog.Logger
	evaluator *evaluator.Evaluator
	pipeline  *submission.Pipeline

	ctx       context.Context
	cancel    context.CancelFunc
	cmds      chan command
	submitted chan domain.Outcome
	done      chan struct{}
	finished  chan struct{}

	// owned by the event loop
	state          State
	current        int
	recorder       *analytics.Recorder
	countdown      int
	sessionClock   *clock.Countdown
	questionClock  *clock.Countdown
	sessionTicker  clock.Ticker
	questionTicker clock.Ticker
	startedAt      time.Time
	result         *domain.SessionResult
	outcome        *domain.Outcome
	finishErr      error
	finishOnce     sync.Once

	mu          sync.Mutex
	subscribers map[chan Snapshot]struct{}
}

// NewSession validates the configuration and starts the session event loop in
// the instructions state. The student identity is required up front.
func NewSession(id, studentID string, cfg domain.SessionConfig, pipeline *submission.Pipeline, opts SessionOptions) (*Session, error) {
	opts = opts.withDefaults()
	if strings.TrimSpace(studentID) == "" {
		return nil, domain.ErrMissingIdentity
	}
	if len(cfg.Questions) == 0 {
		return nil, fmt.Errorf("%w: no questions", domain.ErrInvalidConfig)
	}
	if cfg.TimeLimitSeconds <= 0 && cfg.WindowEnd.IsZero() {
		return nil, fmt.Errorf("%w: no time limit", domain.ErrInvalidConfig)
	}
	if cfg.EffectiveCountdown(opts.Now()) <= 0 {
		return nil, domain.ErrSessionExpired
	}

	index := make(map[string]int, len(cfg.Questions))
	for i, q := range cfg.Questions {
		if _, dup := index[q.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate question %s", domain.ErrInvalidConfig, q.ID)
		}
		index[q.ID] = i
	}
	if pipeline == nil {
		pipeline = submission.NewPipeline(nil, opts.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          id,
		studentID:   studentID,
		cfg:         cfg,
		index:       index,
		now:         opts.Now,
		tickers:     opts.Tickers,
		logger:      opts.Logger.With("session_id", id, "student_id", studentID),
		evaluator:   evaluator.New(opts.Rules),
		pipeline:    pipeline,
		ctx:         ctx,
		cancel:      cancel,
		cmds:        make(chan command),
		submitted:   make(chan domain.Outcome),
		done:        make(chan struct{}),
		finished:    make(chan struct{}),
		state:       StateInstructions,
		recorder:    analytics.NewRecorderWithClock(opts.Rules.GuessThreshold, opts.Now),
		subscribers: make(map[chan Snapshot]struct{}),
	}
	go s.run()
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) StudentID() string { return s.studentID }

// Done is closed once the event loop has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Finished is closed once the session reached a terminal state.
func (s *Session) Finished() <-chan struct{} { return s.finished }

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.abandon()
			return
		case cmd := <-s.cmds:
			cmd.fn()
			close(cmd.done)
		case <-tickC(s.sessionTicker):
			s.onSessionTick()
		case <-tickC(s.questionTicker):
			s.onQuestionTick()
		case out := <-s.submitted:
			s.onSubmitted(out)
		}
	}
}

func tickC(t clock.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

// exec runs fn on the event loop and waits for it to finish.
func (s *Session) exec(ctx context.Context, fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-cmd.done
	return nil
}

// Proceed leaves the instructions screen. When the window has not opened yet
// the session waits in countdown_to_open; otherwise that state is skipped.
func (s *Session) Proceed(ctx context.Context) error {
	var err error
	if e := s.exec(ctx, func() {
		if s.state != StateInstructions {
			err = domain.ErrInvalidTransition
			return
		}
		if !s.cfg.IsOpen(s.now()) {
			s.state = StateCountdownToOpen
			s.broadcast()
		}
	}); e != nil {
		return e
	}
	return err
}

// Start opens the first question. It is only enabled once the window is open
// and resets the clock baseline to the moment of starting.
func (s *Session) Start(ctx context.Context) error {
	var err error
	if e := s.exec(ctx, func() { err = s.start() }); e != nil {
		return e
	}
	return err
}

func (s *Session) start() error {
	if s.state != StateInstructions && s.state != StateCountdownToOpen {
		return domain.ErrInvalidTransition
	}
	now := s.now()
	if !s.cfg.IsOpen(now) {
		s.state = StateCountdownToOpen
		s.broadcast()
		return domain.ErrNotOpenYet
	}
	effective := s.cfg.EffectiveCountdown(now)
	if effective <= 0 {
		s.state = StateExpired
		s.logger.Info("session window closed before start")
		s.finish(domain.ErrSessionExpired)
		s.broadcast()
		return domain.ErrSessionExpired
	}

	s.countdown = effective
	s.sessionClock = clock.NewCountdown(effective)
	s.sessionTicker = s.tickers(time.Second)
	if s.cfg.QuestionTimeLimitSeconds > 0 {
		s.questionClock = clock.NewCountdown(s.cfg.QuestionTimeLimitSeconds)
		s.questionTicker = s.tickers(time.Second)
	}
	s.startedAt = now
	s.current = 0
	_ = s.recorder.Display(s.cfg.Questions[0].ID)
	s.state = StateInProgress

	s.logger.Info("session started", "countdown_seconds", effective, "questions", len(s.cfg.Questions))
	s.broadcast()
	return nil
}

func (s *Session) requireInProgress() error {
	switch s.state {
	case StateInProgress:
		return nil
	case StateEnding, StateEnded, StateReported, StateExpired, StateAbandoned:
		return domain.ErrSessionEnded
	default:
		return domain.ErrInvalidTransition
	}
}

// mutate runs fn against the current question while the session is in progress.
func (s *Session) mutate(ctx context.Context, fn func(q domain.Question) error) error {
	var err error
	if e := s.exec(ctx, func() {
		if err = s.requireInProgress(); err != nil {
			return
		}
		if err = fn(s.cfg.Questions[s.current]); err == nil {
			s.broadcast()
		}
	}); e != nil {
		return e
	}
	return err
}

// mutateQuestion is mutate for interactions addressed to a question by id.
func (s *Session) mutateQuestion(ctx context.Context, questionID string, fn func(q domain.Question) error) error {
	var err error
	if e := s.exec(ctx, func() {
		if err = s.requireInProgress(); err != nil {
			return
		}
		i, ok := s.index[questionID]
		if !ok {
			err = domain.ErrQuestionNotFound
			return
		}
		if err = fn(s.cfg.Questions[i]); err == nil {
			s.broadcast()
		}
	}); e != nil {
		return e
	}
	return err
}

// SelectAnswer selects or replaces the answer of the current question.
func (s *Session) SelectAnswer(ctx context.Context, value string) error {
	return s.mutate(ctx, func(q domain.Question) error {
		if q.Type == domain.Puzzle {
			return domain.ErrWrongQuestionType
		}
		if !q.HasOption(value) {
			return domain.ErrOptionNotFound
		}
		return s.recorder.Answer(q.ID, value)
	})
}

// Navigate moves to the question at index. An answer is not required.
func (s *Session) Navigate(ctx context.Context, index int) error {
	return s.mutate(ctx, func(domain.Question) error {
		if index < 0 || index >= len(s.cfg.Questions) {
			return domain.ErrQuestionNotFound
		}
		s.moveTo(index)
		return nil
	})
}

// Next moves to the following question.
func (s *Session) Next(ctx context.Context) error {
	return s.mutate(ctx, func(domain.Question) error {
		if s.current+1 >= len(s.cfg.Questions) {
			return domain.ErrQuestionNotFound
		}
		s.moveTo(s.current + 1)
		return nil
	})
}

// Previous moves to the preceding question.
func (s *Session) Previous(ctx context.Context) error {
	return s.mutate(ctx, func(domain.Question) error {
		if s.current == 0 {
			return domain.ErrQuestionNotFound
		}
		s.moveTo(s.current - 1)
		return nil
	})
}

// Skip explicitly skips the current question, clearing any answer, and
// advances when a later question exists.
func (s *Session) Skip(ctx context.Context) error {
	return s.mutate(ctx, func(q domain.Question) error {
		if err := s.recorder.Skip(q.ID); err != nil {
			return err
		}
		if s.current+1 < len(s.cfg.Questions) {
			s.moveTo(s.current + 1)
		}
		return nil
	})
}

// UseHint reveals the hint of the current question. An empty hint is not recorded.
func (s *Session) UseHint(ctx context.Context) (string, error) {
	var hint string
	err := s.mutate(ctx, func(q domain.Question) error {
		if q.Hint == "" {
			return nil
		}
		hint = q.Hint
		return s.recorder.UseHint(q.ID)
	})
	return hint, err
}

// RecordMedia feeds one media collaborator event for an audio or video question.
func (s *Session) RecordMedia(ctx context.Context, questionID string, ev domain.MediaEvent) error {
	return s.mutateQuestion(ctx, questionID, func(q domain.Question) error {
		if !q.Type.HasMedia() {
			return domain.ErrWrongQuestionType
		}
		return s.recorder.Media(q.ID, ev)
	})
}

// CompletePuzzle receives the puzzle collaborator's completion callback.
func (s *Session) CompletePuzzle(ctx context.Context, questionID string, result domain.PuzzleResult) error {
	if !result.EndReason.Valid() {
		return fmt.Errorf("puzzle end reason %q: %w", result.EndReason, domain.ErrWrongQuestionType)
	}
	result.Score = math.Min(100, math.Max(0, result.Score))
	return s.mutateQuestion(ctx, questionID, func(q domain.Question) error {
		if q.Type != domain.Puzzle {
			return domain.ErrWrongQuestionType
		}
		return s.recorder.Puzzle(q.ID, result)
	})
}

// Submit ends the session explicitly and waits for the submission outcome.
// Calling it on a session that is already ending waits for the same outcome.
func (s *Session) Submit(ctx context.Context) (domain.Outcome, error) {
	var err error
	if e := s.exec(ctx, func() {
		switch s.state {
		case StateInProgress:
			s.end(domain.EndSubmitted)
		case StateEnding, StateEnded, StateReported:
		default:
			err = domain.ErrInvalidTransition
		}
	}); e != nil {
		return domain.Outcome{}, e
	}
	if err != nil {
		return domain.Outcome{}, err
	}
	return s.Wait(ctx)
}

// Wait blocks until the session reaches a terminal state and returns its outcome.
func (s *Session) Wait(ctx context.Context) (domain.Outcome, error) {
	select {
	case <-s.finished:
		return s.finalOutcome()
	case <-ctx.Done():
		return domain.Outcome{}, ctx.Err()
	}
}

func (s *Session) finalOutcome() (domain.Outcome, error) {
	if s.outcome != nil {
		return *s.outcome, nil
	}
	return domain.Outcome{}, s.finishErr
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := s.exec(ctx, func() { snap = s.snapshot() }); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Subscribe returns a channel of snapshots, starting with the current one.
// Slow readers only see the latest snapshot. The caller must invoke the
// returned cancel function to avoid leaks.
func (s *Session) Subscribe(ctx context.Context) (<-chan Snapshot, func(), error) {
	ch := make(chan Snapshot, 8)
	if err := s.exec(ctx, func() {
		ch <- s.snapshot()
		s.mu.Lock()
		s.subscribers[ch] = struct{}{}
		s.mu.Unlock()
	}); err != nil {
		return nil, nil, err
	}
	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

// Close abandons the session: both clocks stop and a pending submission is
// canceled and its completion discarded. It is safe to call more than once.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) moveTo(i int) {
	if i == s.current {
		return
	}
	_ = s.recorder.Leave(s.cfg.Questions[s.current].ID)
	s.current = i
	_ = s.recorder.Display(s.cfg.Questions[i].ID)
	if s.questionClock != nil {
		s.questionClock.Reset(s.cfg.QuestionTimeLimitSeconds)
	}
}

func (s *Session) onSessionTick() {
	if s.state != StateInProgress || s.sessionClock == nil {
		return
	}
	if _, expired := s.sessionClock.Tick(); expired {
		s.logger.Info("session time is up")
		s.end(domain.EndTimeout)
		return
	}
	s.broadcast()
}

// onQuestionTick handles the per-question clock: on expiry the current
// question is skipped and the session advances, or ends on the last question.
func (s *Session) onQuestionTick() {
	if s.state != StateInProgress || s.questionClock == nil {
		return
	}
	if _, expired := s.questionClock.Tick(); !expired {
		s.broadcast()
		return
	}
	_ = s.recorder.Skip(s.cfg.Questions[s.current].ID)
	if s.current+1 >= len(s.cfg.Questions) {
		s.end(domain.EndQuestionsExhausted)
		return
	}
	s.moveTo(s.current + 1)
	s.broadcast()
}

// end moves an in-progress session through ending to ended and hands the
// result to the submission pipeline. Later end signals are no-ops.
func (s *Session) end(reason domain.EndReason) {
	if s.state != StateInProgress {
		return
	}
	s.state = StateEnding
	s.stopClocks()

	completedAt := s.now()
	s.recorder.Freeze()
	res := s.evaluator.Evaluate(evaluator.Input{
		SessionID:   s.id,
		StudentID:   s.studentID,
		Questions:   s.cfg.Questions,
		Records:     s.recorder.Snapshot(),
		StartedAt:   s.startedAt,
		CompletedAt: completedAt,
		MaxSeconds:  s.countdown,
		EndReason:   reason,
	})
	s.result = &res
	s.state = StateEnded

	s.logger.Info("session ended",
		"reason", reason,
		"correct", res.Aggregate.Correct,
		"incorrect", res.Aggregate.Incorrect,
		"unattempted", res.Aggregate.Unattempted)
	s.broadcast()

	go s.submit(res)
}

func (s *Session) submit(res domain.SessionResult) {
	out := s.pipeline.Submit(s.ctx, res)
	select {
	case s.submitted <- out:
	case <-s.done:
	}
}

func (s *Session) onSubmitted(out domain.Outcome) {
	if s.state != StateEnded {
		return
	}
	s.result.SubmissionState = out.State
	s.outcome = &out
	s.state = StateReported
	s.finish(nil)
	s.broadcast()
}

func (s *Session) abandon() {
	s.stopClocks()
	if !s.state.Terminal() {
		s.state = StateAbandoned
		s.recorder.Freeze()
		s.logger.Info("session abandoned")
	}
	s.finish(domain.ErrSessionClosed)
	s.mu.Lock()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.mu.Unlock()
}

func (s *Session) finish(err error) {
	s.finishOnce.Do(func() {
		s.finishErr = err
		close(s.finished)
	})
}

func (s *Session) stopClocks() {
	if s.sessionClock != nil {
		s.sessionClock.Stop()
	}
	if s.questionClock != nil {
		s.questionClock.Stop()
	}
	if s.sessionTicker != nil {
		s.sessionTicker.Stop()
		s.sessionTicker = nil
	}
	if s.questionTicker != nil {
		s.questionTicker.Stop()
		s.questionTicker = nil
	}
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		SessionID:    s.id,
		State:        s.state,
		CurrentIndex: s.current,
		Total:        len(s.cfg.Questions),
		Statuses:     make([]domain.AnswerStatus, 0, len(s.cfg.Questions)),
	}

	now := s.now()
	switch s.state {
	case StateInstructions, StateCountdownToOpen:
		snap.CanStart = s.cfg.IsOpen(now)
		if !snap.CanStart {
			snap.OpensInSeconds = int(math.Ceil(s.cfg.WindowStart.Sub(now).Seconds()))
		}
		snap.RemainingSeconds = max(0, s.cfg.EffectiveCountdown(now))
	case StateInProgress:
		q := s.cfg.Questions[s.current]
		view := q.View()
		snap.Current = &view
		if rec, ok := s.recorder.Get(q.ID); ok && rec.HasAnswer && q.Type != domain.Puzzle {
			snap.Selected = rec.SelectedAnswer
		}
	}
	if s.sessionClock != nil {
		snap.RemainingSeconds = s.sessionClock.Remaining()
	}
	if s.questionClock != nil {
		snap.QuestionRemainingSeconds = s.questionClock.Remaining()
	}

	for _, q := range s.cfg.Questions {
		snap.Statuses = append(snap.Statuses, s.recorder.Status(q.ID))
	}
	if s.result != nil {
		res := *s.result
		snap.Result = &res
	}
	if s.outcome != nil {
		out := *s.outcome
		snap.Outcome = &out
	}
	return snap
}

func (s *Session) broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subscribers) == 0 {
		return
	}
	snap := s.snapshot()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot so a slow reader never blocks the loop.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

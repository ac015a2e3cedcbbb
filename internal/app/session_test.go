package app_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"assessment-session-service/internal/app"
	"assessment-session-service/internal/clock"
	"assessment-session-service/internal/domain"
	"assessment-session-service/internal/submission"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubSubmitter struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   bool
	entered chan struct{}
}

func (s *stubSubmitter) Submit(ctx context.Context, sub domain.Submission) (*domain.Receipt, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.block {
		close(s.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	agg := sub.Aggregate
	return &domain.Receipt{SessionID: sub.SessionID, Aggregate: &agg}, nil
}

func (s *stubSubmitter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func choiceQuestions(n int) []domain.Question {
	qs := make([]domain.Question, n)
	for i := range qs {
		qs[i] = domain.Question{
			ID:            fmt.Sprintf("q%d", i+1),
			Type:          domain.MultipleChoice,
			Prompt:        fmt.Sprintf("question %d", i+1),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: "a",
			Hint:          "think about a",
		}
	}
	return qs
}

type harness struct {
	session   *app.Session
	clock     *testClock
	tickers   *clock.ManualTickers
	submitter *stubSubmitter
}

func newHarness(t *testing.T, cfg domain.SessionConfig, submitter *stubSubmitter) *harness {
	t.Helper()
	h := &harness{clock: newTestClock(), tickers: clock.NewManualTickers(), submitter: submitter}
	session, err := h.newSession(cfg)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	h.session = session
	t.Cleanup(session.Close)
	return h
}

func (h *harness) newSession(cfg domain.SessionConfig) (*app.Session, error) {
	pipeline := submission.NewPipeline(h.submitter, discard)
	return app.NewSession("session-1", "student-1", cfg, pipeline, app.SessionOptions{
		Tickers: h.tickers.New,
		Now:     h.clock.Now,
		Logger:  discard,
	})
}

func (h *harness) sessionTicker(t *testing.T) *clock.ManualTicker {
	t.Helper()
	tk := h.tickers.Get(0)
	if tk == nil {
		t.Fatalf("session ticker not created")
	}
	return tk
}

func waitOutcome(t *testing.T, s *app.Session) domain.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return out
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSessionSubmitFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.SessionConfig{Questions: choiceQuestions(3), TimeLimitSeconds: 60}, &stubSubmitter{})
	s := h.session

	must(t, s.Proceed(ctx))
	must(t, s.Start(ctx))
	must(t, s.SelectAnswer(ctx, "a"))
	must(t, s.Next(ctx))
	must(t, s.SelectAnswer(ctx, "c"))
	must(t, s.SelectAnswer(ctx, "b"))

	out, err := s.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.State != domain.SubmissionConfirmed || !out.Saved {
		t.Fatalf("expected confirmed outcome, got %+v", out)
	}
	agg := out.Result.Aggregate
	if agg.Correct != 1 || agg.Incorrect != 1 || agg.Unattempted != 1 || agg.Percentage != 33.33 {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
	if out.Result.EndReason != domain.EndSubmitted || out.Result.TimedOut {
		t.Fatalf("unexpected end %+v", out.Result)
	}
	if out.Result.PerQuestion[1].Analytics.AnswerChanges != 1 {
		t.Fatalf("expected one answer change, got %+v", out.Result.PerQuestion[1])
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != app.StateReported || snap.Result.SubmissionState != domain.SubmissionConfirmed {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	// A second explicit submit is a no-op returning the same outcome.
	again, err := s.Submit(ctx)
	if err != nil || again.Result.Aggregate != agg {
		t.Fatalf("expected same outcome, got %+v, %v", again, err)
	}
	if h.submitter.Calls() != 1 {
		t.Fatalf("expected one submission, got %d", h.submitter.Calls())
	}
	if err := s.SelectAnswer(ctx, "a"); !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("expected ended error, got %v", err)
	}
}

func TestNewSessionRefusals(t *testing.T) {
	h := &harness{clock: newTestClock(), tickers: clock.NewManualTickers(), submitter: &stubSubmitter{}}
	now := h.clock.Now()

	if _, err := app.NewSession("s", "  ", domain.SessionConfig{Questions: choiceQuestions(1), TimeLimitSeconds: 60}, nil, app.SessionOptions{}); !errors.Is(err, domain.ErrMissingIdentity) {
		t.Fatalf("expected missing identity, got %v", err)
	}
	if _, err := h.newSession(domain.SessionConfig{TimeLimitSeconds: 60}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config for empty questions, got %v", err)
	}
	if _, err := h.newSession(domain.SessionConfig{Questions: choiceQuestions(1), TimeLimitSeconds: 60, WindowEnd: now.Add(-time.Second)}); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected expired window, got %v", err)
	}
	dup := append(choiceQuestions(1), choiceQuestions(1)...)
	if _, err := h.newSession(domain.SessionConfig{Questions: dup, TimeLimitSeconds: 60}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config for duplicate ids, got %v", err)
	}
}

func TestEffectiveCountdownUsesClosingWindow(t *testing.T) {
	ctx := context.Background()
	clk := newTestClock()
	cfg := domain.SessionConfig{
		Questions:        choiceQuestions(2),
		TimeLimitSeconds: 600,
		WindowEnd:        clk.Now().Add(300 * time.Second),
	}
	h := newHarness(t, cfg, &stubSubmitter{})

	must(t, h.session.Start(ctx))
	snap, err := h.session.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.RemainingSeconds != 300 {
		t.Fatalf("expected countdown capped by window to 300, got %d", snap.RemainingSeconds)
	}
}

func TestStartWaitsForWindowOpen(t *testing.T) {
	ctx := context.Background()
	clk := newTestClock()
	cfg := domain.SessionConfig{
		Questions:        choiceQuestions(2),
		TimeLimitSeconds: 60,
		WindowStart:      clk.Now().Add(time.Minute),
	}
	h := newHarness(t, cfg, &stubSubmitter{})
	s := h.session

	must(t, s.Proceed(ctx))
	snap, _ := s.Snapshot(ctx)
	if snap.State != app.StateCountdownToOpen || snap.CanStart || snap.OpensInSeconds != 60 {
		t.Fatalf("unexpected waiting snapshot %+v", snap)
	}
	if err := s.Start(ctx); !errors.Is(err, domain.ErrNotOpenYet) {
		t.Fatalf("expected not open yet, got %v", err)
	}

	h.clock.Advance(time.Minute)
	must(t, s.Start(ctx))
	snap, _ = s.Snapshot(ctx)
	if snap.State != app.StateInProgress || snap.Current == nil || snap.Current.ID != "q1" {
		t.Fatalf("unexpected started snapshot %+v", snap)
	}
	if err := s.Proceed(ctx); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestStartAfterWindowClosedExpires(t *testing.T) {
	ctx := context.Background()
	clk := newTestClock()
	cfg := domain.SessionConfig{
		Questions:        choiceQuestions(1),
		TimeLimitSeconds: 60,
		WindowEnd:        clk.Now().Add(30 * time.Second),
	}
	h := newHarness(t, cfg, &stubSubmitter{})

	h.clock.Advance(31 * time.Second)
	if err := h.session.Start(ctx); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if _, err := h.session.Wait(ctx); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected wait to report expiry, got %v", err)
	}
	if h.submitter.Calls() != 0 {
		t.Fatalf("expired session must not submit")
	}
}

func TestTimeoutForcesSingleSubmission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.SessionConfig{Questions: choiceQuestions(2), TimeLimitSeconds: 3}, &stubSubmitter{})
	s := h.session

	must(t, s.Start(ctx))
	must(t, s.SelectAnswer(ctx, "a"))

	tk := h.sessionTicker(t)
	for i := 0; i < 3; i++ {
		if !tk.Tick() {
			t.Fatalf("tick %d not delivered", i+1)
		}
	}

	out := waitOutcome(t, s)
	if !out.Result.TimedOut || out.Result.EndReason != domain.EndTimeout {
		t.Fatalf("expected timed out result, got %+v", out.Result)
	}
	if out.Result.Aggregate.Correct != 1 || out.Result.Aggregate.Unattempted != 1 {
		t.Fatalf("unexpected aggregate %+v", out.Result.Aggregate)
	}

	// The clock is stopped: further ticks are never delivered.
	if tk.Tick() {
		t.Fatalf("tick delivered after expiry")
	}
	if err := s.SelectAnswer(ctx, "b"); !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("expected ended error, got %v", err)
	}
	if _, err := s.Submit(ctx); err != nil {
		t.Fatalf("late submit: %v", err)
	}
	if h.submitter.Calls() != 1 {
		t.Fatalf("expected exactly one submission, got %d", h.submitter.Calls())
	}
}

func TestSkipThenAnswerCountsAsAttempted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.SessionConfig{Questions: choiceQuestions(2), TimeLimitSeconds: 60}, &stubSubmitter{})
	s := h.session

	must(t, s.Start(ctx))
	must(t, s.Skip(ctx))
	snap, _ := s.Snapshot(ctx)
	if snap.CurrentIndex != 1 || snap.Statuses[0] != domain.StatusSkipped {
		t.Fatalf("expected skip to advance, got %+v", snap)
	}
	must(t, s.Previous(ctx))
	must(t, s.SelectAnswer(ctx, "a"))

	out, err := s.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	first := out.Result.PerQuestion[0]
	if first.Status != domain.StatusAttempted || !first.IsCorrect {
		t.Fatalf("expected re-answered question to count, got %+v", first)
	}
	if out.Result.PerQuestion[1].Status != domain.StatusNotAttempted {
		t.Fatalf("expected untouched second question, got %+v", out.Result.PerQuestion[1])
	}
}

func TestQuestionClockSkipsAndAdvances(t *testing.T) {
	ctx := context.Background()
	cfg := domain.SessionConfig{Questions: choiceQuestions(2), TimeLimitSeconds: 60, QuestionTimeLimitSeconds: 2}
	h := newHarness(t, cfg, &stubSubmitter{})
	s := h.session

	must(t, s.Start(ctx))
	if h.tickers.Len() != 2 {
		t.Fatalf("expected session and question tickers, got %d", h.tickers.Len())
	}
	qt := h.tickers.Get(1)

	qt.Tick()
	qt.Tick()
	snap, _ := s.Snapshot(ctx)
	if snap.CurrentIndex != 1 || snap.Statuses[0] != domain.StatusSkipped || snap.QuestionRemainingSeconds != 2 {
		t.Fatalf("expected expiry to skip and advance, got %+v", snap)
	}

	qt.Tick()
	qt.Tick()
	out := waitOutcome(t, s)
	if out.Result.EndReason != domain.EndQuestionsExhausted || out.Result.TimedOut {
		t.Fatalf("expected questions exhausted, got %+v", out.Result)
	}
	if out.Result.Aggregate.Incorrect != 2 {
		t.Fatalf("expired questions count as skipped, got %+v", out.Result.Aggregate)
	}
}

func TestSubmitFailureFallsBackToLocalResult(t *testing.T) {
	ctx := context.Background()
	submitter := &stubSubmitter{err: errors.New("results store unavailable")}
	h := newHarness(t, domain.SessionConfig{Questions: choiceQuestions(10), TimeLimitSeconds: 600}, submitter)
	s := h.session

	must(t, s.Start(ctx))
	for i := 0; i < 6; i++ {
		must(t, s.SelectAnswer(ctx, "a"))
		must(t, s.Next(ctx))
	}
	must(t, s.Skip(ctx))
	must(t, s.Skip(ctx))

	out, err := s.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.State != domain.SubmissionLocalFallback || out.Saved || out.Error == "" {
		t.Fatalf("expected local fallback, got %+v", out)
	}
	want := domain.Aggregate{Correct: 6, Incorrect: 2, Unattempted: 2, Total: 10, Percentage: 60}
	if out.Result.Aggregate != want {
		t.Fatalf("expected %+v, got %+v", want, out.Result.Aggregate)
	}
	if submitter.Calls() != 1 {
		t.Fatalf("submission must not be retried, got %d calls", submitter.Calls())
	}
}

func TestCloseAbandonsPendingSubmission(t *testing.T) {
	ctx := context.Background()
	submitter := &stubSubmitter{block: true, entered: make(chan struct{})}
	h := newHarness(t, domain.SessionConfig{Questions: choiceQuestions(1), TimeLimitSeconds: 1}, submitter)
	s := h.session

	must(t, s.Start(ctx))
	h.sessionTicker(t).Tick()

	select {
	case <-submitter.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("submission not started")
	}
	s.Close()

	if _, err := s.Wait(ctx); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected closed session without outcome, got %v", err)
	}
	if _, err := s.Snapshot(ctx); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	s.Close()
}

func TestMediaAndPuzzleInteractions(t *testing.T) {
	ctx := context.Background()
	questions := []domain.Question{
		{ID: "audio-1", Type: domain.Audio, Prompt: "listen", MediaURL: "https://cdn/a.mp3", Options: []string{"x", "y"}, CorrectAnswer: "y"},
		{ID: "puzzle-1", Type: domain.Puzzle, Prompt: "solve", CorrectAnswer: domain.PuzzleSentinel},
	}
	h := newHarness(t, domain.SessionConfig{Questions: questions, TimeLimitSeconds: 60}, &stubSubmitter{})
	s := h.session

	must(t, s.Start(ctx))
	must(t, s.RecordMedia(ctx, "audio-1", domain.MediaEvent{Kind: domain.MediaPlay, Position: 0, Duration: 10}))
	must(t, s.RecordMedia(ctx, "audio-1", domain.MediaEvent{Kind: domain.MediaTimeUpdate, Position: 10, Duration: 10}))
	must(t, s.RecordMedia(ctx, "audio-1", domain.MediaEvent{Kind: domain.MediaEnded, Position: 10, Duration: 10}))
	must(t, s.SelectAnswer(ctx, "y"))

	if err := s.RecordMedia(ctx, "puzzle-1", domain.MediaEvent{Kind: domain.MediaPlay}); !errors.Is(err, domain.ErrWrongQuestionType) {
		t.Fatalf("expected wrong type for media on puzzle, got %v", err)
	}
	if err := s.CompletePuzzle(ctx, "audio-1", domain.PuzzleResult{Score: 90, EndReason: domain.PuzzleCompleted}); !errors.Is(err, domain.ErrWrongQuestionType) {
		t.Fatalf("expected wrong type for puzzle on audio, got %v", err)
	}
	if err := s.CompletePuzzle(ctx, "puzzle-1", domain.PuzzleResult{Score: 90, EndReason: "GAVE_UP"}); err == nil {
		t.Fatalf("expected invalid end reason to be rejected")
	}
	if err := s.RecordMedia(ctx, "missing", domain.MediaEvent{Kind: domain.MediaPlay}); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected unknown question, got %v", err)
	}

	must(t, s.Navigate(ctx, 1))
	if err := s.SelectAnswer(ctx, "y"); !errors.Is(err, domain.ErrWrongQuestionType) {
		t.Fatalf("expected puzzle to refuse selection, got %v", err)
	}
	must(t, s.CompletePuzzle(ctx, "puzzle-1", domain.PuzzleResult{Score: 50, TimeTakenSeconds: 20, EndReason: domain.PuzzleTimeUp}))

	out, err := s.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	audio := out.Result.PerQuestion[0]
	if !audio.IsCorrect || audio.Analytics.Media == nil || audio.Analytics.Media.PlayCount != 1 || audio.Analytics.Media.MaxProgressPercent != 100 {
		t.Fatalf("unexpected audio result %+v", audio)
	}
	puzzle := out.Result.PerQuestion[1]
	if !puzzle.IsCorrect || puzzle.Analytics.Puzzle == nil || puzzle.Analytics.Puzzle.TimeTakenSeconds != 20 {
		t.Fatalf("unexpected puzzle result %+v", puzzle)
	}
}

func TestUseHintRecordsUsage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.SessionConfig{Questions: choiceQuestions(1), TimeLimitSeconds: 60}, &stubSubmitter{})
	s := h.session

	if _, err := s.UseHint(ctx); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected hint to need a started session, got %v", err)
	}
	must(t, s.Start(ctx))
	hint, err := s.UseHint(ctx)
	if err != nil || hint != "think about a" {
		t.Fatalf("unexpected hint %q, %v", hint, err)
	}
	out, err := s.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !out.Result.PerQuestion[0].Analytics.HintUsed {
		t.Fatalf("expected hint usage recorded")
	}
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.SessionConfig{Questions: choiceQuestions(2), TimeLimitSeconds: 60}, &stubSubmitter{})
	s := h.session

	updates, cancel, err := s.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if initial := <-updates; initial.State != app.StateInstructions || initial.Total != 2 {
		t.Fatalf("unexpected initial snapshot %+v", initial)
	}
	must(t, s.Start(ctx))
	if update := <-updates; update.State != app.StateInProgress || update.RemainingSeconds != 60 {
		t.Fatalf("unexpected update %+v", update)
	}
	h.sessionTicker(t).Tick()
	if update := <-updates; update.RemainingSeconds != 59 {
		t.Fatalf("expected tick update, got %+v", update)
	}

	s.Close()
	for range updates {
	}
}

package analytics_test

import (
	"errors"
	"testing"
	"time"

	"assessment-session-service/internal/analytics"
	"assessment-session-service/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newRecorder() (*analytics.Recorder, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return analytics.NewRecorderWithClock(analytics.DefaultGuessThreshold, clk.Now), clk
}

func TestFirstInteractionIsRecordedOnce(t *testing.T) {
	rec, clk := newRecorder()

	first, err := rec.FirstInteraction("q1")
	if err != nil || !first {
		t.Fatalf("expected first interaction to be recorded, got %v %v", first, err)
	}
	at := clk.Now()
	clk.Advance(5 * time.Second)

	again, _ := rec.FirstInteraction("q1")
	if again {
		t.Fatalf("expected repeat call to be a no-op")
	}
	got, _ := rec.Get("q1")
	if !got.FirstInteractionAt.Equal(at) {
		t.Fatalf("first interaction moved: %v vs %v", got.FirstInteractionAt, at)
	}
}

func TestAnswerChangesCountOnlyDifferentPriorValues(t *testing.T) {
	rec, _ := newRecorder()

	_ = rec.Answer("q1", "a")
	_ = rec.Answer("q1", "a")
	_ = rec.Answer("q1", "b")

	got, _ := rec.Get("q1")
	if got.AnswerChanges != 1 {
		t.Fatalf("expected 1 change, got %d", got.AnswerChanges)
	}
	if got.SelectedAnswer != "b" || got.Status != domain.StatusAttempted {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestSkipClearsAnswerAndReanswerRestoresAttempted(t *testing.T) {
	rec, _ := newRecorder()

	_ = rec.Answer("q1", "a")
	_ = rec.Skip("q1")

	got, _ := rec.Get("q1")
	if got.HasAnswer || got.SelectedAnswer != "" || got.Status != domain.StatusSkipped {
		t.Fatalf("expected skip to clear answer, got %+v", got)
	}

	_ = rec.Answer("q1", "c")
	got, _ = rec.Get("q1")
	if got.Status != domain.StatusAttempted || got.SelectedAnswer != "c" {
		t.Fatalf("expected attempted after re-answer, got %+v", got)
	}
	if got.AnswerChanges != 0 {
		t.Fatalf("answer after skip has no prior value, got %d changes", got.AnswerChanges)
	}
}

func TestMediaPlayPauseReplay(t *testing.T) {
	rec, _ := newRecorder()

	events := []domain.MediaEvent{
		{Kind: domain.MediaPlay, Position: 0, Duration: 100},
		{Kind: domain.MediaPause, Position: 50, Duration: 100},
		{Kind: domain.MediaPlay, Position: 50, Duration: 100},
		{Kind: domain.MediaEnded, Position: 100, Duration: 100},
	}
	for _, ev := range events {
		if err := rec.Media("q1", ev); err != nil {
			t.Fatalf("media event: %v", err)
		}
	}

	got, _ := rec.Get("q1")
	m := got.Media
	if m.MaxProgressPercent != 100 || m.PlayCount != 2 || m.PauseCount != 1 {
		t.Fatalf("unexpected media analytics %+v", m)
	}
	if m.ListenedSeconds != 100 {
		t.Fatalf("expected 100 listened seconds, got %d", m.ListenedSeconds)
	}
	if len(m.Events) != 4 {
		t.Fatalf("expected 4 logged events, got %d", len(m.Events))
	}
}

func TestMediaOverlappingUpdatesCountSecondsOnce(t *testing.T) {
	rec, _ := newRecorder()

	_ = rec.Media("q1", domain.MediaEvent{Kind: domain.MediaPlay, Position: 0, Duration: 10})
	_ = rec.Media("q1", domain.MediaEvent{Kind: domain.MediaTimeUpdate, Position: 2.4, Duration: 10})
	_ = rec.Media("q1", domain.MediaEvent{Kind: domain.MediaTimeUpdate, Position: 2.9, Duration: 10})
	_ = rec.Media("q1", domain.MediaEvent{Kind: domain.MediaSeek, Position: 0, Duration: 10})
	_ = rec.Media("q1", domain.MediaEvent{Kind: domain.MediaTimeUpdate, Position: 3.1, Duration: 10})

	got, _ := rec.Get("q1")
	if got.Media.ListenedSeconds != 3 {
		t.Fatalf("expected 3 distinct seconds, got %d", got.Media.ListenedSeconds)
	}
	if got.Media.SeekCount != 1 {
		t.Fatalf("expected one seek, got %d", got.Media.SeekCount)
	}
	if got.Media.MaxProgressPercent != 31 {
		t.Fatalf("expected 31%% progress, got %v", got.Media.MaxProgressPercent)
	}
}

func TestMediaProgressIsClamped(t *testing.T) {
	rec, _ := newRecorder()
	_ = rec.Media("q1", domain.MediaEvent{Kind: domain.MediaPlay, Position: 0, Duration: 10})
	_ = rec.Media("q1", domain.MediaEvent{Kind: domain.MediaTimeUpdate, Position: 12, Duration: 10})

	got, _ := rec.Get("q1")
	if got.Media.MaxProgressPercent != 100 {
		t.Fatalf("expected clamp to 100, got %v", got.Media.MaxProgressPercent)
	}
}

func TestUnknownMediaEventLeavesRecordUntouched(t *testing.T) {
	rec, _ := newRecorder()
	if err := rec.Media("q1", domain.MediaEvent{Kind: "rewind", Position: 3, Duration: 10}); err == nil {
		t.Fatalf("expected unknown media event to be rejected")
	}
	if _, ok := rec.Get("q1"); ok {
		t.Fatalf("rejected event must not create a record")
	}

	_ = rec.Media("q2", domain.MediaEvent{Kind: domain.MediaPlay, Position: 0, Duration: 10})
	_ = rec.Media("q2", domain.MediaEvent{Kind: "rewind", Position: 5, Duration: 10})
	got, _ := rec.Get("q2")
	if len(got.Media.Events) != 1 || got.Media.MaxProgressPercent != 0 {
		t.Fatalf("rejected event must not change media analytics, got %+v", got.Media)
	}
}

func TestGuessFlagUsesThreshold(t *testing.T) {
	rec, clk := newRecorder()

	_ = rec.Display("fast")
	clk.Advance(2 * time.Second)
	_ = rec.Answer("fast", "a")

	_ = rec.Display("slow")
	clk.Advance(6 * time.Second)
	_ = rec.Answer("slow", "a")

	if !rec.IsGuess("fast") {
		t.Fatalf("expected fast answer to be flagged")
	}
	if rec.IsGuess("slow") {
		t.Fatalf("expected slow answer not to be flagged")
	}
	if rec.IsGuess("missing") {
		t.Fatalf("unanswered question cannot be a guess")
	}
}

func TestTimeSpentAccumulatesAcrossVisits(t *testing.T) {
	rec, clk := newRecorder()

	_ = rec.Display("q1")
	clk.Advance(3 * time.Second)
	_ = rec.Leave("q1")
	clk.Advance(10 * time.Second)
	_ = rec.Display("q1")
	clk.Advance(2 * time.Second)
	rec.Freeze()

	got, _ := rec.Get("q1")
	if got.TimeSpentSeconds != 5 {
		t.Fatalf("expected 5s spent, got %v", got.TimeSpentSeconds)
	}
}

func TestFrozenRecorderRejectsWrites(t *testing.T) {
	rec, _ := newRecorder()
	rec.Freeze()

	if err := rec.Answer("q1", "a"); !errors.Is(err, analytics.ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
	if err := rec.Media("q1", domain.MediaEvent{Kind: domain.MediaPlay}); !errors.Is(err, analytics.ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	rec, _ := newRecorder()
	_ = rec.Media("q1", domain.MediaEvent{Kind: domain.MediaPlay, Position: 0, Duration: 10})

	snap := rec.Snapshot()
	_ = rec.Media("q1", domain.MediaEvent{Kind: domain.MediaPause, Position: 5, Duration: 10})

	if snap["q1"].Media.PauseCount != 0 || len(snap["q1"].Media.Events) != 1 {
		t.Fatalf("snapshot mutated by later events: %+v", snap["q1"].Media)
	}
}

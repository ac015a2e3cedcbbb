package submission

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"assessment-session-service/internal/domain"
)

// Submitter sends an evaluated session to the results store. A store that
// already holds the session returns an error wrapping
// domain.ErrDuplicateSubmission, optionally with the recorded receipt.
type Submitter interface {
	Submit(ctx context.Context, sub domain.Submission) (*domain.Receipt, error)
}

// Notifier is told about every outcome in the background, after the outcome
// has been returned. Failures are logged and ignored.
type Notifier interface {
	Notify(ctx context.Context, outcome domain.Outcome) error
}

// DefaultTimeout bounds one submission attempt.
const DefaultTimeout = 10 * time.Second

// Pipeline performs exactly one submission attempt per call and always
// returns an outcome carrying a displayable result.
type Pipeline struct {
	submitter Submitter
	notifier  Notifier
	logger    *slog.Logger
	timeout   time.Duration

	pending sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNotifier publishes outcomes to n.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewPipeline(submitter Submitter, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		submitter: submitter,
		logger:    logger,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit sends result once. It never retries: a failure degrades to the
// locally computed result flagged as not saved.
func (p *Pipeline) Submit(ctx context.Context, result domain.SessionResult) domain.Outcome {
	out := p.submit(ctx, result)
	out.Result.SubmissionState = out.State
	if p.notifier != nil && ctx.Err() == nil {
		p.notify(ctx, out)
	}
	return out
}

// notify publishes out on its own goroutine, bounded by the pipeline timeout
// and detached from the caller's cancellation.
func (p *Pipeline) notify(ctx context.Context, out domain.Outcome) {
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		if err := p.notifier.Notify(ctx, out); err != nil {
			p.logger.Warn("outcome notification failed", "session_id", out.Result.SessionID, "error", err)
		}
	}()
}

// Drain waits for in-flight notifications or until ctx is done.
func (p *Pipeline) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) submit(ctx context.Context, result domain.SessionResult) domain.Outcome {
	if strings.TrimSpace(result.StudentID) == "" {
		p.logger.Error("refusing to submit without identity", "session_id", result.SessionID)
		return localFallback(result, domain.ErrMissingIdentity)
	}
	if p.submitter == nil {
		return localFallback(result, errors.New("no results store configured"))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	receipt, err := p.submitter.Submit(ctx, NewSubmission(result))
	switch {
	case err == nil:
		out := domain.Outcome{Result: result, State: domain.SubmissionConfirmed, Saved: true}
		if echoed, ok := echoedAggregate(receipt); ok {
			out.Result.Aggregate = echoed
		}
		p.logger.Info("session submitted",
			"session_id", result.SessionID,
			"student_id", result.StudentID,
			"percentage", out.Result.Aggregate.Percentage,
			"timed_out", result.TimedOut)
		return out
	case errors.Is(err, domain.ErrDuplicateSubmission):
		out := domain.Outcome{Result: result, State: domain.SubmissionConfirmed, Saved: true, AlreadySubmitted: true}
		if recorded, ok := echoedAggregate(receipt); ok {
			out.Result.Aggregate = recorded
		}
		p.logger.Info("session already submitted", "session_id", result.SessionID)
		return out
	default:
		p.logger.Error("session submission failed, showing local result",
			"session_id", result.SessionID,
			"timed_out", result.TimedOut,
			"error", err)
		return localFallback(result, err)
	}
}

func localFallback(result domain.SessionResult, err error) domain.Outcome {
	return domain.Outcome{
		Result: result,
		State:  domain.SubmissionLocalFallback,
		Saved:  false,
		Error:  err.Error(),
	}
}

// echoedAggregate returns the store's aggregate when it is structurally valid.
func echoedAggregate(r *domain.Receipt) (domain.Aggregate, bool) {
	if r == nil || r.Aggregate == nil || !r.Aggregate.Consistent() || r.Aggregate.Total == 0 {
		return domain.Aggregate{}, false
	}
	return *r.Aggregate, true
}

// NewSubmission builds the wire payload of a result.
func NewSubmission(result domain.SessionResult) domain.Submission {
	return domain.Submission{
		SessionID:          result.SessionID,
		StudentID:          result.StudentID,
		PerQuestionResults: result.PerQuestion,
		Aggregate:          result.Aggregate,
		TimeTakenSeconds:   result.TimeTakenSeconds,
		CompletedAt:        result.CompletedAt,
		TimedOut:           result.TimedOut,
	}
}

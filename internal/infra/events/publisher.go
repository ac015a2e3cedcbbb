package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"assessment-session-service/internal/domain"
	"github.com/streadway/amqp"
)

// channel is the part of *amqp.Channel the publisher needs.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends session outcome events to a topic exchange. It implements
// submission.Notifier.
type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	logger   *slog.Logger
}

// Event is the message body. Type doubles as the routing key.
type Event struct {
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    OutcomePayload `json:"payload"`
}

type OutcomePayload struct {
	SessionID        string                 `json:"sessionId"`
	StudentID        string                 `json:"studentId"`
	State            domain.SubmissionState `json:"state"`
	Saved            bool                   `json:"saved"`
	AlreadySubmitted bool                   `json:"alreadySubmitted"`
	Aggregate        domain.Aggregate       `json:"aggregate"`
	TimedOut         bool                   `json:"timedOut"`
	EndReason        domain.EndReason       `json:"endReason"`
	TimeTakenSeconds int                    `json:"timeTakenSeconds"`
	CompletedAt      time.Time              `json:"completedAt"`
	Error            string                 `json:"error,omitempty"`
}

func NewPublisher(amqpURL, exchange string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p := newPublisher(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{channel: ch, exchange: exchange, logger: logger}
}

// Notify publishes the outcome of a session.
func (p *Publisher) Notify(ctx context.Context, out domain.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev := NewOutcomeEvent(out, time.Now().UTC())
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	// Use the event type as the routing key for topic exchange
	err = p.channel.Publish(
		p.exchange,
		ev.Type,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    out.Result.SessionID,
			Timestamp:    ev.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	p.logger.Debug("event published", "type", ev.Type, "session_id", out.Result.SessionID)
	return nil
}

// NewOutcomeEvent builds the event for an outcome; the routing key is
// assessment.session.<submission state>.
func NewOutcomeEvent(out domain.Outcome, at time.Time) Event {
	r := out.Result
	return Event{
		Type:       "assessment.session." + string(out.State),
		OccurredAt: at,
		Payload: OutcomePayload{
			SessionID:        r.SessionID,
			StudentID:        r.StudentID,
			State:            out.State,
			Saved:            out.Saved,
			AlreadySubmitted: out.AlreadySubmitted,
			Aggregate:        r.Aggregate,
			TimedOut:         r.TimedOut,
			EndReason:        r.EndReason,
			TimeTakenSeconds: r.TimeTakenSeconds,
			CompletedAt:      r.CompletedAt,
			Error:            out.Error,
		},
	}
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

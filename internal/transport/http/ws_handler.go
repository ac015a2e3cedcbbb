package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"assessment-session-service/internal/app"
	"assessment-session-service/internal/domain"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Value string `json:"value" validate:"required"`
}

type navigatePayload struct {
	Index     *int   `json:"index" validate:"omitempty,gte=0"`
	Direction string `json:"direction" validate:"omitempty,oneof=next previous"`
}

type mediaPayload struct {
	QuestionID string                `json:"questionId" validate:"required"`
	Kind       domain.MediaEventKind `json:"kind" validate:"required,oneof=play pause seek ended timeupdate"`
	Position   float64               `json:"position" validate:"gte=0"`
	Duration   float64               `json:"duration" validate:"gte=0"`
}

type puzzlePayload struct {
	QuestionID       string                 `json:"questionId" validate:"required"`
	Score            float64                `json:"score" validate:"gte=0,lte=100"`
	TimeTakenSeconds int                    `json:"timeTakenSeconds" validate:"gte=0"`
	EndReason        domain.PuzzleEndReason `json:"endReason" validate:"required,oneof=COMPLETED TIME_UP EXITED"`
}

type hintResult struct {
	Hint string `json:"hint"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

// ServeWS upgrades HTTP requests to websockets and wires them into one session.
// Every state change is pushed as a snapshot; the final outcome is pushed once.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	session, ok := h.authorized(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	updates, cancel, err := session.Subscribe(ctx)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()

	logger := h.logger.With("session_id", session.ID())
	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("ws write error", "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		outcomeSent := false
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				msgs := []outboundMessage[any]{{Type: "snapshot", Payload: snap}}
				if snap.Outcome != nil && !outcomeSent {
					outcomeSent = true
					msgs = append(msgs, outboundMessage[any]{Type: "outcome", Payload: *snap.Outcome})
				}
				for _, msg := range msgs {
					select {
					case send <- msg:
					case <-closeSignals:
						return
					}
				}
			case <-closeSignals:
				return
			}
		}
	}()

	reply := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if msg, err := h.dispatch(ctx, session, inbound); err != nil {
			reply(errorMessage(err))
		} else if msg != nil {
			reply(*msg)
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// dispatch applies one inbound command. State changes are reported through
// the subscription; only hints produce a direct reply.
func (h *Handler) dispatch(ctx context.Context, session *app.Session, in inboundMessage) (*outboundMessage[any], error) {
	switch in.Type {
	case "proceed":
		return nil, session.Proceed(ctx)
	case "start":
		return nil, session.Start(ctx)
	case "answer":
		var p answerPayload
		if err := h.decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return nil, session.SelectAnswer(ctx, p.Value)
	case "navigate":
		var p navigatePayload
		if err := h.decode(in.Payload, &p); err != nil {
			return nil, err
		}
		switch {
		case p.Index != nil:
			return nil, session.Navigate(ctx, *p.Index)
		case p.Direction == "previous":
			return nil, session.Previous(ctx)
		default:
			return nil, session.Next(ctx)
		}
	case "skip":
		return nil, session.Skip(ctx)
	case "hint":
		hint, err := session.UseHint(ctx)
		if err != nil {
			return nil, err
		}
		return &outboundMessage[any]{Type: "hint", Payload: hintResult{Hint: hint}}, nil
	case "media":
		var p mediaPayload
		if err := h.decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return nil, session.RecordMedia(ctx, p.QuestionID, domain.MediaEvent{
			Kind:     p.Kind,
			Position: p.Position,
			Duration: p.Duration,
		})
	case "puzzle":
		var p puzzlePayload
		if err := h.decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return nil, session.CompletePuzzle(ctx, p.QuestionID, domain.PuzzleResult{
			Score:            p.Score,
			TimeTakenSeconds: float64(p.TimeTakenSeconds),
			EndReason:        p.EndReason,
		})
	case "submit":
		_, err := session.Submit(ctx)
		return nil, err
	default:
		return nil, fmt.Errorf("unsupported message type %q", in.Type)
	}
}

func (h *Handler) decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return h.validate.Struct(v)
}

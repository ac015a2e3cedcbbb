package http

import (
	"net/http"
	"time"

	"assessment-session-service/internal/app"
	"assessment-session-service/internal/question"
)

type createSessionRequest struct {
	Topic                    *question.Topic `json:"topic" validate:"required_without=Slots"`
	Slots                    []question.Slot `json:"slots" validate:"omitempty,dive"`
	TimeLimitSeconds         int             `json:"timeLimitSeconds" validate:"gte=0"`
	WindowStart              *time.Time      `json:"windowStart"`
	WindowEnd                *time.Time      `json:"windowEnd"`
	QuestionTimeLimitSeconds int             `json:"questionTimeLimitSeconds" validate:"gte=0"`
}

type createSessionResponse struct {
	SessionID string       `json:"sessionId"`
	Snapshot  app.Snapshot `json:"snapshot"`
}

func (req createSessionRequest) toCreate(student string) app.CreateRequest {
	out := app.CreateRequest{
		StudentID:                student,
		Topic:                    req.Topic,
		Slots:                    req.Slots,
		TimeLimitSeconds:         req.TimeLimitSeconds,
		QuestionTimeLimitSeconds: req.QuestionTimeLimitSeconds,
	}
	if req.WindowStart != nil {
		out.WindowStart = *req.WindowStart
	}
	if req.WindowEnd != nil {
		out.WindowEnd = *req.WindowEnd
	}
	return out
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	student := studentID(r)
	if student == "" {
		writeError(w, http.StatusUnauthorized, "missing "+StudentHeader+" header")
		return
	}

	var req createSessionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.service.Create(r.Context(), req.toCreate(student))
	if err != nil {
		h.logger.Warn("create session failed", "student_id", student, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	snap, err := session.Snapshot(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: session.ID(), Snapshot: snap})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.authorized(w, r)
	if !ok {
		return
	}
	h.writeSnapshot(w, r, session)
}

func (h *Handler) proceedSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.authorized(w, r)
	if !ok {
		return
	}
	if err := session.Proceed(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	h.writeSnapshot(w, r, session)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.authorized(w, r)
	if !ok {
		return
	}
	if err := session.Start(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	h.writeSnapshot(w, r, session)
}

// submitSession blocks until the submission pipeline has produced the outcome.
func (h *Handler) submitSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.authorized(w, r)
	if !ok {
		return
	}
	out, err := session.Submit(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) abandonSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.authorized(w, r)
	if !ok {
		return
	}
	if err := h.service.Abandon(r.Context(), session.ID()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeSnapshot(w http.ResponseWriter, r *http.Request, session *app.Session) {
	snap, err := session.Snapshot(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

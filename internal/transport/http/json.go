package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"assessment-session-service/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMissingIdentity):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrQuestionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrActiveSessionExists),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrSessionEnded),
		errors.Is(err, domain.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotOpenYet):
		return http.StatusTooEarly
	case errors.Is(err, domain.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrOptionNotFound),
		errors.Is(err, domain.ErrWrongQuestionType):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

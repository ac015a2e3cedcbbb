package domain

import "errors"

var (
	// ErrSessionNotFound is returned when an assessment session has not been initialized.
	ErrSessionNotFound = errors.New("assessment session not found")
	// ErrQuestionNotFound indicates a question ID or index is not part of the session.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted answer is not one of the question options.
	ErrOptionNotFound = errors.New("option not found")
	// ErrMissingIdentity is returned when a session is started or submitted without a student id.
	ErrMissingIdentity = errors.New("student identity missing")
	// ErrSessionExpired indicates the assessment window closed before the session could start.
	ErrSessionExpired = errors.New("assessment window expired")
	// ErrNotOpenYet indicates the assessment window has not opened.
	ErrNotOpenYet = errors.New("assessment window not open yet")
	// ErrInvalidConfig indicates a session configuration that cannot produce a session.
	ErrInvalidConfig = errors.New("invalid session configuration")
	// ErrInvalidTransition is returned when an action is not allowed in the current state.
	ErrInvalidTransition = errors.New("action not allowed in current session state")
	// ErrSessionEnded is returned for mutations after the session stopped accepting answers.
	ErrSessionEnded = errors.New("session has ended")
	// ErrSessionClosed is returned when the session event loop is no longer running.
	ErrSessionClosed = errors.New("session closed")
	// ErrWrongQuestionType indicates an interaction that does not fit the question type.
	ErrWrongQuestionType = errors.New("interaction not supported for question type")
	// ErrDuplicateSubmission is the idempotency signal from a results store.
	ErrDuplicateSubmission = errors.New("session already submitted")
	// ErrActiveSessionExists indicates the student already runs another session.
	ErrActiveSessionExists = errors.New("student already has an active session")
)

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"assessment-session-service/internal/app"
	"assessment-session-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewSessionStore(newClient(mr), time.Minute)

	session := newTestSession(t, "s1", "student-1")
	if err := store.Add(ctx, session); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !mr.Exists("assessment:session:s1") {
		t.Fatalf("expected liveness key to be set")
	}
	if got, _ := mr.Get("assessment:student:student-1:active"); got != "s1" {
		t.Fatalf("expected student claim, got %q", got)
	}

	store.Remove(ctx, "s1")
	if mr.Exists("assessment:session:s1") || mr.Exists("assessment:student:student-1:active") {
		t.Fatalf("expected redis keys to be removed")
	}
	if _, ok := store.Get("s1"); ok {
		t.Fatalf("expected session removed")
	}
}

func TestSessionStoreOneActiveSessionPerStudent(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	// Two stores model two service instances sharing Redis.
	a := NewSessionStore(newClient(mr), time.Minute)
	b := NewSessionStore(newClient(mr), time.Minute)

	first := newTestSession(t, "s1", "student-1")
	second := newTestSession(t, "s2", "student-1")
	if err := a.Add(ctx, first); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if err := b.Add(ctx, second); !errors.Is(err, domain.ErrActiveSessionExists) {
		t.Fatalf("expected active session error, got %v", err)
	}

	// Releasing with a session that does not own the claim is a no-op.
	b.Release(ctx, second)
	if got, _ := mr.Get("assessment:student:student-1:active"); got != "s1" {
		t.Fatalf("claim must stay with s1, got %q", got)
	}

	a.Release(ctx, first)
	if err := b.Add(ctx, second); err != nil {
		t.Fatalf("add after release: %v", err)
	}
}

func newTestSession(t *testing.T, id, student string) *app.Session {
	t.Helper()
	cfg := domain.SessionConfig{
		Questions: []domain.Question{{
			ID:            "q1",
			Type:          domain.MultipleChoice,
			Prompt:        "2 + 2?",
			Options:       []string{"3", "4"},
			CorrectAnswer: "4",
		}},
		TimeLimitSeconds: 60,
	}
	session, err := app.NewSession(id, student, cfg, nil, app.SessionOptions{})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(session.Close)
	return session
}

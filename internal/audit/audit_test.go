package audit

import (
	"context"
	"errors"
	"testing"

	"amphoraxe.ca/internal/auth"
)

type captureStore struct {
	events []auth.AuditEvent
	err    error
}

func (s *captureStore) Append(ctx context.Context, e *auth.AuditEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, *e)
	return nil
}

func TestRecorderFillsDefaults(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store)

	err := r.Event(context.Background(), auth.AuditEvent{
		Action:    "login",
		ActorID:   "u1",
		IPAddress: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
	got := store.events[0]
	if got.ID == "" {
		t.Fatal("id was not assigned")
	}
	if got.OccurredAt.IsZero() {
		t.Fatal("occurred_at was not set")
	}
	if got.Action != "login" || got.ActorID != "u1" {
		t.Fatalf("event mangled: %+v", got)
	}
}

func TestRecorderPreservesProvidedFields(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store)

	err := r.Event(context.Background(), auth.AuditEvent{
		ID:     "fixed-id",
		Action: "signup",
	})
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if store.events[0].ID != "fixed-id" {
		t.Fatalf("id overwritten: %q", store.events[0].ID)
	}
}

func TestRecorderReturnsAppendError(t *testing.T) {
	boom := errors.New("pg down")
	r := NewRecorder(&captureStore{err: boom})

	if err := r.Event(context.Background(), auth.AuditEvent{Action: "login"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want append error", err)
	}
}

func TestRecorderNilStoreLogsOnly(t *testing.T) {
	r := NewRecorder(nil)
	if err := r.Event(context.Background(), auth.AuditEvent{Action: "login"}); err != nil {
		t.Fatalf("nil store must not error: %v", err)
	}
}

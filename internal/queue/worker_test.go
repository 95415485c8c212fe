package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
)

type recordingStore struct {
	pins    []PinPayload
	accepts []AcceptPayload
	err     error
}

func (s *recordingStore) SetPinned(_ context.Context, userID, conversationID string, pinned bool) error {
	s.pins = append(s.pins, PinPayload{UserID: userID, ConversationID: conversationID, Pinned: pinned})
	return s.err
}

func (s *recordingStore) Accept(_ context.Context, userID, conversationID string) error {
	s.accepts = append(s.accepts, AcceptPayload{UserID: userID, ConversationID: conversationID})
	return s.err
}

func newTestWorker(store Store) *Worker {
	return &Worker{store: store, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestHandlePin(t *testing.T) {
	store := &recordingStore{}
	task, err := NewPinTask(PinPayload{UserID: "me", ConversationID: "c1", Pinned: true})
	if err != nil {
		t.Fatalf("NewPinTask failed: %v", err)
	}

	if err := newTestWorker(store).HandlePin(context.Background(), task); err != nil {
		t.Fatalf("HandlePin failed: %v", err)
	}
	if len(store.pins) != 1 || store.pins[0] != (PinPayload{UserID: "me", ConversationID: "c1", Pinned: true}) {
		t.Fatalf("Unexpected writes %+v", store.pins)
	}
}

func TestHandleAccept(t *testing.T) {
	store := &recordingStore{}
	task, _ := NewAcceptTask(AcceptPayload{UserID: "me", ConversationID: "p1"})

	if err := newTestWorker(store).HandleAccept(context.Background(), task); err != nil {
		t.Fatalf("HandleAccept failed: %v", err)
	}
	if len(store.accepts) != 1 || store.accepts[0].ConversationID != "p1" {
		t.Fatalf("Unexpected writes %+v", store.accepts)
	}
}

func TestPermanentErrorsSkipRetry(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		retry bool
	}{
		{"not found", entity.ErrConversationNotFound, false},
		{"own request", entity.ErrOwnRequest, false},
		{"not acceptable", entity.ErrNotAcceptable, false},
		{"transient", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, _ := NewAcceptTask(AcceptPayload{UserID: "me", ConversationID: "p1"})
			err := newTestWorker(&recordingStore{err: tt.err}).HandleAccept(context.Background(), task)

			if !errors.Is(err, tt.err) {
				t.Fatalf("Expected %v to be preserved, got %v", tt.err, err)
			}
			if skipped := errors.Is(err, asynq.SkipRetry); skipped == tt.retry {
				t.Fatalf("Expected retry=%v, got SkipRetry=%v", tt.retry, skipped)
			}
		})
	}
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	task := asynq.NewTask(TypePin, []byte("{"))

	err := newTestWorker(&recordingStore{}).HandlePin(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("Expected SkipRetry, got %v", err)
	}
}

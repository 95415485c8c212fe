package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
)

// Store applies the writes carried by tasks
type Store interface {
	SetPinned(ctx context.Context, userID, conversationID string, pinned bool) error
	Accept(ctx context.Context, userID, conversationID string) error
}

// Worker runs the asynq server processing inbox writes
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	store  Store
	logger *slog.Logger
}

// NewWorker creates a worker consuming the inbox queue
func NewWorker(redis asynq.RedisConnOpt, store Store, cfg Config, logger *slog.Logger) *Worker {
	cfg = cfg.withDefaults()

	w := &Worker{
		mux:    asynq.NewServeMux(),
		store:  store,
		logger: logger,
	}
	w.server = asynq.NewServer(redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{QueueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("inbox write task failed", "type", task.Type(), "error", err)
		}),
	})
	w.mux.HandleFunc(TypePin, w.HandlePin)
	w.mux.HandleFunc(TypeAccept, w.HandleAccept)

	return w
}

// Start begins processing in the background
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("starting queue worker: %w", err)
	}
	w.logger.Info("inbox queue worker started", "queue", QueueName)
	return nil
}

// Shutdown waits for in-flight tasks and stops the worker
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	w.logger.Info("inbox queue worker stopped")
}

// HandlePin applies an inbox:pin task
func (w *Worker) HandlePin(ctx context.Context, t *asynq.Task) error {
	var p PinPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decoding pin payload: %v: %w", err, asynq.SkipRetry)
	}
	return permanent(w.store.SetPinned(ctx, p.UserID, p.ConversationID, p.Pinned))
}

// HandleAccept applies an inbox:accept task
func (w *Worker) HandleAccept(ctx context.Context, t *asynq.Task) error {
	var p AcceptPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decoding accept payload: %v: %w", err, asynq.SkipRetry)
	}
	return permanent(w.store.Accept(ctx, p.UserID, p.ConversationID))
}

// permanent marks errors that no retry can fix
func permanent(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, entity.ErrConversationNotFound),
		errors.Is(err, entity.ErrOwnRequest),
		errors.Is(err, entity.ErrNotAcceptable):
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}

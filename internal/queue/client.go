package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// ErrTaskFailed is returned when a queued write exhausted its retries
var ErrTaskFailed = errors.New("queued write failed")

// Config holds queue settings
type Config struct {
	Concurrency  int
	MaxRetry     int
	Retention    time.Duration // how long completed tasks stay inspectable
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency == 0 {
		c.Concurrency = 10
	}
	if c.MaxRetry == 0 {
		c.MaxRetry = 5
	}
	if c.Retention == 0 {
		c.Retention = 10 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	return c
}

// MutationQueue submits authoritative writes as durable asynq tasks and
// waits until the worker has applied them, so callers observe the same
// completion semantics as a direct write.
type MutationQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	cfg       Config
	logger    *slog.Logger
}

// NewMutationQueue creates a queue client on the given Redis connection
func NewMutationQueue(redis asynq.RedisConnOpt, cfg Config, logger *slog.Logger) *MutationQueue {
	return &MutationQueue{
		client:    asynq.NewClient(redis),
		inspector: asynq.NewInspector(redis),
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// SetPinned enqueues an inbox:pin task and waits for it
func (q *MutationQueue) SetPinned(ctx context.Context, userID, conversationID string, pinned bool) error {
	task, err := NewPinTask(PinPayload{UserID: userID, ConversationID: conversationID, Pinned: pinned})
	if err != nil {
		return err
	}
	return q.run(ctx, task)
}

// Accept enqueues an inbox:accept task and waits for it
func (q *MutationQueue) Accept(ctx context.Context, userID, conversationID string) error {
	task, err := NewAcceptTask(AcceptPayload{UserID: userID, ConversationID: conversationID})
	if err != nil {
		return err
	}
	return q.run(ctx, task)
}

func (q *MutationQueue) run(ctx context.Context, task *asynq.Task) error {
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueName),
		asynq.MaxRetry(q.cfg.MaxRetry),
		asynq.Retention(q.cfg.Retention),
	)
	if err != nil {
		return fmt.Errorf("enqueueing %s: %w", task.Type(), err)
	}
	q.logger.Debug("inbox write enqueued", "task_id", info.ID, "type", task.Type())

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s %s: %w", task.Type(), info.ID, ctx.Err())
		case <-ticker.C:
		}

		ti, err := q.inspector.GetTaskInfo(info.Queue, info.ID)
		if err != nil {
			return fmt.Errorf("inspecting %s: %w", info.ID, err)
		}
		switch ti.State {
		case asynq.TaskStateCompleted:
			return nil
		case asynq.TaskStateArchived:
			return fmt.Errorf("%w: %s: %s", ErrTaskFailed, task.Type(), ti.LastErr)
		}
	}
}

// Close releases the Redis connections
func (q *MutationQueue) Close() error {
	if err := q.inspector.Close(); err != nil {
		return err
	}
	return q.client.Close()
}

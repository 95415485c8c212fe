package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task types
const (
	TypePin    = "inbox:pin"
	TypeAccept = "inbox:accept"
)

// QueueName is the asynq queue carrying inbox writes
const QueueName = "inbox"

// PinPayload is the body of an inbox:pin task
type PinPayload struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Pinned         bool   `json:"pinned"`
}

// AcceptPayload is the body of an inbox:accept task
type AcceptPayload struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

// NewPinTask builds an inbox:pin task
func NewPinTask(p PinPayload) (*asynq.Task, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding pin payload: %w", err)
	}
	return asynq.NewTask(TypePin, body), nil
}

// NewAcceptTask builds an inbox:accept task
func NewAcceptTask(p AcceptPayload) (*asynq.Task, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding accept payload: %w", err)
	}
	return asynq.NewTask(TypeAccept, body), nil
}

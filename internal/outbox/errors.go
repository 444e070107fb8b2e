package outbox

import "errors"

var (
	ErrQueueEmpty        = errors.New("outbox queue empty")
	ErrQueueFull         = errors.New("outbox queue full")
	ErrEventTypeRequired = errors.New("outbox event type is required")
	ErrPayloadTooLarge   = errors.New("outbox event payload exceeds max size")
	ErrNoHandler         = errors.New("no handler registered for event type")
)

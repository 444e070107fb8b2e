package outbox

import (
	"context"
	"time"
)

// Queue stores pending events. Dequeue returns ErrQueueEmpty when nothing
// arrives within timeout.
type Queue interface {
	Enqueue(ctx context.Context, event *Event) error
	Dequeue(ctx context.Context, timeout time.Duration) (*Event, error)
	DeadLetter(ctx context.Context, event *Event) error
}

// MemoryQueue is a process-local queue used when Redis is unavailable.
// Events do not survive a restart.
type MemoryQueue struct {
	pending chan *Event
	dead    chan *Event
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryQueue{
		pending: make(chan *Event, buffer),
		dead:    make(chan *Event, buffer),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, event *Event) error {
	select {
	case q.pending <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case event := <-q.pending:
		return event, nil
	case <-timer.C:
		return nil, ErrQueueEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, event *Event) error {
	select {
	case q.dead <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dead drains and returns the dead-lettered events.
func (q *MemoryQueue) Dead() []*Event {
	var out []*Event
	for {
		select {
		case e := <-q.dead:
			out = append(out, e)
		default:
			return out
		}
	}
}

// Len reports the number of pending events.
func (q *MemoryQueue) Len() int {
	return len(q.pending)
}

package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coinvault/backend/internal/metrics"
	"go.uber.org/zap"
)

// maxDeferWait bounds how long ProcessOne idles on an event that is not due
// yet, so other events behind it are not held up.
const maxDeferWait = 200 * time.Millisecond

// HandlerFunc delivers one event. A returned error schedules a retry.
type HandlerFunc func(ctx context.Context, event *Event) error

// Dispatcher publishes events to a Queue and delivers them to registered
// handlers. Delivery failures are retried with exponential backoff up to
// maxAttempts and then dead-lettered; they are never reported back to the
// publisher.
type Dispatcher struct {
	queue       Queue
	logger      *zap.Logger
	maxAttempts int
	pollTimeout time.Duration
	now         func() time.Time

	retryBackoff    time.Duration
	retryMaxBackoff time.Duration

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

type DispatcherOption func(*Dispatcher)

func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithPollTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.pollTimeout = timeout
		}
	}
}

// WithRetryBackoff sets the first redelivery delay and its ceiling. A zero
// initial delay redelivers immediately.
func WithRetryBackoff(initial, ceiling time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if initial < 0 {
			return
		}
		d.retryBackoff = initial
		d.retryMaxBackoff = max(ceiling, initial)
	}
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDispatcher(queue Queue, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		queue:       queue,
		logger:      logger.Named("outbox"),
		maxAttempts: 5,
		pollTimeout: 5 * time.Second,
		now:         time.Now,
		handlers:    make(map[string]HandlerFunc),

		retryBackoff:    2 * time.Second,
		retryMaxBackoff: time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Register binds a handler to an event type, replacing any previous one.
func (d *Dispatcher) Register(eventType string, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = handler
}

// Publish enqueues an event for delivery.
func (d *Dispatcher) Publish(ctx context.Context, event *Event) error {
	if err := d.queue.Enqueue(ctx, event); err != nil {
		metrics.OutboxEventsTotal.WithLabelValues(event.Type, "enqueue_failed").Inc()
		return fmt.Errorf("enqueue %s: %w", event.Type, err)
	}
	metrics.OutboxEventsTotal.WithLabelValues(event.Type, "enqueued").Inc()
	return nil
}

// Run delivers events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("outbox dispatcher started")
	defer d.logger.Info("outbox dispatcher stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := d.ProcessOne(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			d.logger.Warn("outbox dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOne waits up to the poll timeout for one event and delivers it.
// It reports whether an event was handed to its handler. An event still
// inside its retry backoff goes back on the queue untouched.
func (d *Dispatcher) ProcessOne(ctx context.Context) (bool, error) {
	event, err := d.queue.Dequeue(ctx, d.pollTimeout)
	if errors.Is(err, ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if now := d.now(); !event.Due(now) {
		d.postpone(ctx, event, event.NextAttemptAt.Sub(now))
		return false, nil
	}

	d.deliver(ctx, event)
	return true, nil
}

func (d *Dispatcher) postpone(ctx context.Context, event *Event, remaining time.Duration) {
	// the event is already off the queue; shutdown must not drop it
	if err := d.queue.Enqueue(context.WithoutCancel(ctx), event); err != nil {
		event.LastError = fmt.Sprintf("requeue deferred event: %v", err)
		d.deadLetter(ctx, event, d.logger.With(zap.String("event_id", event.ID.String())))
		return
	}

	timer := time.NewTimer(min(remaining, d.pollTimeout, maxDeferWait))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// retryDelay returns the jittered backoff before delivery attempt attempts+1.
func (d *Dispatcher) retryDelay(attempts int) time.Duration {
	if d.retryBackoff <= 0 {
		return 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryBackoff
	b.MaxInterval = d.retryMaxBackoff
	b.Multiplier = 2
	b.Reset()

	var delay time.Duration
	for i := 0; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	if delay < 0 {
		delay = d.retryMaxBackoff
	}
	return delay
}

func (d *Dispatcher) deliver(ctx context.Context, event *Event) {
	d.mu.RLock()
	handler, ok := d.handlers[event.Type]
	d.mu.RUnlock()

	log := d.logger.With(
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.Type),
		zap.String("aggregate_id", event.AggregateID),
	)

	if !ok {
		event.LastError = ErrNoHandler.Error()
		d.deadLetter(ctx, event, log)
		return
	}

	err := safeCall(ctx, handler, event)
	if err == nil {
		metrics.OutboxEventsTotal.WithLabelValues(event.Type, "delivered").Inc()
		log.Debug("outbox event delivered", zap.Int("attempts", event.Attempts+1))
		return
	}

	event.Attempts++
	event.LastError = err.Error()

	if event.Attempts >= d.maxAttempts {
		d.deadLetter(ctx, event, log)
		return
	}

	delay := d.retryDelay(event.Attempts)
	event.NextAttemptAt = d.now().Add(delay)

	log.Warn("outbox event failed, retrying",
		zap.Int("attempts", event.Attempts),
		zap.Duration("backoff", delay),
		zap.Error(err),
	)
	metrics.OutboxEventsTotal.WithLabelValues(event.Type, "retried").Inc()
	if err := d.queue.Enqueue(ctx, event); err != nil {
		log.Error("outbox event requeue failed", zap.Error(err))
	}
}

func (d *Dispatcher) deadLetter(ctx context.Context, event *Event, log *zap.Logger) {
	metrics.OutboxEventsTotal.WithLabelValues(event.Type, "dead").Inc()
	log.Error("outbox event dead-lettered",
		zap.Int("attempts", event.Attempts),
		zap.String("last_error", event.LastError),
	)
	if err := d.queue.DeadLetter(ctx, event); err != nil {
		log.Error("outbox dead-letter write failed", zap.Error(err))
	}
}

func safeCall(ctx context.Context, handler HandlerFunc, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

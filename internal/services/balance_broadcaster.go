package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coinvault/backend/internal/middleware"
	"github.com/coinvault/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const subscriberBuffer = 16

// BalanceBroadcaster pushes balance changes to live subscribers. With Redis
// it uses pub/sub so every server instance sees every change; without Redis
// it fans out in-process only. Subscribers are eventually consistent with
// the store and may miss updates when they fall behind.
type BalanceBroadcaster struct {
	redis     *redis.Client
	store     AccountStore
	logger    *zap.Logger
	heartbeat time.Duration

	mu          sync.RWMutex
	subscribers map[string]map[chan models.BalanceEvent]struct{}
}

func NewBalanceBroadcaster(redisClient *redis.Client, store AccountStore, logger *zap.Logger) *BalanceBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceBroadcaster{
		redis:       redisClient,
		store:       store,
		logger:      logger.With(zap.String("component", "balances")),
		heartbeat:   25 * time.Second,
		subscribers: make(map[string]map[chan models.BalanceEvent]struct{}),
	}
}

func balanceChannel(accountID string) string {
	return "balances:" + accountID
}

func (b *BalanceBroadcaster) PublishBalances(ctx context.Context, event models.BalanceEvent) error {
	if b.redis == nil {
		b.fanOut(event)
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, balanceChannel(event.AccountID), payload).Err()
}

func (b *BalanceBroadcaster) fanOut(event models.BalanceEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[event.AccountID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel of balance events for accountID and a function
// that ends the subscription and closes the channel.
func (b *BalanceBroadcaster) Subscribe(ctx context.Context, accountID string) (<-chan models.BalanceEvent, func()) {
	if b.redis != nil {
		return b.subscribeRedis(ctx, accountID)
	}

	ch := make(chan models.BalanceEvent, subscriberBuffer)
	b.mu.Lock()
	if b.subscribers[accountID] == nil {
		b.subscribers[accountID] = make(map[chan models.BalanceEvent]struct{})
	}
	b.subscribers[accountID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers[accountID], ch)
			if len(b.subscribers[accountID]) == 0 {
				delete(b.subscribers, accountID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *BalanceBroadcaster) subscribeRedis(ctx context.Context, accountID string) (<-chan models.BalanceEvent, func()) {
	pubsub := b.redis.Subscribe(ctx, balanceChannel(accountID))
	out := make(chan models.BalanceEvent, subscriberBuffer)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var event models.BalanceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("dropping malformed balance event", zap.Error(err))
				continue
			}
			select {
			case out <- event:
			default:
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() { pubsub.Close() })
	}
}

// StreamBalances streams the caller's balances as server-sent events
// @Summary Live balance stream
// @Tags accounts
// @Produce text/event-stream
// @Router /accounts/me/balances/stream [get]
func (b *BalanceBroadcaster) StreamBalances(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		SendErrorResponse(w, "Streaming unsupported", http.StatusInternalServerError, nil)
		return
	}

	account, err := b.store.GetAccount(r.Context(), accountID)
	if err != nil {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	events, cancel := b.Subscribe(r.Context(), accountID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot := models.BalanceEvent{AccountID: accountID, Balances: ReconcileBalances(account)}
	if err := writeSSE(w, "balances", snapshot); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, "balances", event); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

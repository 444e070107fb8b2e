package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue keeps pending events in a Redis list (LPUSH / BRPOP) and
// failed events in a separate dead-letter list.
type RedisQueue struct {
	client     *redis.Client
	pendingKey string
	deadKey    string
}

func NewRedisQueue(client *redis.Client, pendingKey, deadKey string) *RedisQueue {
	return &RedisQueue{
		client:     client,
		pendingKey: pendingKey,
		deadKey:    deadKey,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	return q.client.LPush(ctx, q.pendingKey, data).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Event, error) {
	res, err := q.client.BRPop(ctx, timeout, q.pendingKey).Result()
	if err == redis.Nil {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply: %v", res)
	}

	var event Event
	if err := json.Unmarshal([]byte(res[1]), &event); err != nil {
		return nil, fmt.Errorf("unmarshal outbox event: %w", err)
	}
	return &event, nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	return q.client.LPush(ctx, q.deadKey, data).Err()
}

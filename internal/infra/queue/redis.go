package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SweepTrigger описывает внеочередной запрос на проход по автоматизациям.
type SweepTrigger struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	RequestedAt time.Time `json:"requested_at"`
}

// RedisTriggerQueue реализует очередь триггеров на базе Redis lists.
type RedisTriggerQueue struct {
	client redis.UniversalClient
	key    string
}

// NewRedisTriggerQueue создаёт очередь по указанному ключу.
func NewRedisTriggerQueue(client redis.UniversalClient, key string) *RedisTriggerQueue {
	if key == "" {
		key = "content-autopilot:sweeps"
	}
	return &RedisTriggerQueue{client: client, key: key}
}

// Enqueue публикует триггер в очередь.
func (q *RedisTriggerQueue) Enqueue(ctx context.Context, trigger SweepTrigger) error {
	payload, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push trigger: %w", err)
	}
	return nil
}

// Pop блокирующе читает триггер из очереди.
func (q *RedisTriggerQueue) Pop(ctx context.Context) (SweepTrigger, error) {
	for {
		if err := ctx.Err(); err != nil {
			return SweepTrigger{}, err
		}
		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return SweepTrigger{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return SweepTrigger{}, err
		}
		if len(res) != 2 {
			return SweepTrigger{}, errors.New("redis queue: unexpected response")
		}
		return decodeTrigger(res[1])
	}
}

// Drain забирает все накопившиеся триггеры без ожидания.
// Несколько запросов подряд схлопываются в один проход.
func (q *RedisTriggerQueue) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.client.RPop(ctx, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func decodeTrigger(raw string) (SweepTrigger, error) {
	var trigger SweepTrigger
	if err := json.Unmarshal([]byte(raw), &trigger); err != nil {
		return SweepTrigger{}, fmt.Errorf("decode trigger: %w", err)
	}
	return trigger, nil
}

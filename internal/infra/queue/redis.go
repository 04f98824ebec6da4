package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"reading-tracker/internal/domain"
	"reading-tracker/internal/infra/metrics"
)

// RedisStatsQueue реализует очередь задач на базе Redis lists.
type RedisStatsQueue struct {
	client *redis.Client
	key    string
}

// NewRedisStatsQueue создаёт очередь по указанному ключу.
func NewRedisStatsQueue(client *redis.Client, key string) *RedisStatsQueue {
	return &RedisStatsQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisStatsQueue) Enqueue(ctx context.Context, job domain.StatsJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. ack(false) кладёт задачу обратно.
func (q *RedisStatsQueue) Receive(ctx context.Context) (domain.StatsJob, domain.StatsAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.StatsJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.StatsJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.StatsJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.StatsJob{}, nil, errors.New("redis queue: unexpected response")
		}
		payload := []byte(res[1])
		var job domain.StatsJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return domain.StatsJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.LPush(context.Background(), q.key, payload).Err()
		}
		return job, ack, nil
	}
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on top of a Redis list, for deployments that
// already run Redis and prefer not to add queue contention to the primary
// Postgres instance. Consume moves each job with BRPOPLPUSH into a
// "<queue>:processing" list and removes it from there once the handler
// returns; a failed job is pushed back with its attempt count incremented
// until maxAttempts is reached, then dropped. Entries left in the
// processing list by a consumer that stops mid-job are not requeued, and
// visibilityTimeout is stored but not used.
type RedisQueue struct {
	client            *redis.Client
	visibilityTimeout time.Duration
	maxAttempts       int
}

func NewRedisQueue(client *redis.Client, visibilityTimeout time.Duration, maxAttempts int) *RedisQueue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = DefaultVisibilityTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &RedisQueue{client: client, visibilityTimeout: visibilityTimeout, maxAttempts: maxAttempts}
}

type redisEnvelope struct {
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

func (q *RedisQueue) Send(ctx context.Context, queueName string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	envelope, err := json.Marshal(redisEnvelope{Payload: payload})
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, queueName, envelope).Err()
}

func (q *RedisQueue) Consume(ctx context.Context, queueName string, handler Handler) error {
	processingKey := queueName + ":processing"

	for {
		raw, err := q.client.BRPopLPush(ctx, queueName, processingKey, 5*time.Second).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(time.Second)
			continue
		}

		var env redisEnvelope
		if jsonErr := json.Unmarshal([]byte(raw), &env); jsonErr != nil {
			q.client.LRem(ctx, processingKey, 1, raw)
			continue
		}

		job := Job{Queue: queueName, Payload: env.Payload, Attempts: env.Attempts}
		handleErr := handler(ctx, job)
		q.client.LRem(ctx, processingKey, 1, raw)

		if handleErr != nil {
			env.Attempts++
			if env.Attempts < q.maxAttempts {
				requeued, _ := json.Marshal(env)
				q.client.LPush(ctx, queueName, requeued)
			}
		}
	}
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"faceattend/internal/logger"
)

// DefaultRedisKey is the list used when none is configured.
const DefaultRedisKey = "faceattend:queue"

// RedisQueue is a Redis list used with LPUSH/BRPOP.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	wait   time.Duration
	log    logrus.FieldLogger
}

// NewRedisQueue builds a queue on key.
func NewRedisQueue(client redis.UniversalClient, key string, log logrus.FieldLogger) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{client: client, key: key, wait: 5 * time.Second, log: logger.OrStandard(log)}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Consume streams messages using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, q.wait, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					q.log.WithError(err).Warn("queue pop failed")
					time.Sleep(time.Second)
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
				q.log.WithError(err).Warn("dropping malformed queue message")
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close leaves the shared client open; its owner closes it.
func (q *RedisQueue) Close() error { return nil }

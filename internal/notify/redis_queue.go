package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

const DefaultQueueKey = "notify:phone-requests"

// queueClient is the subset of the redis client the queue needs.
type queueClient interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Job is one queued phone number request.
type Job struct {
	ID        string    `json:"id"`
	ChatID    int64     `json:"chatId"`
	CreatedAt time.Time `json:"createdAt"`
}

// RedisQueue is a Sink that persists requests in a redis list so they survive
// a restart. Consume delivers them.
type RedisQueue struct {
	client  queueClient
	key     string
	poll    time.Duration
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewRedisClient connects and pings, failing fast when redis is unreachable.
func NewRedisClient(addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func NewRedisQueue(client *redis.Client, key string, logger *zap.SugaredLogger) *RedisQueue {
	return newRedisQueue(client, key, logger)
}

func newRedisQueue(client queueClient, key string, logger *zap.SugaredLogger) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisQueue{
		client:  client,
		key:     key,
		poll:    5 * time.Second,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// SendPhoneRequest pushes a job onto the list.
func (q *RedisQueue) SendPhoneRequest(ctx context.Context, chatID int64) error {
	data, err := json.Marshal(Job{ID: utilities.NewKSUID(), ChatID: chatID, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("notify queue: marshal: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("notify queue: push: %w", err)
	}
	return nil
}

// Consume pops jobs until ctx ends and hands each to sink. A failed delivery is
// logged and not requeued.
func (q *RedisQueue) Consume(ctx context.Context, sink Sink) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Warnw("notify queue pop failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		// BRPOP replies with [key, value]
		if len(res) != 2 {
			continue
		}
		q.handle(ctx, sink, res[1])
	}
}

func (q *RedisQueue) handle(ctx context.Context, sink Sink, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil || job.ChatID == 0 {
		q.logger.Warnw("notify queue: discarding malformed job", "err", err)
		return
	}
	jobCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	if err := sink.SendPhoneRequest(jobCtx, job.ChatID); err != nil {
		q.logger.Warnw("phone request failed", "jobId", job.ID, "chatId", job.ChatID, "err", err)
		return
	}
	q.logger.Debugw("phone request delivered", "jobId", job.ID, "chatId", job.ChatID)
}

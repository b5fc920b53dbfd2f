package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeList mimics a redis list: LPUSH at the head, BRPOP from the tail.
type fakeList struct {
	mu      sync.Mutex
	items   []string
	pushErr error
	onEmpty func()
}

func (f *fakeList) LPush(ctx context.Context, key string, values ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return redis.NewIntResult(0, f.pushErr)
	}
	for _, v := range values {
		var s string
		switch t := v.(type) {
		case []byte:
			s = string(t)
		case string:
			s = t
		}
		f.items = append([]string{s}, f.items...)
	}
	return redis.NewIntResult(int64(len(f.items)), nil)
}

func (f *fakeList) BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	f.mu.Lock()
	if len(f.items) == 0 {
		f.mu.Unlock()
		if f.onEmpty != nil {
			f.onEmpty()
		}
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
	last := f.items[len(f.items)-1]
	f.items = f.items[:len(f.items)-1]
	f.mu.Unlock()
	return redis.NewStringSliceResult([]string{keys[0], last}, nil)
}

func TestRedisQueuePushesJob(t *testing.T) {
	list := &fakeList{}
	q := newRedisQueue(list, "", zaptest.NewLogger(t).Sugar())

	require.NoError(t, q.SendPhoneRequest(context.Background(), 321))
	require.Len(t, list.items, 1)

	var job Job
	require.NoError(t, json.Unmarshal([]byte(list.items[0]), &job))
	assert.Equal(t, int64(321), job.ChatID)
	assert.Len(t, job.ID, 27)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Equal(t, DefaultQueueKey, q.key)
}

func TestRedisQueuePushError(t *testing.T) {
	list := &fakeList{pushErr: errors.New("READONLY")}
	q := newRedisQueue(list, "k", zaptest.NewLogger(t).Sugar())
	assert.Error(t, q.SendPhoneRequest(context.Background(), 1))
}

func TestRedisQueueConsumeInOrder(t *testing.T) {
	list := &fakeList{}
	q := newRedisQueue(list, "k", zaptest.NewLogger(t).Sugar())
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, q.SendPhoneRequest(context.Background(), id))
	}
	list.items = append([]string{`{"id":"bad","chatId":0}`, `not json`}, list.items...)

	ctx, cancel := context.WithCancel(context.Background())
	list.onEmpty = cancel
	sink := &recordingSink{}

	require.NoError(t, q.Consume(ctx, sink))
	assert.Equal(t, []int64{1, 2, 3}, sink.delivered())
}

func TestRedisQueueConsumeContinuesAfterSinkError(t *testing.T) {
	list := &fakeList{}
	q := newRedisQueue(list, "k", zaptest.NewLogger(t).Sugar())
	require.NoError(t, q.SendPhoneRequest(context.Background(), 10))
	require.NoError(t, q.SendPhoneRequest(context.Background(), 11))

	ctx, cancel := context.WithCancel(context.Background())
	list.onEmpty = cancel
	sink := &recordingSink{err: errors.New("blocked by user")}

	require.NoError(t, q.Consume(ctx, sink))
	assert.Equal(t, []int64{10, 11}, sink.delivered())
}

package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiorchestrator/orchestrator/internal/domain"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return NewRedisStore(cli)
}

func TestRedisStore_StringOps(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	n, err := s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.Del(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_HashOps(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	require.NoError(t, s.HSet(ctx, "h", "a", "1"))
	v, ok, err := s.HGet(ctx, "h", "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	n, err := s.HIncrBy(ctx, "h", "count", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	f, err := s.HIncrByFloat(ctx, "h", "cost", 1.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, f, 0.0001)

	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "1", all["a"])

	require.NoError(t, s.HDel(ctx, "h", "a"))
	_, ok, err = s.HGet(ctx, "h", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_SetAndZSetOps(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	require.NoError(t, s.SAdd(ctx, "tags", "a", "b", "c"))
	members, err := s.SMembers(ctx, "tags")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	require.NoError(t, s.ZAdd(ctx, "z", 1, "one"))
	require.NoError(t, s.ZAdd(ctx, "z", 2, "two"))
	require.NoError(t, s.ZAdd(ctx, "z", 3, "three"))

	card, err := s.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(3), card)

	inRange, err := s.ZRangeByScore(ctx, "z", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, inRange)

	require.NoError(t, s.ZRemRangeByScore(ctx, "z", 1, 1))
	card, err = s.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(2), card)

	require.NoError(t, s.ZRem(ctx, "z", "two"))
	card, err = s.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(1), card)
}

func TestRedisStore_ListOps(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	require.NoError(t, s.LPush(ctx, "l", "a"))
	require.NoError(t, s.LPush(ctx, "l", "b"))
	vals, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, vals)

	require.NoError(t, s.LTrim(ctx, "l", 0, 0))
	vals, err = s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, vals)
}

func TestRedisStore_Pipeline(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	err := s.Pipeline(ctx, func(p domain.Pipeline) error {
		p.HIncrBy("h", "count", 3)
		p.Expire("h", time.Minute)
		p.ZAdd("z", 9, "nine")
		return nil
	})
	require.NoError(t, err)

	v, ok, err := s.HGet(ctx, "h", "count")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	card, err := s.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(1), card)
}

func TestRedisStore_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	ch, closeFn, err := s.Subscribe(ctx, "chan")
	require.NoError(t, err)
	defer closeFn()

	time.Sleep(20 * time.Millisecond) // let the subscription register
	require.NoError(t, s.Publish(ctx, "chan", "hello"))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestRedisStore_Keys(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	require.NoError(t, s.Set(ctx, "cache:a", "1", 0))
	require.NoError(t, s.Set(ctx, "cache:b", "2", 0))
	require.NoError(t, s.Set(ctx, "other:c", "3", 0))

	keys, err := s.Keys(ctx, "cache:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cache:a", "cache:b"}, keys)
}

package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiorchestrator/orchestrator/internal/domain"
)

func TestMemory_StringAndHashOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	n, err := m.HIncrBy(ctx, "h", "count", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = m.HIncrBy(ctx, "h", "count", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestMemory_TTLOnRead(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired key must not be returned")
}

func TestMemory_ZSetRange(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.ZAdd(ctx, "z", 1, "one"))
	require.NoError(t, m.ZAdd(ctx, "z", 2, "two"))
	require.NoError(t, m.ZAdd(ctx, "z", 3, "three"))

	out, err := m.ZRangeByScore(ctx, "z", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, out)

	require.NoError(t, m.ZRemRangeByScore(ctx, "z", 1, 1))
	card, err := m.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(2), card)
}

func TestMemory_ListOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.LPush(ctx, "l", "a"))
	require.NoError(t, m.LPush(ctx, "l", "b"))
	out, err := m.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, out)

	require.NoError(t, m.LTrim(ctx, "l", 0, 0))
	out, err = m.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, out)
}

func TestMemory_PipelineAppliesAllOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.Pipeline(ctx, func(p domain.Pipeline) error {
		p.HIncrBy("h", "f", 4)
		p.ZAdd("z", 1, "x")
		return nil
	})
	require.NoError(t, err)

	v, ok, err := m.HGet(ctx, "h", "f")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "4", v)
}

func TestMemory_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ch, closeFn, err := m.Subscribe(ctx, "topic")
	require.NoError(t, err)
	defer closeFn()

	require.NoError(t, m.Publish(ctx, "topic", "hi"))

	select {
	case msg := <-ch:
		assert.Equal(t, "hi", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestMemory_Keys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "cache:a", "1", 0))
	require.NoError(t, m.Set(ctx, "cache:b", "2", 0))
	require.NoError(t, m.Set(ctx, "other:c", "3", 0))

	keys, err := m.Keys(ctx, "cache:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cache:a", "cache:b"}, keys)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiorchestrator/orchestrator/internal/clock"
	"github.com/aiorchestrator/orchestrator/internal/kv"
)

func TestCache_SetAndGetRoundTrips(t *testing.T) {
	store := kv.NewMemory()
	clk := clock.NewFake(time.Now())
	c := New(store, clk, "instance-a")

	key := Key("Hello world", "gpt-4")
	require.NoError(t, c.Set(context.Background(), key, "Hello world", "gpt-4", "response", time.Hour))

	val, ok, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "response", val)
}

func TestCache_KeyNormalizesPromptCaseAndWhitespace(t *testing.T) {
	a := Key("  Hello World  ", "gpt-4")
	b := Key("hello world", "gpt-4")
	assert.Equal(t, a, b)
}

func TestCache_L2PromotesIntoL1(t *testing.T) {
	store := kv.NewMemory()
	clk := clock.NewFake(time.Now())
	c := New(store, clk, "instance-a")

	key := Key("prompt", "gpt-4")
	require.NoError(t, store.Set(context.Background(), l2Key(key), "from-l2", time.Hour))

	val, ok, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-l2", val)

	// second read should now be an L1 hit even if L2 is wiped
	require.NoError(t, store.Del(context.Background(), l2Key(key)))
	val, ok, err = c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-l2", val)
}

func TestCache_TTLExpiryOnRead(t *testing.T) {
	store := kv.NewMemory()
	clk := clock.NewFake(time.Now())
	c := New(store, clk, "instance-a")

	key := Key("prompt", "gpt-4")
	require.NoError(t, c.Set(context.Background(), key, "prompt", "gpt-4", "response", time.Millisecond))

	// L1 expiry follows the injected clock; the L2 copy expires on the KV
	// store's own wall clock, so both have to pass the TTL.
	clk.Advance(2 * time.Second)
	time.Sleep(5 * time.Millisecond)
	_, ok, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	store := kv.NewMemory()
	clk := clock.NewFake(time.Now())
	c := New(store, clk, "instance-a")

	key := Key("prompt", "gpt-4")
	require.NoError(t, c.Set(context.Background(), key, "prompt", "gpt-4", "response", time.Hour))
	require.NoError(t, c.Invalidate(context.Background(), key))

	_, ok, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_InvalidateByTag(t *testing.T) {
	store := kv.NewMemory()
	clk := clock.NewFake(time.Now())
	c := New(store, clk, "instance-a")

	k1 := Key("prompt-1", "gpt-4")
	k2 := Key("prompt-2", "gpt-4")
	require.NoError(t, c.Set(context.Background(), k1, "prompt-1", "gpt-4", "r1", time.Hour, "customer-42"))
	require.NoError(t, c.Set(context.Background(), k2, "prompt-2", "gpt-4", "r2", time.Hour, "customer-42"))

	require.NoError(t, c.InvalidateByTag(context.Background(), "customer-42"))

	_, ok, _ := c.Get(context.Background(), k1)
	assert.False(t, ok)
	_, ok, _ = c.Get(context.Background(), k2)
	assert.False(t, ok)
}

func TestCache_InvalidateByPattern(t *testing.T) {
	store := kv.NewMemory()
	clk := clock.NewFake(time.Now())
	c := New(store, clk, "instance-a")

	k1 := Key("foo", "gpt-4")
	require.NoError(t, c.Set(context.Background(), k1, "foo", "gpt-4", "r1", time.Hour))

	require.NoError(t, c.InvalidateByPattern(context.Background(), k1[:8]))

	_, ok, _ := c.Get(context.Background(), k1)
	assert.False(t, ok)
}

func TestCache_ClearAll(t *testing.T) {
	store := kv.NewMemory()
	clk := clock.NewFake(time.Now())
	c := New(store, clk, "instance-a")

	k1 := Key("a", "gpt-4")
	k2 := Key("b", "gpt-4")
	require.NoError(t, c.Set(context.Background(), k1, "a", "gpt-4", "r1", time.Hour))
	require.NoError(t, c.Set(context.Background(), k2, "b", "gpt-4", "r2", time.Hour))

	require.NoError(t, c.ClearAll(context.Background()))

	_, ok, _ := c.Get(context.Background(), k1)
	assert.False(t, ok)
	_, ok, _ = c.Get(context.Background(), k2)
	assert.False(t, ok)
}

func TestCache_CrossInstanceInvalidationDropsPeerL1Copy(t *testing.T) {
	store := kv.NewMemory()
	clk := clock.NewFake(time.Now())
	c1 := New(store, clk, "instance-a")
	c2 := New(store, clk, "instance-b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c1.Subscribe(ctx))
	require.NoError(t, c2.Subscribe(ctx))

	key := Key("prompt", "gpt-4")
	require.NoError(t, c1.Set(context.Background(), key, "prompt", "gpt-4", "response", time.Hour))
	require.NoError(t, c2.Set(context.Background(), key, "prompt", "gpt-4", "response", time.Hour))

	require.NoError(t, c1.Invalidate(context.Background(), key))
	time.Sleep(20 * time.Millisecond)

	// c2's L1 copy must be dropped by the cross-instance message.
	c2.mu.Lock()
	_, stillThere := c2.l1.Get(key)
	c2.mu.Unlock()
	assert.False(t, stillThere)
}

func TestCache_InvalidateDependentsDropsDirectDependent(t *testing.T) {
	store := kv.NewMemory()
	clk := clock.NewFake(time.Now())
	c := New(store, clk, "instance-a")
	ctx := context.Background()

	k1 := Key("root", "gpt-4")
	k2 := Key("dependent", "gpt-4")
	require.NoError(t, c.Set(ctx, k1, "root", "gpt-4", "r1", time.Hour))
	require.NoError(t, c.Set(ctx, k2, "dependent", "gpt-4", "r2", time.Hour))

	require.NoError(t, c.AddInvalidationRule(ctx, "rule-1", invalidationRule{
		Pattern:      k2,
		Dependencies: []string{k1},
	}))

	require.NoError(t, c.InvalidateDependents(ctx, k1))

	_, ok, _ := c.Get(ctx, k2)
	assert.False(t, ok)
}

func TestCache_ScheduledInvalidationRunsWhenDue(t *testing.T) {
	store := kv.NewMemory()
	clk := clock.NewFake(time.Now())
	c := New(store, clk, "instance-a")
	ctx := context.Background()

	key := Key("prompt", "gpt-4")
	require.NoError(t, c.Set(ctx, key, "prompt", "gpt-4", "response", time.Hour))
	require.NoError(t, c.ScheduleInvalidation(ctx, key, "ttl-policy", clk.Now().Add(30*time.Second)))

	require.NoError(t, c.RunScheduledInvalidations(ctx))
	_, ok, _ := c.Get(ctx, key)
	assert.True(t, ok, "not due yet")

	clk.Advance(31 * time.Second)
	require.NoError(t, c.RunScheduledInvalidations(ctx))
	_, ok, _ = c.Get(ctx, key)
	assert.False(t, ok, "due entry should have been invalidated")
}

package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BucketConfig is one provider-facing token bucket's capacity and refill
// rate, independent of the minute/hour/burst windows in window.go. The
// bucket is sized from a provider's own published rate limits; the provider
// adapters in this repository do not call it themselves.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64 // tokens per second
}

// NewBucketConfigFromPerMinute derives a BucketConfig from a per-minute
// request budget.
func NewBucketConfigFromPerMinute(perMinute int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{
		Capacity:   int64(perMinute),
		RefillRate: float64(perMinute) / 60.0,
	}
}

// luaTokenBucketScript atomically refills and debits a Redis-hash-backed
// token bucket in one round trip.
const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end
if last_refill == nil then
  last_refill = now
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)
last_refill = now

local allowed = 0
local retry_after = 0

if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  local shortage = cost - tokens
  if refill_rate > 0 then
    retry_after = math.ceil(shortage / refill_rate)
  else
    retry_after = 0
  end
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)

return { allowed, tokens, last_refill, retry_after }
`

// TokenBucket is a Lua-scripted, Redis-backed token bucket limiter keyed
// per provider (or any other logical key a caller chooses).
type TokenBucket struct {
	redis   *redis.Client
	buckets map[string]BucketConfig
	script  *redis.Script
	mu      sync.RWMutex
}

// NewTokenBucket constructs a TokenBucket over an existing Redis client.
func NewTokenBucket(rdb *redis.Client, buckets map[string]BucketConfig) *TokenBucket {
	if buckets == nil {
		buckets = map[string]BucketConfig{}
	}
	return &TokenBucket{
		redis:   rdb,
		buckets: buckets,
		script:  redis.NewScript(luaTokenBucketScript),
	}
}

// SetBucketConfig updates or creates the bucket configuration for key,
// letting a provider adapter retune capacity/refill from response
// rate-limit headers at runtime.
func (t *TokenBucket) SetBucketConfig(key string, cfg BucketConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets[key] = cfg
}

// Allow reports whether cost tokens may be spent against key right now. A
// missing or zero-value bucket config means "no limit configured" and
// always allows. Redis errors fail open so a limiter outage never blocks
// traffic by itself.
func (t *TokenBucket) Allow(ctx context.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error) {
	if t == nil || t.redis == nil {
		return true, 0, nil
	}
	t.mu.RLock()
	cfg, ok := t.buckets[key]
	t.mu.RUnlock()
	if !ok || cfg.Capacity <= 0 || cfg.RefillRate <= 0 {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}

	now := time.Now()
	nowSec := float64(now.UnixNano()) / 1e9
	redisKey := "ratelimit:bucket:" + key

	res, err := t.script.Run(ctx, t.redis, []string{redisKey}, cfg.Capacity, cfg.RefillRate, nowSec, cost).Result()
	if err != nil {
		slog.Error("token bucket script error", "key", key, "error", err)
		return true, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 4 {
		slog.Error("token bucket unexpected script result", "key", key, "result", res)
		return true, 0, nil
	}

	allowedN := toInt64(vals[0])
	retryAfterSec := toFloat64(vals[3])
	return allowedN == 1, time.Duration(retryAfterSec * float64(time.Second)), nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return math.NaN()
	}
}

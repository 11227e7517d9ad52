// Package kv implements the Redis-shaped domain.KeyValueStore contract
// (C1): a production adapter over go-redis, and an in-memory fake for
// fast unit tests.
package kv

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aiorchestrator/orchestrator/internal/domain"
)

// RedisStore wraps a *redis.Client with exactly the operation set the
// orchestrator needs — nothing Redis-specific leaks past this file.
type RedisStore struct {
	cli *redis.Client
}

// NewRedisStore constructs a RedisStore over an existing client.
func NewRedisStore(cli *redis.Client) *RedisStore {
	return &RedisStore{cli: cli}
}

var _ domain.KeyValueStore = (*RedisStore)(nil)

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.cli.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return s.cli.Set(ctx, key, val, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.cli.Del(ctx, keys...).Err()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.cli.Incr(ctx, key).Result()
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.cli.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) HSet(ctx context.Context, key, field, val string) error {
	return s.cli.HSet(ctx, key, field, val).Err()
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.cli.HGetAll(ctx, key).Result()
}

func (s *RedisStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return s.cli.HIncrBy(ctx, key, field, delta).Result()
}

func (s *RedisStore) HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error) {
	return s.cli.HIncrByFloat(ctx, key, field, delta).Result()
}

func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.cli.HDel(ctx, key, fields...).Err()
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.cli.SAdd(ctx, key, args...).Err()
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.cli.SMembers(ctx, key).Result()
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.cli.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *RedisStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return s.cli.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
}

func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.cli.ZRem(ctx, key, args...).Err()
}

func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return s.cli.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err()
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	return s.cli.ZCard(ctx, key).Result()
}

func (s *RedisStore) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.cli.LPush(ctx, key, args...).Err()
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.cli.LRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.cli.LTrim(ctx, key, start, stop).Err()
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.cli.Keys(ctx, pattern).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.cli.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) Pipeline(ctx context.Context, fn func(domain.Pipeline) error) error {
	pipe := s.cli.Pipeline()
	p := &redisPipeline{pipe: pipe}
	if err := fn(p); err != nil {
		return err
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	return s.cli.Publish(ctx, channel, message).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error) {
	sub := s.cli.Subscribe(ctx, channel)
	ch := make(chan string, 64)
	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			ch <- msg.Payload
		}
	}()
	return ch, sub.Close, nil
}

type redisPipeline struct {
	pipe redis.Pipeliner
}

func (p *redisPipeline) HIncrBy(key, field string, delta int64) {
	p.pipe.HIncrBy(context.Background(), key, field, delta)
}

func (p *redisPipeline) HIncrByFloat(key, field string, delta float64) {
	p.pipe.HIncrByFloat(context.Background(), key, field, delta)
}

func (p *redisPipeline) Expire(key string, ttl time.Duration) {
	p.pipe.Expire(context.Background(), key, ttl)
}

func (p *redisPipeline) ZAdd(key string, score float64, member string) {
	p.pipe.ZAdd(context.Background(), key, redis.Z{Score: score, Member: member})
}

func (p *redisPipeline) ZRemRangeByScore(key string, min, max float64) {
	p.pipe.ZRemRangeByScore(context.Background(), key, formatScore(min), formatScore(max))
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

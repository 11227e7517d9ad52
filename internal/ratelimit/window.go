// Package ratelimit enforces the per-user minute/hour/burst rate limits
// (C8) using the same bucketed-hash approach as quota, plus a sorted-set
// burst window, and adapts the teacher's Lua token-bucket limiter as an
// alternate, provider-facing strategy.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aiorchestrator/orchestrator/internal/clock"
	"github.com/aiorchestrator/orchestrator/internal/domain"
	"github.com/aiorchestrator/orchestrator/internal/observability"
)

const (
	minuteTTL = time.Hour
	hourTTL   = 24 * time.Hour
	burstTTL  = 60 * time.Second

	fieldRequests = "requests"
	fieldTokens   = "tokens"
	fieldCost     = "cost"
)

// Config tunes the window limiter for one caller.
type Config struct {
	MinuteLimit     int64
	HourLimit       int64
	BurstLimit      int64
	BurstWindowMs   int64
}

// Violation describes one dimension that failed its check.
type Violation struct {
	Dimension string // "minute", "hour", or "burst"
	Limit     int64
	Usage     int64
}

// Result is the aggregate outcome of Check.
type Result struct {
	CanMakeRequest bool
	Violations     []Violation
}

// Window enforces per-user minute and hour limits over fixed clock buckets
// and a burst limit over a sliding window.
type Window struct {
	kv    domain.KeyValueStore
	clock domain.Clock
	sink  domain.EventSink
}

// NewWindow constructs a Window limiter.
func NewWindow(kv domain.KeyValueStore, clk domain.Clock, sink domain.EventSink) *Window {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Window{kv: kv, clock: clk, sink: sink}
}

func minuteKey(userID string, now time.Time) string {
	return fmt.Sprintf("ai:ratelimit:%s:minute:%s", userID, clock.MinuteBucket(now))
}

func hourKey(userID string, now time.Time) string {
	return fmt.Sprintf("ai:ratelimit:%s:hour:%s", userID, clock.HourBucket(now))
}

func burstKey(userID string) string {
	return fmt.Sprintf("ai:ratelimit:burst:%s", userID)
}

// Check computes minute/hour/burst usage and aggregates every violation
// before returning, rather than failing fast on the first dimension.
func (w *Window) Check(ctx context.Context, userID string, tokens int64, cost float64, cfg Config) (Result, error) {
	now := w.clock.Now()

	minute, err := w.kv.HGetAll(ctx, minuteKey(userID, now))
	if err != nil {
		return Result{}, err
	}
	hour, err := w.kv.HGetAll(ctx, hourKey(userID, now))
	if err != nil {
		return Result{}, err
	}

	burstWindowMs := cfg.BurstWindowMs
	if burstWindowMs <= 0 {
		burstWindowMs = 60_000
	}
	nowMs := float64(now.UnixMilli())
	burstMembers, err := w.kv.ZRangeByScore(ctx, burstKey(userID), nowMs-float64(burstWindowMs), nowMs)
	if err != nil {
		return Result{}, err
	}

	var violations []Violation
	if cfg.MinuteLimit > 0 {
		if usage := parseInt64(minute[fieldRequests]); usage >= cfg.MinuteLimit {
			violations = append(violations, Violation{Dimension: "minute", Limit: cfg.MinuteLimit, Usage: usage})
		}
	}
	if cfg.HourLimit > 0 {
		if usage := parseInt64(hour[fieldRequests]); usage >= cfg.HourLimit {
			violations = append(violations, Violation{Dimension: "hour", Limit: cfg.HourLimit, Usage: usage})
		}
	}
	if cfg.BurstLimit > 0 {
		if usage := int64(len(burstMembers)); usage >= cfg.BurstLimit {
			violations = append(violations, Violation{Dimension: "burst", Limit: cfg.BurstLimit, Usage: usage})
		}
	}

	for _, v := range violations {
		observability.RateLimitDeniedTotal.WithLabelValues(v.Dimension).Inc()
		if w.sink != nil {
			w.sink.Emit(ctx, domain.EventRateLimitExceeded, map[string]any{
				"userId":    userID,
				"dimension": v.Dimension,
				"limit":     v.Limit,
				"usage":     v.Usage,
				"at":        now,
			})
		}
	}

	return Result{CanMakeRequest: len(violations) == 0, Violations: violations}, nil
}

// RecordRequest pipelines minute/hour increments and records one burst-set
// membership, trimming expired burst entries in the same pipeline.
func (w *Window) RecordRequest(ctx context.Context, userID string, tokens int64, cost float64) error {
	now := w.clock.Now()
	mKey := minuteKey(userID, now)
	hKey := hourKey(userID, now)
	bKey := burstKey(userID)
	nowMs := float64(now.UnixMilli())
	member := fmt.Sprintf("%s:%d", userID, now.UnixNano())

	err := w.kv.Pipeline(ctx, func(p domain.Pipeline) error {
		p.HIncrBy(mKey, fieldRequests, 1)
		p.HIncrBy(mKey, fieldTokens, tokens)
		p.HIncrByFloat(mKey, fieldCost, cost)
		p.Expire(mKey, minuteTTL)

		p.HIncrBy(hKey, fieldRequests, 1)
		p.HIncrBy(hKey, fieldTokens, tokens)
		p.HIncrByFloat(hKey, fieldCost, cost)
		p.Expire(hKey, hourTTL)

		p.ZAdd(bKey, nowMs, member)
		p.ZRemRangeByScore(bKey, 0, nowMs-60_000)
		p.Expire(bKey, burstTTL)
		return nil
	})
	return err
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

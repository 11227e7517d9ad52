// Package quota enforces and records per-user monthly/daily/session usage
// counters (C7) against configurable limits, backed by the KeyValueStore
// hash layout at ai:quota:{userId}:{period}:{bucket}.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aiorchestrator/orchestrator/internal/clock"
	"github.com/aiorchestrator/orchestrator/internal/domain"
	"github.com/aiorchestrator/orchestrator/internal/observability"
)

const (
	monthTTL   = 35 * 24 * time.Hour
	dayTTL     = 2 * 24 * time.Hour
	sessionTTL = 24 * time.Hour

	fieldRequests = "requests"
	fieldTokens   = "tokens"
	fieldCost     = "cost"
)

// Limits is the set of per-period thresholds a caller enforces against.
// A zero limit for a dimension means "no limit" for that dimension.
type Limits struct {
	MonthlyRequests int64
	MonthlyTokens   int64
	MonthlyCost     float64

	DailyRequests int64
	DailyTokens   int64
	DailyCost     float64

	SessionRequests int64
	SessionTokens   int64
	SessionCost     float64
}

// Counters is a snapshot of one bucket's usage.
type Counters struct {
	Requests int64
	Tokens   int64
	Cost     float64
}

// Snapshot is the full usage view returned by Enforce.
type Snapshot struct {
	Monthly Counters
	Daily   Counters
	Session *Counters // nil when no session ID was supplied
}

// Service enforces and records quota usage.
type Service struct {
	kv     domain.KeyValueStore
	clock  domain.Clock
	sink   domain.EventSink
	pgPool *pgxpool.Pool // optional durability mirror, see postgres.go
}

// NewService constructs a quota Service.
func NewService(kv domain.KeyValueStore, clk domain.Clock, sink domain.EventSink) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{kv: kv, clock: clk, sink: sink}
}

func monthKey(userID, month string) string     { return fmt.Sprintf("ai:quota:%s:month:%s", userID, month) }
func dayKey(userID, day string) string         { return fmt.Sprintf("ai:quota:%s:day:%s", userID, day) }
func sessionKey(sessionID string) string       { return fmt.Sprintf("ai:quota:session:%s", sessionID) }

func readCounters(ctx context.Context, kv domain.KeyValueStore, key string) (Counters, error) {
	h, err := kv.HGetAll(ctx, key)
	if err != nil {
		return Counters{}, err
	}
	return Counters{
		Requests: parseInt(h[fieldRequests]),
		Tokens:   parseInt(h[fieldTokens]),
		Cost:     parseFloat(h[fieldCost]),
	}, nil
}

// Enforce loads monthly, daily, and (if sessionID is non-empty) session
// counters for userID and checks each against limits. The first violation
// found emits quota.exceeded and returns ErrQuotaExceeded; on success it
// returns the current usage snapshot.
func (s *Service) Enforce(ctx context.Context, userID, sessionID string, limits Limits) (Snapshot, error) {
	buckets := clock.DeriveBuckets(s.clock.Now())

	monthly, err := readCounters(ctx, s.kv, monthKey(userID, buckets.Month))
	if err != nil {
		return Snapshot{}, err
	}
	daily, err := readCounters(ctx, s.kv, dayKey(userID, buckets.Day))
	if err != nil {
		return Snapshot{}, err
	}

	var session *Counters
	if sessionID != "" {
		c, err := readCounters(ctx, s.kv, sessionKey(sessionID))
		if err != nil {
			return Snapshot{}, err
		}
		session = &c
	}

	type check struct {
		period string
		field  string
		usage  float64
		limit  float64
	}
	checks := []check{
		{"monthly", fieldRequests, float64(monthly.Requests), float64(limits.MonthlyRequests)},
		{"monthly", fieldTokens, float64(monthly.Tokens), float64(limits.MonthlyTokens)},
		{"monthly", fieldCost, monthly.Cost, limits.MonthlyCost},
		{"daily", fieldRequests, float64(daily.Requests), float64(limits.DailyRequests)},
		{"daily", fieldTokens, float64(daily.Tokens), float64(limits.DailyTokens)},
		{"daily", fieldCost, daily.Cost, limits.DailyCost},
	}
	if session != nil {
		checks = append(checks,
			check{"session", fieldRequests, float64(session.Requests), float64(limits.SessionRequests)},
			check{"session", fieldTokens, float64(session.Tokens), float64(limits.SessionTokens)},
			check{"session", fieldCost, session.Cost, limits.SessionCost},
		)
	}

	for _, c := range checks {
		if c.limit <= 0 {
			continue // zero/unset limit means unlimited for this dimension
		}
		if c.usage >= c.limit {
			observability.QuotaDeniedTotal.WithLabelValues(c.period, c.field).Inc()
			if s.sink != nil {
				s.sink.Emit(ctx, domain.EventQuotaExceeded, map[string]any{
					"userId":    userID,
					"sessionId": sessionID,
					"quotaType": c.field,
					"limit":     c.limit,
					"usage":     c.usage,
					"period":    c.period,
					"at":        s.clock.Now(),
				})
			}
			return Snapshot{Monthly: monthly, Daily: daily, Session: session}, domain.ErrQuotaExceeded
		}
	}

	return Snapshot{Monthly: monthly, Daily: daily, Session: session}, nil
}

// Record pipelines a usage increment onto the month, day, and (if present)
// session buckets. The first write to a bucket establishes its TTL.
func (s *Service) Record(ctx context.Context, userID, sessionID string, tokens int64, cost float64) error {
	buckets := clock.DeriveBuckets(s.clock.Now())
	mKey := monthKey(userID, buckets.Month)
	dKey := dayKey(userID, buckets.Day)

	err := s.kv.Pipeline(ctx, func(p domain.Pipeline) error {
		p.HIncrBy(mKey, fieldRequests, 1)
		p.HIncrBy(mKey, fieldTokens, tokens)
		p.HIncrByFloat(mKey, fieldCost, cost)
		p.Expire(mKey, monthTTL)

		p.HIncrBy(dKey, fieldRequests, 1)
		p.HIncrBy(dKey, fieldTokens, tokens)
		p.HIncrByFloat(dKey, fieldCost, cost)
		p.Expire(dKey, dayTTL)

		if sessionID != "" {
			sKey := sessionKey(sessionID)
			p.HIncrBy(sKey, fieldRequests, 1)
			p.HIncrBy(sKey, fieldTokens, tokens)
			p.HIncrByFloat(sKey, fieldCost, cost)
			p.Expire(sKey, sessionTTL)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.pgPool != nil {
		monthly, readErr := readCounters(ctx, s.kv, mKey)
		if readErr == nil {
			s.mirrorToPostgres(ctx, userID, buckets.Month, monthly)
		}
	}
	return nil
}

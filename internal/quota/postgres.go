package quota

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WithPostgresMirror attaches an optional fire-and-forget durability mirror:
// each Record call also upserts the month bucket's snapshot into a
// quota_counters table. Redis remains the only read path — the mirror
// exists purely so usage survives a full cache flush, following the same
// pattern the teacher's rate limiter uses to mirror token buckets.
func (s *Service) WithPostgresMirror(pool *pgxpool.Pool) *Service {
	s.pgPool = pool
	return s
}

func (s *Service) mirrorToPostgres(ctx context.Context, userID, month string, monthly Counters) {
	if s.pgPool == nil {
		return
	}
	_, err := s.pgPool.Exec(ctx,
		`INSERT INTO quota_counters (user_id, month, requests, tokens, cost)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, month) DO UPDATE SET
		   requests = EXCLUDED.requests,
		   tokens = EXCLUDED.tokens,
		   cost = EXCLUDED.cost`,
		userID, month, monthly.Requests, monthly.Tokens, monthly.Cost,
	)
	if err != nil {
		slog.Error("failed to mirror quota counters to postgres", "user_id", userID, "error", err)
	}
}

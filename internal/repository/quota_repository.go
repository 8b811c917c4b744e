package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type quotaRepository struct {
	pool *pgxpool.Pool
}

// NewQuotaRepository wires the shared daily counter.
func NewQuotaRepository(pool *pgxpool.Pool) QuotaRepository {
	return &quotaRepository{pool: pool}
}

// Reserve increments the counter of window unless it already reached limit.
// The check and the increment happen in one statement.
func (r *quotaRepository) Reserve(ctx context.Context, window time.Time, limit int) (int, bool, error) {
	var used int
	err := r.pool.QueryRow(ctx,
		`INSERT INTO rate_limit_usage (window_end, used)
		 VALUES ($1, 1)
		 ON CONFLICT (window_end) DO UPDATE
		 SET used = rate_limit_usage.used + 1, updated_at = NOW()
		 WHERE rate_limit_usage.used < $2
		 RETURNING used`,
		window, limit,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		used, err = r.Used(ctx, window)
		return used, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to reserve request: %w", err)
	}
	return used, true, nil
}

func (r *quotaRepository) Release(ctx context.Context, window time.Time) (int, error) {
	var used int
	err := r.pool.QueryRow(ctx,
		`UPDATE rate_limit_usage
		 SET used = used - 1, updated_at = NOW()
		 WHERE window_end = $1 AND used > 0
		 RETURNING used`,
		window,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.Used(ctx, window)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to release request: %w", err)
	}
	return used, nil
}

func (r *quotaRepository) Used(ctx context.Context, window time.Time) (int, error) {
	var used int
	err := r.pool.QueryRow(ctx,
		`SELECT used FROM rate_limit_usage WHERE window_end = $1`,
		window,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load request usage: %w", err)
	}
	return used, nil
}

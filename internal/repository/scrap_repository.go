package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/apietl/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrScrapNotFound is returned when a job id is unknown.
	ErrScrapNotFound = errors.New("scrap not found")
	// ErrScrapStatusConflict indicates that a job cannot transition to the requested state.
	ErrScrapStatusConflict = errors.New("scrap status conflict")
)

type scrapRepository struct {
	pool *pgxpool.Pool
}

// NewScrapRepository wires a repository for managing extraction jobs.
func NewScrapRepository(pool *pgxpool.Pool) ScrapRepository {
	return &scrapRepository{pool: pool}
}

const scrapColumns = `id, tenant_id, route_id, start_date, end_date, status, records_collected,
	pages_fetched, page_failures, error_message, enqueued_at, started_at, completed_at, updated_at`

func (r *scrapRepository) Create(ctx context.Context, scrap domain.Scrap) (domain.Scrap, error) {
	if scrap.ID == uuid.Nil {
		scrap.ID = uuid.New()
	}
	if scrap.Status == "" {
		scrap.Status = domain.ScrapStatusPending
	}

	created, err := scanScrap(r.pool.QueryRow(ctx,
		`INSERT INTO scraps (id, tenant_id, route_id, start_date, end_date, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+scrapColumns,
		scrap.ID, scrap.TenantID, scrap.RouteID, scrap.StartDate, scrap.EndDate, string(scrap.Status),
	))
	if err != nil {
		return domain.Scrap{}, fmt.Errorf("create scrap: %w", err)
	}
	return created, nil
}

func (r *scrapRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Scrap, error) {
	scrap, err := scanScrap(r.pool.QueryRow(ctx, `SELECT `+scrapColumns+` FROM scraps WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Scrap{}, ErrScrapNotFound
	}
	if err != nil {
		return domain.Scrap{}, fmt.Errorf("get scrap: %w", err)
	}
	return scrap, nil
}

func (r *scrapRepository) List(ctx context.Context, filter ScrapFilter, limit int, offset int) ([]domain.Scrap, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var (
		conditions []string
		args       []any
	)
	if filter.TenantID != nil {
		args = append(args, *filter.TenantID)
		conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			statuses[i] = string(status)
		}
		args = append(args, statuses)
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := `SELECT ` + scrapColumns + ` FROM scraps`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY enqueued_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scraps: %w", err)
	}
	defer rows.Close()

	scraps := []domain.Scrap{}
	for rows.Next() {
		scrap, scanErr := scanScrap(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan scrap: %w", scanErr)
		}
		scraps = append(scraps, scrap)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate scraps: %w", rowsErr)
	}
	return scraps, nil
}

func (r *scrapRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE scraps
		 SET status = 'running', started_at = NOW(), updated_at = NOW(), error_message = NULL
		 WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark scrap running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScrapStatusConflict
	}
	return nil
}

func (r *scrapRepository) UpdateProgress(ctx context.Context, id uuid.UUID, recordsCollected int, pagesFetched int) error {
	if recordsCollected < 0 {
		recordsCollected = 0
	}
	if pagesFetched < 0 {
		pagesFetched = 0
	}
	if _, err := r.pool.Exec(ctx,
		`UPDATE scraps
		 SET records_collected = $2, pages_fetched = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`,
		id, recordsCollected, pagesFetched,
	); err != nil {
		return fmt.Errorf("update scrap progress: %w", err)
	}
	return nil
}

func (r *scrapRepository) MarkCompleted(ctx context.Context, id uuid.UUID, result domain.ScrapResult) error {
	return r.finish(ctx, id, domain.ScrapStatusCompleted, nil, result, "running")
}

func (r *scrapRepository) MarkCanceled(ctx context.Context, id uuid.UUID, result domain.ScrapResult) error {
	return r.finish(ctx, id, domain.ScrapStatusCanceled, nil, result, "pending", "running")
}

func (r *scrapRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string, result domain.ScrapResult) error {
	return r.finish(ctx, id, domain.ScrapStatusFailed, &message, result, "pending", "running")
}

func (r *scrapRepository) finish(ctx context.Context, id uuid.UUID, status domain.ScrapStatus, message *string, result domain.ScrapResult, from ...string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE scraps
		 SET status = $2,
		     error_message = $3,
		     records_collected = $4,
		     pages_fetched = $5,
		     page_failures = $6,
		     completed_at = NOW(),
		     updated_at = NOW()
		 WHERE id = $1 AND status = ANY($7)`,
		id, string(status), message, result.RecordsCollected, result.PagesFetched, result.PageFailures, from,
	)
	if err != nil {
		return fmt.Errorf("mark scrap %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScrapStatusConflict
	}
	return nil
}

func scanScrap(row pgx.Row) (domain.Scrap, error) {
	var (
		scrap       domain.Scrap
		status      string
		message     pgtype.Text
		startedAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&scrap.ID,
		&scrap.TenantID,
		&scrap.RouteID,
		&scrap.StartDate,
		&scrap.EndDate,
		&status,
		&scrap.RecordsCollected,
		&scrap.PagesFetched,
		&scrap.PageFailures,
		&message,
		&scrap.EnqueuedAt,
		&startedAt,
		&completedAt,
		&scrap.UpdatedAt,
	); err != nil {
		return domain.Scrap{}, err
	}

	scrap.Status = domain.ScrapStatus(status)
	if message.Valid {
		value := message.String
		scrap.ErrorMessage = &value
	}
	if startedAt.Valid {
		value := startedAt.Time
		scrap.StartedAt = &value
	}
	if completedAt.Valid {
		value := completedAt.Time
		scrap.CompletedAt = &value
	}
	return scrap, nil
}

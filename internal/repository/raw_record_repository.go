package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/apietl/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rawRecordRepository struct {
	pool *pgxpool.Pool
}

// NewRawRecordRepository wires a repository over the dynamic raw tables.
func NewRawRecordRepository(pool *pgxpool.Pool) RawRecordRepository {
	return &rawRecordRepository{pool: pool}
}

// InsertBatch writes items in one implicit transaction, ignoring content hash
// collisions, and returns the number of rows actually inserted.
func (r *rawRecordRepository) InsertBatch(ctx context.Context, table string, items []domain.RawItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ident, err := quoteTable(table)
	if err != nil {
		return 0, err
	}

	stmt := `INSERT INTO ` + ident + ` (payload, content_hash) VALUES ($1, $2) ON CONFLICT (content_hash) DO NOTHING`
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(stmt, string(item.Payload), item.ContentHash)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range items {
		tag, execErr := results.Exec()
		if execErr != nil {
			return inserted, fmt.Errorf("failed to insert into %s: %w", table, execErr)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// Stream calls fn for every row of table in id order.
func (r *rawRecordRepository) Stream(ctx context.Context, table string, fn func(domain.RawRecord) error) error {
	ident, err := quoteTable(table)
	if err != nil {
		return err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, collected_at, payload::text, content_hash FROM `+ident+` ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			record  domain.RawRecord
			payload string
			hash    pgtype.Text
		)
		if scanErr := rows.Scan(&record.ID, &record.CollectedAt, &payload, &hash); scanErr != nil {
			return fmt.Errorf("failed to scan %s row: %w", table, scanErr)
		}
		record.Payload = []byte(payload)
		if hash.Valid {
			value := hash.String
			record.ContentHash = &value
		}
		if fnErr := fn(record); fnErr != nil {
			return fnErr
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return fmt.Errorf("failed to iterate %s: %w", table, rowsErr)
	}
	return nil
}

func (r *rawRecordRepository) Count(ctx context.Context, table string) (int64, error) {
	return countRows(ctx, r.pool, table)
}

// ListRawTables returns the raw tables of the current schema.
func (r *rawRecordRepository) ListRawTables(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT table_name
		 FROM information_schema.tables
		 WHERE table_schema = current_schema()
		   AND table_type = 'BASE TABLE'
		   AND table_name LIKE 'raw\_%'
		 ORDER BY table_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw tables: %w", err)
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan raw tables: %w", err)
	}
	return tables, nil
}

func countRows(ctx context.Context, pool *pgxpool.Pool, table string) (int64, error) {
	ident, err := quoteTable(table)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+ident).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

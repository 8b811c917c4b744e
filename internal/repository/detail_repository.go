package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/apietl/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type detailRepository struct {
	pool *pgxpool.Pool
}

// NewDetailRepository wires a repository over the per-tenant detail tables.
func NewDetailRepository(pool *pgxpool.Pool) DetailRepository {
	return &detailRepository{pool: pool}
}

// ListParentIDs returns the distinct record ids to enrich. Bronze tables are read
// from pedido_id; raw tables from the numeric payload id.
func (r *detailRepository) ListParentIDs(ctx context.Context, sourceTable string) ([]int64, error) {
	ident, err := quoteTable(sourceTable)
	if err != nil {
		return nil, err
	}

	var query string
	switch {
	case strings.HasPrefix(sourceTable, "bronze_"):
		query = `SELECT DISTINCT pedido_id FROM ` + ident + ` WHERE pedido_id IS NOT NULL ORDER BY pedido_id`
	case strings.HasPrefix(sourceTable, "raw_"):
		query = `SELECT DISTINCT (payload->>'id')::bigint AS record_id
		 FROM ` + ident + `
		 WHERE payload->>'id' ~ '^[0-9]{1,18}$'
		 ORDER BY record_id`
	default:
		return nil, fmt.Errorf("table %s is neither a bronze nor a raw table", sourceTable)
	}

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list record ids from %s: %w", sourceTable, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan record ids from %s: %w", sourceTable, err)
	}
	return ids, nil
}

func (r *detailRepository) InsertBatch(ctx context.Context, table string, items []domain.DetailItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ident, err := quoteTable(table)
	if err != nil {
		return 0, err
	}

	stmt := `INSERT INTO ` + ident + ` (parent_id, payload, content_hash) VALUES ($1, $2, $3) ON CONFLICT (content_hash) DO NOTHING`
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(stmt, item.ParentID, string(item.Payload), item.ContentHash)
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

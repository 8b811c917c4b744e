package schema

import (
	"context"
	"fmt"

	"github.com/rpattn/apietl/internal/db"

	"github.com/jackc/pgx/v5"
)

// PGCatalog inspects and alters the current Postgres schema.
type PGCatalog struct {
	conn *db.Connection
}

// NewPGCatalog returns a catalog backed by conn.
func NewPGCatalog(conn *db.Connection) *PGCatalog {
	return &PGCatalog{conn: conn}
}

func (c *PGCatalog) TableColumns(ctx context.Context, table string) ([]string, bool, error) {
	var exists bool
	if err := c.conn.Pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists); err != nil {
		return nil, false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	if !exists {
		return nil, false, nil
	}

	rows, err := c.conn.Pool.Query(ctx,
		`SELECT column_name
		 FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = $1
		 ORDER BY ordinal_position`,
		table,
	)
	if err != nil {
		return nil, true, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	columns, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, true, fmt.Errorf("failed to scan columns of %s: %w", table, err)
	}
	return columns, true, nil
}

func (c *PGCatalog) ApplyDDL(ctx context.Context, table string, statements []string) error {
	return c.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, table); err != nil {
			return fmt.Errorf("failed to lock %s: %w", table, err)
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute DDL for %s: %w", table, err)
			}
		}
		return nil
	})
}

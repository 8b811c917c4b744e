package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rpattn/apietl/internal/schema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// quoteTable validates a dynamic table name and quotes it.
func quoteTable(table string) (string, error) {
	if !schema.ValidIdentifier(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return pgx.Identifier{table}.Sanitize(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/apietl/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository wires a repository over the user directory.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

// ResolveBuyer matches an active user by exact document first, then by
// case-insensitive trimmed name. No match yields an empty link.
func (r *userRepository) ResolveBuyer(ctx context.Context, document string, name string) (domain.BuyerLink, error) {
	if document = strings.TrimSpace(document); document != "" {
		link, found, err := r.lookup(ctx,
			`SELECT id, division_id FROM users WHERE document = $1 AND active LIMIT 1`, document)
		if err != nil || found {
			return link, err
		}
	}
	if name = strings.TrimSpace(name); name != "" {
		link, _, err := r.lookup(ctx,
			`SELECT id, division_id FROM users WHERE LOWER(TRIM(name)) = LOWER($1) AND active ORDER BY id LIMIT 1`, name)
		return link, err
	}
	return domain.BuyerLink{}, nil
}

func (r *userRepository) lookup(ctx context.Context, query string, arg string) (domain.BuyerLink, bool, error) {
	var (
		id         int64
		divisionID pgtype.Int8
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(&id, &divisionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BuyerLink{}, false, nil
	}
	if err != nil {
		return domain.BuyerLink{}, false, fmt.Errorf("failed to resolve buyer: %w", err)
	}

	link := domain.BuyerLink{UserID: &id}
	if divisionID.Valid {
		value := divisionID.Int64
		link.DivisionID = &value
	}
	return link, true, nil
}

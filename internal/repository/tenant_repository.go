package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/apietl/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type tenantRepository struct {
	pool *pgxpool.Pool
}

// NewTenantRepository wires a repository backed by pgxpool.
func NewTenantRepository(pool *pgxpool.Pool) TenantRepository {
	return &tenantRepository{pool: pool}
}

func (r *tenantRepository) GetToken(ctx context.Context, tenantID int64) (string, error) {
	var token *string
	err := r.pool.QueryRow(ctx,
		`SELECT api_token FROM tenants WHERE id = $1 AND active`,
		tenantID,
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("tenant %d: %w", tenantID, domain.ErrMissingCredential)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load tenant token: %w", err)
	}
	if token == nil || strings.TrimSpace(*token) == "" {
		return "", fmt.Errorf("tenant %d: %w", tenantID, domain.ErrMissingCredential)
	}
	return *token, nil
}

func (r *tenantRepository) Upsert(ctx context.Context, tenantID int64, name string, token string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, api_token, active)
		 VALUES ($1, $2, $3, TRUE)
		 ON CONFLICT (id) DO UPDATE
		 SET name = COALESCE(NULLIF(EXCLUDED.name, ''), tenants.name),
		     api_token = EXCLUDED.api_token,
		     active = TRUE`,
		tenantID, name, token,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant: %w", err)
	}
	return nil
}

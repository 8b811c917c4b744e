package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rpattn/apietl/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrRouteNotFound is returned when a route id is unknown.
	ErrRouteNotFound = errors.New("route not found")
	// ErrRouteConflict indicates a duplicate route name or raw table.
	ErrRouteConflict = errors.New("route name or raw table already in use")
)

type routeRepository struct {
	pool *pgxpool.Pool
}

// NewRouteRepository wires a repository backed by pgxpool.
func NewRouteRepository(pool *pgxpool.Pool) RouteRepository {
	return &routeRepository{pool: pool}
}

const routeColumns = `id, tenant_id, name, url_template, method, headers, raw_table, active, created_at, updated_at`

func (r *routeRepository) Create(ctx context.Context, route domain.Route) (domain.Route, error) {
	if route.ID == uuid.Nil {
		route.ID = uuid.New()
	}
	if route.Headers == nil {
		route.Headers = map[string]string{}
	}
	headers, err := json.Marshal(route.Headers)
	if err != nil {
		return domain.Route{}, fmt.Errorf("failed to encode route headers: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO api_routes (id, tenant_id, name, url_template, method, headers, raw_table, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+routeColumns,
		route.ID, route.TenantID, route.Name, route.URLTemplate, route.Method, string(headers), route.RawTable, route.Active,
	)
	created, err := scanRoute(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Route{}, ErrRouteConflict
		}
		return domain.Route{}, fmt.Errorf("failed to create route: %w", err)
	}
	return created, nil
}

func (r *routeRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Route, error) {
	route, err := scanRoute(r.pool.QueryRow(ctx, `SELECT `+routeColumns+` FROM api_routes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Route{}, ErrRouteNotFound
	}
	if err != nil {
		return domain.Route{}, fmt.Errorf("failed to get route: %w", err)
	}
	return route, nil
}

func (r *routeRepository) ListByTenant(ctx context.Context, tenantID int64) ([]domain.Route, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+routeColumns+` FROM api_routes WHERE tenant_id = $1 ORDER BY name`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	defer rows.Close()

	routes := []domain.Route{}
	for rows.Next() {
		route, scanErr := scanRoute(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan route: %w", scanErr)
		}
		routes = append(routes, route)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate routes: %w", rowsErr)
	}
	return routes, nil
}

func scanRoute(row pgx.Row) (domain.Route, error) {
	var (
		route   domain.Route
		headers []byte
	)
	if err := row.Scan(
		&route.ID,
		&route.TenantID,
		&route.Name,
		&route.URLTemplate,
		&route.Method,
		&headers,
		&route.RawTable,
		&route.Active,
		&route.CreatedAt,
		&route.UpdatedAt,
	); err != nil {
		return domain.Route{}, err
	}
	route.Headers = map[string]string{}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &route.Headers); err != nil {
			return domain.Route{}, fmt.Errorf("failed to decode route headers: %w", err)
		}
	}
	return route, nil
}

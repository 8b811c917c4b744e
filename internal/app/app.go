// Package app wires configuration, storage and workers into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/apietl/internal/apiclient"
	"github.com/rpattn/apietl/internal/bronze"
	"github.com/rpattn/apietl/internal/config"
	"github.com/rpattn/apietl/internal/db"
	"github.com/rpattn/apietl/internal/domain"
	"github.com/rpattn/apietl/internal/enrich"
	"github.com/rpattn/apietl/internal/extract"
	"github.com/rpattn/apietl/internal/ratelimit"
	"github.com/rpattn/apietl/internal/repository"
	"github.com/rpattn/apietl/internal/schema"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRouteTenantMismatch rejects a route used on behalf of another tenant.
var ErrRouteTenantMismatch = errors.New("route belongs to another tenant")

// App holds the long-lived components of the process.
type App struct {
	Config config.Config
	Logger *zap.Logger
	Conn   *db.Connection

	Tenants repository.TenantRepository
	Routes  repository.RouteRepository
	Scraps  repository.ScrapRepository
	Raw     repository.RawRecordRepository
	Details repository.DetailRepository
	Bronze  repository.BronzeRepository
	Users   repository.UserRepository
	Logs    repository.IngestionLogRepository
	Quotas  repository.QuotaRepository

	Provisioner *schema.Provisioner
	Limiter     *ratelimit.Limiter
	Client      *apiclient.Client

	Extract    *extract.Service
	Enricher   *enrich.Worker
	Normalizer *bronze.Normalizer
}

// New connects to the database and builds every component. The limiter keeps
// its daily counter in the database so every process shares one quota.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := db.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Conn:    conn,
		Tenants: repository.NewTenantRepository(conn.Pool),
		Routes:  repository.NewRouteRepository(conn.Pool),
		Scraps:  repository.NewScrapRepository(conn.Pool),
		Raw:     repository.NewRawRecordRepository(conn.Pool),
		Details: repository.NewDetailRepository(conn.Pool),
		Bronze:  repository.NewBronzeRepository(conn.Pool),
		Users:   repository.NewUserRepository(conn.Pool),
		Logs:    repository.NewIngestionLogRepository(conn.Pool),
		Quotas:  repository.NewQuotaRepository(conn.Pool),
		Client:  apiclient.New(cfg.API),
	}
	a.Limiter = ratelimit.New(cfg.RateLimit, ratelimit.WithStore(a.Quotas))
	if err := a.Limiter.Sync(ctx); err != nil {
		logger.Warn("daily usage not loaded", zap.Error(err))
	}
	a.Provisioner = schema.NewProvisioner(schema.NewPGCatalog(conn), logger)

	worker := extract.NewWorker(cfg.Extract, extract.WorkerDeps{
		Fetcher:     a.Client,
		Scraps:      a.Scraps,
		Routes:      a.Routes,
		Tokens:      a.Tenants,
		Raw:         a.Raw,
		Provisioner: a.Provisioner,
		Failures:    a.Logs,
	}, logger)
	a.Extract = extract.NewService(a.Scraps, a.Routes, a.Logs, worker,
		extract.WithLogger(logger),
		extract.WithJobTimeout(cfg.HTTP.JobTimeout),
	)
	a.Enricher = enrich.NewWorker(cfg.Enrich, a.Client, a.Limiter, a.Details, a.Provisioner, logger)
	a.Normalizer = bronze.NewNormalizer(a.Raw, a.Bronze, a.Users, a.Provisioner, a.Logs, logger)

	return a, nil
}

// Close stops running jobs and releases the pool.
func (a *App) Close(ctx context.Context) {
	if err := a.Extract.Shutdown(ctx); err != nil {
		a.Logger.Warn("jobs still running at shutdown", zap.Error(err))
	}
	a.Conn.Close()
}

// RegisterRoute stores a route and provisions its raw table. The stored
// raw table name is always derived from tenant and route name.
func (a *App) RegisterRoute(ctx context.Context, route domain.Route) (domain.Route, error) {
	if strings.TrimSpace(route.URLTemplate) == "" {
		return domain.Route{}, errors.New("url template is required")
	}
	table, err := schema.RawTableName(route.TenantID, route.Name)
	if err != nil {
		return domain.Route{}, err
	}
	route.RawTable = table
	if route.Method == "" {
		route.Method = "GET"
	}

	created, err := a.Routes.Create(ctx, route)
	if err != nil {
		return domain.Route{}, err
	}
	if _, err := a.Provisioner.EnsureRawTable(ctx, created.TenantID, created.Name); err != nil {
		return created, err
	}
	return created, nil
}

// EnrichRequest describes an enrichment run: detail URLs come from the
// template of routeID, record ids from sourceTable.
type EnrichRequest struct {
	TenantID    int64
	RouteID     uuid.UUID
	SourceTable string
}

// Enrich runs the detail worker once against the shared limiter.
func (a *App) Enrich(ctx context.Context, req EnrichRequest, events chan<- enrich.Event) (enrich.Result, error) {
	if !schema.ValidIdentifier(req.SourceTable) {
		return enrich.Result{Status: enrich.StatusFailed}, fmt.Errorf("invalid source table %q", req.SourceTable)
	}
	route, err := a.Routes.GetByID(ctx, req.RouteID)
	if err != nil {
		return enrich.Result{Status: enrich.StatusFailed}, err
	}
	if route.TenantID != req.TenantID {
		return enrich.Result{Status: enrich.StatusFailed}, ErrRouteTenantMismatch
	}
	token, err := a.Tenants.GetToken(ctx, req.TenantID)
	if err != nil {
		return enrich.Result{Status: enrich.StatusFailed}, err
	}
	return a.Enricher.Run(ctx, enrich.Request{
		TenantID:    req.TenantID,
		SourceTable: req.SourceTable,
		URLTemplate: route.URLTemplate,
		Headers:     route.Headers,
		Token:       token,
	}, events)
}

// QuotaStatus is the limiter snapshot exposed to operators.
type QuotaStatus struct {
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	ResetAt   string `json:"resetAt"`
	Exhausted bool   `json:"exhausted"`
}

// Quota reports the shared daily budget, refreshed from the database.
func (a *App) Quota(ctx context.Context) QuotaStatus {
	if err := a.Limiter.Sync(ctx); err != nil {
		a.Logger.Warn("daily usage not refreshed", zap.Error(err))
	}
	return QuotaStatus{
		Used:      a.Limiter.Used(),
		Remaining: a.Limiter.Remaining(),
		Limit:     a.Limiter.Limit(),
		ResetAt:   a.Limiter.ResetAt().Format(time.RFC3339),
		Exhausted: a.Limiter.Exhausted(),
	}
}

package repository

import (
	"context"
	"time"

	"github.com/rpattn/apietl/internal/domain"

	"github.com/google/uuid"
)

// TenantRepository resolves and stores tenant API credentials.
type TenantRepository interface {
	GetToken(ctx context.Context, tenantID int64) (string, error)
	Upsert(ctx context.Context, tenantID int64, name string, token string) error
}

// RouteRepository manages route definitions. Routes are read-only to the pipeline.
type RouteRepository interface {
	Create(ctx context.Context, route domain.Route) (domain.Route, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Route, error)
	ListByTenant(ctx context.Context, tenantID int64) ([]domain.Route, error)
}

// ScrapFilter narrows job listings.
type ScrapFilter struct {
	TenantID *int64
	Statuses []domain.ScrapStatus
}

// ScrapRepository persists extraction jobs.
type ScrapRepository interface {
	Create(ctx context.Context, scrap domain.Scrap) (domain.Scrap, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Scrap, error)
	List(ctx context.Context, filter ScrapFilter, limit int, offset int) ([]domain.Scrap, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	UpdateProgress(ctx context.Context, id uuid.UUID, recordsCollected int, pagesFetched int) error
	MarkCompleted(ctx context.Context, id uuid.UUID, result domain.ScrapResult) error
	MarkCanceled(ctx context.Context, id uuid.UUID, result domain.ScrapResult) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string, result domain.ScrapResult) error
}

// RawRecordRepository reads and writes tenant/route raw tables.
type RawRecordRepository interface {
	InsertBatch(ctx context.Context, table string, items []domain.RawItem) (int, error)
	Stream(ctx context.Context, table string, fn func(domain.RawRecord) error) error
	Count(ctx context.Context, table string) (int64, error)
	ListRawTables(ctx context.Context) ([]string, error)
}

// DetailRepository reads enrichment inputs and writes detail tables.
type DetailRepository interface {
	ListParentIDs(ctx context.Context, sourceTable string) ([]int64, error)
	InsertBatch(ctx context.Context, table string, items []domain.DetailItem) (int, error)
}

// BronzeRepository writes normalized rows.
type BronzeRepository interface {
	Upsert(ctx context.Context, table string, row domain.BronzeRow) error
	Count(ctx context.Context, table string) (int64, error)
}

// UserRepository matches buyers against the user directory.
type UserRepository interface {
	ResolveBuyer(ctx context.Context, document string, name string) (domain.BuyerLink, error)
}

// IngestionLogRepository stores page and row level failures.
type IngestionLogRepository interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
	ListByScrap(ctx context.Context, scrapID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error)
}

// QuotaRepository persists the daily request counter keyed by the end of its window.
type QuotaRepository interface {
	Reserve(ctx context.Context, window time.Time, limit int) (int, bool, error)
	Release(ctx context.Context, window time.Time) (int, error)
	Used(ctx context.Context, window time.Time) (int, error)
}

package extract

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/apietl/internal/domain"
	"github.com/rpattn/apietl/internal/repository"
	"github.com/rpattn/apietl/internal/schema"

	"github.com/google/uuid"
)

type stubScrapRepo struct {
	mu       sync.Mutex
	scraps   map[uuid.UUID]domain.Scrap
	progress int
}

func newStubScrapRepo() *stubScrapRepo {
	return &stubScrapRepo{scraps: make(map[uuid.UUID]domain.Scrap)}
}

func (r *stubScrapRepo) Create(_ context.Context, scrap domain.Scrap) (domain.Scrap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if scrap.ID == uuid.Nil {
		scrap.ID = uuid.New()
	}
	if scrap.Status == "" {
		scrap.Status = domain.ScrapStatusPending
	}
	scrap.EnqueuedAt = time.Now()
	r.scraps[scrap.ID] = scrap
	return scrap, nil
}

func (r *stubScrapRepo) GetByID(_ context.Context, id uuid.UUID) (domain.Scrap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scrap, ok := r.scraps[id]
	if !ok {
		return domain.Scrap{}, repository.ErrScrapNotFound
	}
	return scrap, nil
}

func (r *stubScrapRepo) List(_ context.Context, _ repository.ScrapFilter, _ int, _ int) ([]domain.Scrap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Scrap, 0, len(r.scraps))
	for _, scrap := range r.scraps {
		out = append(out, scrap)
	}
	return out, nil
}

// Status writes reject an ended context the way pgx does.
func (r *stubScrapRepo) MarkRunning(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	scrap, ok := r.scraps[id]
	if !ok || scrap.Status != domain.ScrapStatusPending {
		return repository.ErrScrapStatusConflict
	}
	scrap.Status = domain.ScrapStatusRunning
	r.scraps[id] = scrap
	return nil
}

func (r *stubScrapRepo) UpdateProgress(_ context.Context, id uuid.UUID, records int, pages int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	scrap := r.scraps[id]
	scrap.RecordsCollected = records
	scrap.PagesFetched = pages
	r.scraps[id] = scrap
	r.progress++
	return nil
}

func (r *stubScrapRepo) MarkCompleted(ctx context.Context, id uuid.UUID, result domain.ScrapResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.finish(id, domain.ScrapStatusCompleted, nil, result, domain.ScrapStatusRunning)
}

func (r *stubScrapRepo) MarkCanceled(ctx context.Context, id uuid.UUID, result domain.ScrapResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.finish(id, domain.ScrapStatusCanceled, nil, result, domain.ScrapStatusPending, domain.ScrapStatusRunning)
}

func (r *stubScrapRepo) MarkFailed(ctx context.Context, id uuid.UUID, message string, result domain.ScrapResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.finish(id, domain.ScrapStatusFailed, &message, result, domain.ScrapStatusPending, domain.ScrapStatusRunning)
}

func (r *stubScrapRepo) finish(id uuid.UUID, status domain.ScrapStatus, message *string, result domain.ScrapResult, from ...domain.ScrapStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	scrap, ok := r.scraps[id]
	if !ok {
		return repository.ErrScrapNotFound
	}
	allowed := false
	for _, candidate := range from {
		if scrap.Status == candidate {
			allowed = true
		}
	}
	if !allowed {
		return repository.ErrScrapStatusConflict
	}
	scrap.Status = status
	scrap.ErrorMessage = message
	scrap.RecordsCollected = result.RecordsCollected
	scrap.PagesFetched = result.PagesFetched
	scrap.PageFailures = result.PageFailures
	r.scraps[id] = scrap
	return nil
}

func (r *stubScrapRepo) status(id uuid.UUID) domain.ScrapStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scraps[id].Status
}

type stubRouteRepo struct {
	routes map[uuid.UUID]domain.Route
}

func (r *stubRouteRepo) GetByID(_ context.Context, id uuid.UUID) (domain.Route, error) {
	route, ok := r.routes[id]
	if !ok {
		return domain.Route{}, repository.ErrRouteNotFound
	}
	return route, nil
}

type stubTokens struct {
	tokens map[int64]string
}

func (s *stubTokens) GetToken(_ context.Context, tenantID int64) (string, error) {
	token, ok := s.tokens[tenantID]
	if !ok {
		return "", fmt.Errorf("tenant %d: %w", tenantID, domain.ErrMissingCredential)
	}
	return token, nil
}

// memoryRawStore mimics insert-or-ignore on the content hash.
type memoryRawStore struct {
	mu     sync.Mutex
	tables map[string]map[string]string
}

func newMemoryRawStore() *memoryRawStore {
	return &memoryRawStore{tables: make(map[string]map[string]string)}
}

func (s *memoryRawStore) InsertBatch(_ context.Context, table string, items []domain.RawItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[table] == nil {
		s.tables[table] = make(map[string]string)
	}
	inserted := 0
	for _, item := range items {
		if _, dup := s.tables[table][item.ContentHash]; dup {
			continue
		}
		s.tables[table][item.ContentHash] = string(item.Payload)
		inserted++
	}
	return inserted, nil
}

func (s *memoryRawStore) count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

type stubProvisioner struct {
	err     error
	entered chan struct{}
	block   chan struct{}
}

// EnsureRawTable waits on block when set and reports an ended context as a
// failed existence check.
func (p *stubProvisioner) EnsureRawTable(ctx context.Context, tenantID int64, routeName string) (string, error) {
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return "", &domain.ProvisioningError{Table: "raw", Reason: "existence check failed", Err: err}
	}
	if p.err != nil {
		return "", p.err
	}
	return schema.RawTableName(tenantID, routeName)
}

type stubFailureLog struct {
	mu      sync.Mutex
	entries []domain.IngestionLogEntry
}

func (l *stubFailureLog) Record(_ context.Context, entry domain.IngestionLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *stubFailureLog) ListByScrap(_ context.Context, id uuid.UUID, _ int, _ int) ([]domain.IngestionLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.IngestionLogEntry
	for _, entry := range l.entries {
		if entry.ScrapID != nil && *entry.ScrapID == id {
			out = append(out, entry)
		}
	}
	return out, nil
}

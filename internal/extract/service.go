package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/apietl/internal/domain"
	"github.com/rpattn/apietl/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidDateRange rejects jobs whose end date precedes the start date.
var ErrInvalidDateRange = errors.New("end date precedes start date")

// Runner executes a single job.
type Runner interface {
	Run(ctx context.Context, scrap domain.Scrap, events chan<- Event) (Result, error)
}

// Service owns job submission, background execution and cancellation.
type Service struct {
	scraps repository.ScrapRepository
	routes RouteReader
	logs   repository.IngestionLogRepository
	runner Runner
	logger *zap.Logger

	jobTimeout time.Duration
	now        func() time.Time

	hub           *hub
	workerCancels sync.Map // map[uuid.UUID]context.CancelFunc
	wg            sync.WaitGroup
}

type Option func(*Service)

func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.jobTimeout = timeout
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(
	scraps repository.ScrapRepository,
	routes RouteReader,
	logs repository.IngestionLogRepository,
	runner Runner,
	opts ...Option,
) *Service {
	service := &Service{
		scraps:     scraps,
		routes:     routes,
		logs:       logs,
		runner:     runner,
		logger:     zap.NewNop(),
		jobTimeout: 6 * time.Hour,
		now:        time.Now,
		hub:        newHub(),
	}
	for _, opt := range opts {
		opt(service)
	}
	service.logger = service.logger.Named("extract")
	return service
}

// SubmitRequest describes a job to enqueue. Dates are inclusive.
type SubmitRequest struct {
	TenantID  int64
	RouteID   uuid.UUID
	StartDate time.Time
	EndDate   time.Time
}

// Validate checks the request without touching storage.
func (r SubmitRequest) Validate() error {
	if r.TenantID <= 0 {
		return errors.New("tenantId is required")
	}
	if r.RouteID == uuid.Nil {
		return errors.New("routeId is required")
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return errors.New("startDate and endDate are required")
	}
	if r.EndDate.Before(r.StartDate) {
		return ErrInvalidDateRange
	}
	return nil
}

// Create persists a pending job without starting it.
func (s *Service) Create(ctx context.Context, req SubmitRequest) (domain.Scrap, error) {
	if err := req.Validate(); err != nil {
		return domain.Scrap{}, err
	}
	route, err := s.routes.GetByID(ctx, req.RouteID)
	if err != nil {
		return domain.Scrap{}, err
	}
	if route.TenantID != req.TenantID {
		return domain.Scrap{}, fmt.Errorf("route %s does not belong to tenant %d", route.ID, req.TenantID)
	}
	if !route.Active {
		return domain.Scrap{}, fmt.Errorf("route %s is inactive", route.ID)
	}
	return s.scraps.Create(ctx, domain.Scrap{
		TenantID:  req.TenantID,
		RouteID:   req.RouteID,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Status:    domain.ScrapStatusPending,
	})
}

// Submit persists a pending job and starts it in the background.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (domain.Scrap, error) {
	scrap, err := s.Create(ctx, req)
	if err != nil {
		return domain.Scrap{}, err
	}
	s.launchWorker(scrap)
	return scrap, nil
}

// Run executes a pending job in the caller's goroutine.
func (s *Service) Run(ctx context.Context, id uuid.UUID, events chan<- Event) (Result, error) {
	scrap, err := s.scraps.GetByID(ctx, id)
	if err != nil {
		return Result{}, err
	}
	return s.runner.Run(ctx, scrap, events)
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (domain.Scrap, error) {
	if id == uuid.Nil {
		return domain.Scrap{}, errors.New("job ID is required")
	}
	return s.scraps.GetByID(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, filter repository.ScrapFilter, limit, offset int) ([]domain.Scrap, error) {
	return s.scraps.List(ctx, filter, limit, offset)
}

func (s *Service) ListLogs(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.IngestionLogEntry, error) {
	if s.logs == nil {
		return []domain.IngestionLogEntry{}, nil
	}
	return s.logs.ListByScrap(ctx, id, limit, offset)
}

// Subscribe streams events of a job running in this process until it ends or
// the returned function is called.
func (s *Service) Subscribe(id uuid.UUID) (<-chan Event, func()) {
	return s.hub.subscribe(id)
}

// Live reports whether id has a worker in this process.
func (s *Service) Live(id uuid.UUID) bool {
	_, ok := s.workerCancels.Load(id)
	return ok
}

// CancelJob stops a pending or running job. A job with a live worker in this
// process is stopped cooperatively and persists its own canceled state, also
// when the worker has not started paginating yet.
func (s *Service) CancelJob(ctx context.Context, id uuid.UUID) (domain.Scrap, error) {
	if id == uuid.Nil {
		return domain.Scrap{}, errors.New("job ID is required")
	}
	scrap, err := s.scraps.GetByID(ctx, id)
	if err != nil {
		return domain.Scrap{}, err
	}
	if scrap.Status.Terminal() {
		return scrap, fmt.Errorf("scrap in status %s cannot be canceled", scrap.Status)
	}

	if cancel, ok := s.workerCancels.Load(id); ok {
		if fn, okCast := cancel.(context.CancelFunc); okCast {
			fn()
		}
		return s.scraps.GetByID(ctx, id)
	}

	result := domain.ScrapResult{
		RecordsCollected: scrap.RecordsCollected,
		PagesFetched:     scrap.PagesFetched,
		PageFailures:     scrap.PageFailures,
	}
	if err := s.scraps.MarkCanceled(ctx, id, result); err != nil && !errors.Is(err, repository.ErrScrapStatusConflict) {
		return domain.Scrap{}, err
	}
	return s.scraps.GetByID(ctx, id)
}

// Shutdown cancels every running job and waits for workers to persist their state.
func (s *Service) Shutdown(ctx context.Context) error {
	s.workerCancels.Range(func(_, value any) bool {
		if fn, ok := value.(context.CancelFunc); ok {
			fn()
		}
		return true
	})
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) launchWorker(scrap domain.Scrap) {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	ctx := baseCtx
	cancelFunc := baseCancel
	if s.jobTimeout > 0 {
		timeoutCtx, timeoutCancel := context.WithTimeout(baseCtx, s.jobTimeout)
		ctx = timeoutCtx
		cancelFunc = func() {
			timeoutCancel()
			baseCancel()
		}
	}
	s.workerCancels.Store(scrap.ID, cancelFunc)

	events := make(chan Event, 64)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range events {
			s.hub.publish(ev)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancelFunc()
			s.workerCancels.Delete(scrap.ID)
			close(events)
			<-forwarded
			s.hub.closeJob(scrap.ID)
		}()
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				s.logger.Error("panic while processing job", zap.String("scrap_id", scrap.ID.String()), zap.Any("panic", rec))
				s.failJob(context.Background(), scrap.ID, err)
			}
		}()
		if _, err := s.runner.Run(ctx, scrap, events); err != nil {
			switch {
			case errors.Is(err, ErrJobNotRunnable):
				s.logger.Info("job not runnable, skipping", zap.String("scrap_id", scrap.ID.String()))
			default:
				s.logger.Warn("job ended with error", zap.String("scrap_id", scrap.ID.String()), zap.Error(err))
			}
		}
	}()
}

func (s *Service) failJob(ctx context.Context, id uuid.UUID, err error) {
	if err == nil {
		return
	}
	if markErr := s.scraps.MarkFailed(ctx, id, truncateError(err), domain.ScrapResult{}); markErr != nil {
		s.logger.Error("failed to mark job as failed", zap.String("scrap_id", id.String()), zap.Error(markErr), zap.NamedError("cause", err))
		return
	}
	s.logger.Error("job failed", zap.String("scrap_id", id.String()), zap.Error(err))
}

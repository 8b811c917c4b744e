// Package enrich fetches per-record detail payloads under the shared request budget.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rpattn/apietl/internal/apiclient"
	"github.com/rpattn/apietl/internal/domain"
	"github.com/rpattn/apietl/internal/metrics"
	"github.com/rpattn/apietl/internal/queue"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status is the outcome of an enrichment run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPaused    Status = "paused"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
)

// Config tunes concurrency, retries and batching.
type Config struct {
	Workers              int
	BatchSize            int
	DBBatchSize          int
	MaxAttempts          int
	Backoff              apiclient.Backoff
	TooManyRequestsDelay time.Duration
	QueueCapacity        int
	PushTimeout          time.Duration
	FlushInterval        time.Duration
	DrainTimeout         time.Duration
	// WaitForQuota sleeps until the daily quota resets instead of pausing.
	WaitForQuota bool
}

// DefaultConfig keeps three requests in flight, well under the per-second ceiling.
func DefaultConfig() Config {
	return Config{
		Workers:              3,
		BatchSize:            10,
		DBBatchSize:          100,
		MaxAttempts:          2,
		Backoff:              apiclient.Backoff{Base: time.Second, Max: 10 * time.Second},
		TooManyRequestsDelay: 2 * time.Second,
		QueueCapacity:        queue.DefaultCapacity,
		PushTimeout:          queue.DefaultPushTimeout,
		FlushInterval:        2 * time.Second,
		DrainTimeout:         2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.DBBatchSize <= 0 {
		c.DBBatchSize = d.DBBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = d.Backoff
	}
	if c.TooManyRequestsDelay < 0 {
		c.TooManyRequestsDelay = d.TooManyRequestsDelay
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = d.PushTimeout
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	return c
}

// Fetcher performs one HTTP call.
type Fetcher interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// Limiter is the process-wide request budget.
type Limiter interface {
	Acquire(ctx context.Context) error
	TryAcquire(ctx context.Context) error
	Remaining() int
	Used() int
	ResetAt() time.Time
}

// Store lists the ids to enrich and persists detail payloads.
type Store interface {
	ListParentIDs(ctx context.Context, sourceTable string) ([]int64, error)
	InsertBatch(ctx context.Context, table string, items []domain.DetailItem) (int, error)
}

// TableProvisioner creates the detail table of a tenant.
type TableProvisioner interface {
	EnsureDetailTable(ctx context.Context, tenantID int64) (string, error)
}

// Request describes one enrichment run.
type Request struct {
	TenantID    int64
	SourceTable string
	URLTemplate string
	Headers     map[string]string
	Token       string
}

// Result summarizes a run.
type Result struct {
	Status       Status        `json:"status"`
	Table        string        `json:"table"`
	Total        int           `json:"total"`
	Processed    int64         `json:"processed"`
	Success      int64         `json:"success"`
	Errors       int64         `json:"errors"`
	NotFound     int64         `json:"notFound"`
	Inserted     int64         `json:"inserted"`
	Dropped      int64         `json:"dropped"`
	RequestsUsed int           `json:"requestsUsed"`
	Remaining    int           `json:"remaining"`
	ResetAt      time.Time     `json:"resetAt"`
	Elapsed      time.Duration `json:"elapsed"`
	Summary      string        `json:"summary"`
}

// EventKind distinguishes progress from the terminal result.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventFinished EventKind = "finished"
)

// Event is published after every batch and once at the end.
type Event struct {
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message"`
	Batch     int       `json:"batch"`
	Batches   int       `json:"batches"`
	Processed int64     `json:"processed"`
	Total     int       `json:"total"`
	Success   int64     `json:"success"`
	Errors    int64     `json:"errors"`
	NotFound  int64     `json:"notFound"`
	Remaining int       `json:"remaining"`
	Result    *Result   `json:"result,omitempty"`
}

// counters are shared by the fetch goroutines of a batch.
type counters struct {
	processed atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	notFound  atomic.Int64
}

// Worker enriches records of one source table per Run.
type Worker struct {
	cfg         Config
	fetcher     Fetcher
	limiter     Limiter
	store       Store
	provisioner TableProvisioner
	logger      *zap.Logger
	now         func() time.Time
}

// NewWorker wires a worker. The limiter must be the process-wide instance.
func NewWorker(cfg Config, fetcher Fetcher, limiter Limiter, store Store, provisioner TableProvisioner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:         cfg.withDefaults(),
		fetcher:     fetcher,
		limiter:     limiter,
		store:       store,
		provisioner: provisioner,
		logger:      logger.Named("enrich"),
		now:         time.Now,
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeNotFound
	outcomeError
	outcomeQuota
	outcomeCanceled
)

type fetchResult struct {
	outcome outcome
	item    domain.DetailItem
	err     error
}

// Run enriches every distinct id of req.SourceTable. It stops early with
// StatusPaused when the daily quota runs out and StatusCanceled when ctx ends.
func (w *Worker) Run(ctx context.Context, req Request, events chan<- Event) (Result, error) {
	started := w.now()
	logger := w.logger.With(zap.Int64("tenant_id", req.TenantID), zap.String("source", req.SourceTable))

	table, err := w.provisioner.EnsureDetailTable(ctx, req.TenantID)
	if err != nil {
		if ctx.Err() != nil {
			return w.canceledEarly(started, events), nil
		}
		return w.failed(started, err, events), err
	}
	ids, err := w.store.ListParentIDs(ctx, req.SourceTable)
	if err != nil {
		if ctx.Err() != nil {
			return w.canceledEarly(started, events), nil
		}
		err = fmt.Errorf("list record ids: %w", err)
		return w.failed(started, err, events), err
	}
	logger.Info("enrichment started", zap.String("table", table), zap.Int("records", len(ids)))

	q := queue.New[domain.DetailItem](table, w.cfg.QueueCapacity, w.cfg.PushTimeout, w.logger)
	sink := queue.SinkFunc[domain.DetailItem](func(ctx context.Context, items []domain.DetailItem) (int, error) {
		return w.store.InsertBatch(ctx, table, items)
	})
	writer := queue.NewWriter[domain.DetailItem](q, sink, queue.WriterConfig{
		BatchSize:     w.cfg.DBBatchSize,
		FlushInterval: w.cfg.FlushInterval,
	}, w.logger)
	writer.Start(ctx)

	headers := apiclient.ResolveHeaders(req.Headers, req.Token, req.TenantID)
	var (
		stats   counters
		paused  atomic.Bool
		batches = (len(ids) + w.cfg.BatchSize - 1) / w.cfg.BatchSize
	)

	for b := 0; b < batches; b++ {
		if ctx.Err() != nil || paused.Load() {
			break
		}
		lo := b * w.cfg.BatchSize
		hi := min(lo+w.cfg.BatchSize, len(ids))
		results := make([]fetchResult, hi-lo)

		var g errgroup.Group
		g.SetLimit(w.cfg.Workers)
		for i, id := range ids[lo:hi] {
			g.Go(func() error {
				results[i] = w.fetch(ctx, req, headers, id, &paused)
				return nil
			})
		}
		_ = g.Wait()

		for _, res := range results {
			switch res.outcome {
			case outcomeSuccess:
				stats.processed.Add(1)
				stats.success.Add(1)
				metrics.DetailFetches.WithLabelValues("success").Inc()
				q.Push(res.item)
			case outcomeNotFound:
				stats.processed.Add(1)
				stats.notFound.Add(1)
				metrics.DetailFetches.WithLabelValues("not_found").Inc()
				logger.Debug("detail missing upstream", zap.Error(res.err))
			case outcomeError:
				stats.processed.Add(1)
				stats.errors.Add(1)
				metrics.DetailFetches.WithLabelValues("error").Inc()
				logger.Warn("detail fetch failed", zap.Error(res.err))
			}
		}

		w.progress(events, b+1, batches, len(ids), &stats, started)
	}

	q.Close()
	if !writer.Wait(w.cfg.DrainTimeout) {
		logger.Warn("writer still draining after timeout", zap.Int("pending", q.Len()))
	}

	result := Result{
		Status:       StatusCompleted,
		Table:        table,
		Total:        len(ids),
		Processed:    stats.processed.Load(),
		Success:      stats.success.Load(),
		Errors:       stats.errors.Load(),
		NotFound:     stats.notFound.Load(),
		Inserted:     writer.Inserted(),
		Dropped:      q.Dropped(),
		RequestsUsed: w.limiter.Used(),
		Remaining:    w.limiter.Remaining(),
		ResetAt:      w.limiter.ResetAt(),
		Elapsed:      w.now().Sub(started),
	}
	switch {
	case paused.Load():
		result.Status = StatusPaused
	case ctx.Err() != nil:
		result.Status = StatusCanceled
	}
	result.Summary = summarize(result)

	logger.Info("enrichment finished",
		zap.String("status", string(result.Status)),
		zap.Int64("processed", result.Processed),
		zap.Int("total", result.Total),
		zap.Int64("success", result.Success),
		zap.Int64("errors", result.Errors),
		zap.Int64("not_found", result.NotFound),
		zap.Int64("inserted", result.Inserted),
	)
	sendEvent(events, Event{
		Kind:      EventFinished,
		Message:   result.Summary,
		Processed: result.Processed,
		Total:     result.Total,
		Success:   result.Success,
		Errors:    result.Errors,
		NotFound:  result.NotFound,
		Remaining: result.Remaining,
		Result:    &result,
	})
	return result, nil
}

func (w *Worker) fetch(ctx context.Context, req Request, headers map[string]string, id int64, paused *atomic.Bool) fetchResult {
	call := apiclient.Request{
		URL:     apiclient.ResolveDetailURL(req.URLTemplate, req.TenantID, id),
		Headers: headers,
	}

	var lastErr error
	for attempt := 0; attempt < w.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return fetchResult{outcome: outcomeCanceled}
		}
		if paused.Load() {
			return fetchResult{outcome: outcomeQuota}
		}
		if err := w.acquire(ctx); err != nil {
			switch {
			case errors.Is(err, domain.ErrRateLimitExceeded):
				paused.Store(true)
				return fetchResult{outcome: outcomeQuota}
			case ctx.Err() != nil:
				return fetchResult{outcome: outcomeCanceled}
			}
			return fetchResult{outcome: outcomeError, err: fmt.Errorf("record %d: %w", id, err)}
		}

		resp, err := w.fetcher.Do(context.WithoutCancel(ctx), call)
		if err == nil {
			decoded, decodeErr := domain.DecodeJSON(resp.Body)
			if decodeErr != nil {
				return fetchResult{outcome: outcomeError, err: fmt.Errorf("record %d: %w", id, decodeErr)}
			}
			item, itemErr := domain.NewDetailItem(id, decoded)
			if itemErr != nil {
				return fetchResult{outcome: outcomeError, err: fmt.Errorf("record %d: %w", id, itemErr)}
			}
			return fetchResult{outcome: outcomeSuccess, item: item}
		}
		lastErr = err

		var terr *domain.TransportError
		if !errors.As(err, &terr) {
			return fetchResult{outcome: outcomeError, err: fmt.Errorf("record %d: %w", id, err)}
		}
		switch {
		case terr.IsNotFound():
			return fetchResult{outcome: outcomeNotFound, err: fmt.Errorf("record %d: %w", id, domain.ErrNotFound)}
		case !terr.Retryable():
			return fetchResult{outcome: outcomeError, err: fmt.Errorf("record %d: %w", id, err)}
		}

		if attempt+1 >= w.cfg.MaxAttempts {
			break
		}
		delay := w.cfg.Backoff.Delay(attempt + 1)
		if terr.IsRateLimited() {
			delay = w.cfg.TooManyRequestsDelay
		}
		if sleepErr := apiclient.Sleep(ctx, delay); sleepErr != nil {
			return fetchResult{outcome: outcomeCanceled}
		}
	}
	return fetchResult{outcome: outcomeError, err: fmt.Errorf("record %d failed after %d attempts: %w", id, w.cfg.MaxAttempts, lastErr)}
}

func (w *Worker) acquire(ctx context.Context) error {
	if w.cfg.WaitForQuota {
		return w.limiter.Acquire(ctx)
	}
	return w.limiter.TryAcquire(ctx)
}

func (w *Worker) progress(events chan<- Event, batch, batches, total int, stats *counters, started time.Time) {
	processed := stats.processed.Load()
	elapsed := w.now().Sub(started).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(processed) / elapsed
	}
	remaining := w.limiter.Remaining()
	sendEvent(events, Event{
		Kind: EventProgress,
		Message: fmt.Sprintf("batch %d/%d | %d/%d records | ok %d | err %d | not found %d | %.1f rec/s | quota left %d",
			batch, batches, processed, total, stats.success.Load(), stats.errors.Load(), stats.notFound.Load(), rate, remaining),
		Batch:     batch,
		Batches:   batches,
		Processed: processed,
		Total:     total,
		Success:   stats.success.Load(),
		Errors:    stats.errors.Load(),
		NotFound:  stats.notFound.Load(),
		Remaining: remaining,
	})
}

func (w *Worker) failed(started time.Time, err error, events chan<- Event) Result {
	result := Result{Status: StatusFailed, Elapsed: w.now().Sub(started), Summary: err.Error()}
	w.logger.Error("enrichment failed", zap.Error(err))
	sendEvent(events, Event{Kind: EventFinished, Message: result.Summary, Result: &result})
	return result
}

// canceledEarly ends a run stopped before any record was fetched.
func (w *Worker) canceledEarly(started time.Time, events chan<- Event) Result {
	result := Result{Status: StatusCanceled, Elapsed: w.now().Sub(started)}
	result.Summary = summarize(result)
	w.logger.Info("enrichment canceled before start")
	sendEvent(events, Event{Kind: EventFinished, Message: result.Summary, Result: &result})
	return result
}

func summarize(r Result) string {
	efficiency := 0.0
	if r.Total > 0 {
		efficiency = float64(r.Processed) / float64(r.Total) * 100
	}
	summary := fmt.Sprintf("%s: %d/%d records (%.1f%%), %d ok, %d errors, %d not found, %d new rows in %s, %d requests used today",
		r.Status, r.Processed, r.Total, efficiency, r.Success, r.Errors, r.NotFound, r.Inserted, r.Table, r.RequestsUsed)
	if r.Status == StatusPaused {
		summary += fmt.Sprintf(", quota resets at %s", r.ResetAt.Format(time.RFC3339))
	}
	return summary
}

func sendEvent(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	if ev.Kind == EventProgress {
		select {
		case ch <- ev:
		default:
		}
		return
	}
	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()
	select {
	case ch <- ev:
	case <-timer.C:
	}
}

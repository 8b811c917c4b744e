package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rpattn/apietl/internal/apiclient"
	"github.com/rpattn/apietl/internal/domain"
	"github.com/rpattn/apietl/internal/metrics"
	"github.com/rpattn/apietl/internal/queue"
	"github.com/rpattn/apietl/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrJobNotRunnable is returned when a job is no longer pending at start.
var ErrJobNotRunnable = errors.New("scrap is no longer runnable")

// Config tunes pagination, retries and the ingestion queue.
type Config struct {
	PageSize      int
	MaxRetries    int
	Backoff       apiclient.Backoff
	PageDelay     time.Duration
	PagesPerDay   int
	StartParam    string
	EndParam      string
	PageParam     string
	PageSizeParam string
	DateLayout    string

	QueueCapacity   int
	PushTimeout     time.Duration
	WriterBatchSize int
	FlushInterval   time.Duration
	DrainTimeout    time.Duration
}

// DefaultConfig returns the parameters tenant APIs are known to accept.
func DefaultConfig() Config {
	return Config{
		PageSize:        1000,
		MaxRetries:      5,
		Backoff:         apiclient.Backoff{Base: time.Second, Max: 30 * time.Second},
		PageDelay:       100 * time.Millisecond,
		PagesPerDay:     10,
		StartParam:      "data_inicial",
		EndParam:        "data_final",
		PageParam:       "page",
		PageSizeParam:   "per_page",
		DateLayout:      "2006-01-02",
		QueueCapacity:   queue.DefaultCapacity,
		PushTimeout:     queue.DefaultPushTimeout,
		WriterBatchSize: 1,
		FlushInterval:   time.Second,
		DrainTimeout:    2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = d.Backoff
	}
	if c.PagesPerDay <= 0 {
		c.PagesPerDay = d.PagesPerDay
	}
	if c.StartParam == "" {
		c.StartParam = d.StartParam
	}
	if c.EndParam == "" {
		c.EndParam = d.EndParam
	}
	if c.PageParam == "" {
		c.PageParam = d.PageParam
	}
	if c.PageSizeParam == "" {
		c.PageSizeParam = d.PageSizeParam
	}
	if c.DateLayout == "" {
		c.DateLayout = d.DateLayout
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = d.PushTimeout
	}
	if c.WriterBatchSize <= 0 {
		c.WriterBatchSize = d.WriterBatchSize
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

// RawTableProvisioner creates the raw table of a route.
type RawTableProvisioner interface {
	EnsureRawTable(ctx context.Context, tenantID int64, routeName string) (string, error)
}

// RouteReader loads route definitions.
type RouteReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Route, error)
}

// TokenSource resolves tenant credentials.
type TokenSource interface {
	GetToken(ctx context.Context, tenantID int64) (string, error)
}

// RawWriter persists canonical payloads.
type RawWriter interface {
	InsertBatch(ctx context.Context, table string, items []domain.RawItem) (int, error)
}

// FailureLog stores page level failures.
type FailureLog interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
}

// Result summarizes a finished job.
type Result struct {
	Status        domain.ScrapStatus `json:"status"`
	Table         string             `json:"table"`
	Records       int64              `json:"records"`
	Queued        int64              `json:"queued"`
	Dropped       int64              `json:"dropped"`
	WriteFailures int64              `json:"writeFailures"`
	Pages         int                `json:"pages"`
	PageFailures  int                `json:"pageFailures"`
	Elapsed       time.Duration      `json:"elapsed"`
	Summary       string             `json:"summary"`
}

func (r Result) scrapResult() domain.ScrapResult {
	return domain.ScrapResult{
		RecordsCollected: int(r.Records),
		PagesFetched:     r.Pages,
		PageFailures:     r.PageFailures,
	}
}

// Worker runs one extraction job at a time: it pages through the route, pushes
// canonical items into a bounded queue and lets a batch writer persist them.
type Worker struct {
	cfg         Config
	fetcher     Fetcher
	scraps      repository.ScrapRepository
	routes      RouteReader
	tokens      TokenSource
	raw         RawWriter
	provisioner RawTableProvisioner
	failures    FailureLog
	logger      *zap.Logger
	now         func() time.Time
}

// WorkerDeps groups the collaborators of a Worker.
type WorkerDeps struct {
	Fetcher     Fetcher
	Scraps      repository.ScrapRepository
	Routes      RouteReader
	Tokens      TokenSource
	Raw         RawWriter
	Provisioner RawTableProvisioner
	Failures    FailureLog
}

// NewWorker wires a worker.
func NewWorker(cfg Config, deps WorkerDeps, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:         cfg.withDefaults(),
		fetcher:     deps.Fetcher,
		scraps:      deps.Scraps,
		routes:      deps.Routes,
		tokens:      deps.Tokens,
		raw:         deps.Raw,
		provisioner: deps.Provisioner,
		failures:    deps.Failures,
		logger:      logger.Named("extract"),
		now:         time.Now,
	}
}

type target struct {
	table   string
	url     string
	method  string
	headers map[string]string
}

type pageStats struct {
	pages        int
	pageFailures int
	queued       int64
}

// Run executes the job until pagination ends, ctx is canceled, or a fatal
// precondition fails. Canceled and completed jobs return a nil error; failed
// jobs are persisted as failed and their cause is returned.
func (w *Worker) Run(ctx context.Context, scrap domain.Scrap, events chan<- Event) (Result, error) {
	started := w.now()
	logger := w.logger.With(zap.String("scrap_id", scrap.ID.String()), zap.Int64("tenant_id", scrap.TenantID))

	// The transition is persisted even when ctx already ended so a stopped job
	// still reaches a terminal state.
	if err := w.scraps.MarkRunning(context.WithoutCancel(ctx), scrap.ID); err != nil {
		if errors.Is(err, repository.ErrScrapStatusConflict) {
			return Result{}, ErrJobNotRunnable
		}
		return Result{}, err
	}
	metrics.JobsRunning.Inc()
	defer metrics.JobsRunning.Dec()

	if ctx.Err() != nil {
		return w.conclude(ctx, scrap, Result{Elapsed: w.now().Sub(started)}, events, logger)
	}
	tgt, err := w.prepare(ctx, scrap)
	if err != nil {
		result := Result{Elapsed: w.now().Sub(started)}
		if ctx.Err() != nil {
			return w.conclude(ctx, scrap, result, events, logger)
		}
		return w.fail(ctx, scrap, result, events, logger, err)
	}
	logger = logger.With(zap.String("table", tgt.table))
	logger.Info("extraction started",
		zap.Time("start_date", scrap.StartDate),
		zap.Time("end_date", scrap.EndDate),
	)

	q := queue.New[domain.RawItem](tgt.table, w.cfg.QueueCapacity, w.cfg.PushTimeout, w.logger)
	sink := queue.SinkFunc[domain.RawItem](func(ctx context.Context, items []domain.RawItem) (int, error) {
		return w.raw.InsertBatch(ctx, tgt.table, items)
	})
	writer := queue.NewWriter[domain.RawItem](q, sink, queue.WriterConfig{
		BatchSize:     w.cfg.WriterBatchSize,
		FlushInterval: w.cfg.FlushInterval,
	}, w.logger)
	writer.Start(ctx)

	stats := w.paginate(ctx, scrap, tgt, q, events, started, logger)

	q.Close()
	if !writer.Wait(w.cfg.DrainTimeout) {
		logger.Warn("writer still draining after timeout", zap.Int("pending", q.Len()))
	}

	result := Result{
		Table:         tgt.table,
		Records:       writer.Inserted(),
		Queued:        stats.queued,
		Dropped:       q.Dropped(),
		WriteFailures: writer.Failed(),
		Pages:         stats.pages,
		PageFailures:  stats.pageFailures,
		Elapsed:       w.now().Sub(started),
	}

	return w.conclude(ctx, scrap, result, events, logger)
}

// conclude persists the outcome of a job that was not failed by an error:
// completed, canceled, or failed when its timeout expired.
func (w *Worker) conclude(ctx context.Context, scrap domain.Scrap, result Result, events chan<- Event, logger *zap.Logger) (Result, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return w.fail(ctx, scrap, result, events, logger, fmt.Errorf("job timed out after %d pages", result.Pages))
	}
	return w.finish(ctx, scrap, result, events, logger)
}

func (w *Worker) prepare(ctx context.Context, scrap domain.Scrap) (target, error) {
	route, err := w.routes.GetByID(ctx, scrap.RouteID)
	if err != nil {
		return target{}, fmt.Errorf("load route: %w", err)
	}
	if route.TenantID != scrap.TenantID {
		return target{}, fmt.Errorf("route %s does not belong to tenant %d", route.ID, scrap.TenantID)
	}

	token, err := w.tokens.GetToken(ctx, scrap.TenantID)
	if err != nil {
		return target{}, err
	}

	table, err := w.provisioner.EnsureRawTable(ctx, scrap.TenantID, route.Name)
	if err != nil {
		return target{}, err
	}
	if route.RawTable != "" && route.RawTable != table {
		return target{}, &domain.ProvisioningError{
			Table:  route.RawTable,
			Reason: fmt.Sprintf("route is registered for %s but its name maps to %s", route.RawTable, table),
		}
	}

	return target{
		table:   table,
		url:     apiclient.ResolveURL(route.URLTemplate, scrap.TenantID),
		method:  route.Method,
		headers: apiclient.ResolveHeaders(route.Headers, token, scrap.TenantID),
	}, nil
}

func (w *Worker) paginate(ctx context.Context, scrap domain.Scrap, tgt target, q *queue.Queue[domain.RawItem], events chan<- Event, started time.Time, logger *zap.Logger) pageStats {
	var stats pageStats
	estimate := scrap.Days() * w.cfg.PagesPerDay

	for pageNumber := 1; ctx.Err() == nil; pageNumber++ {
		pg, err := w.fetchPage(ctx, scrap, tgt, pageNumber, logger)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			stats.pageFailures++
			metrics.PageFailures.WithLabelValues(tgt.table).Inc()
			logger.Warn("page abandoned, pagination stops here", zap.Int("page", pageNumber), zap.Error(err))
			w.recordFailure(ctx, scrap, tgt.table, fmt.Sprintf("page %d", pageNumber), err)
			break
		}
		stats.pages++
		metrics.PagesFetched.WithLabelValues(tgt.table).Inc()

		for _, item := range pg.Items {
			raw, itemErr := domain.NewRawItem(item)
			if itemErr != nil {
				logger.Warn("item skipped", zap.Int("page", pageNumber), zap.Error(itemErr))
				continue
			}
			if q.Push(raw) {
				stats.queued++
			}
		}

		w.reportProgress(ctx, scrap, pageNumber, estimate, stats.queued, started, events, logger)

		if len(pg.Items) == 0 || !pg.HasMore {
			break
		}
		if err := apiclient.Sleep(ctx, w.cfg.PageDelay); err != nil {
			break
		}
	}
	return stats
}

func (w *Worker) fetchPage(ctx context.Context, scrap domain.Scrap, tgt target, pageNumber int, logger *zap.Logger) (page, error) {
	req := apiclient.Request{
		Method: tgt.method,
		URL:    tgt.url,
		Query: url.Values{
			w.cfg.StartParam:    {scrap.StartDate.Format(w.cfg.DateLayout)},
			w.cfg.EndParam:      {scrap.EndDate.Format(w.cfg.DateLayout)},
			w.cfg.PageParam:     {strconv.Itoa(pageNumber)},
			w.cfg.PageSizeParam: {strconv.Itoa(w.cfg.PageSize)},
		},
		Headers: tgt.headers,
	}

	var lastErr error
	for attempt := 0; attempt < w.cfg.MaxRetries; attempt++ {
		// In-flight calls finish on their own timeout even after a stop request.
		resp, err := w.fetcher.Do(context.WithoutCancel(ctx), req)
		if err == nil {
			pg, parseErr := parsePage(resp.Body)
			if parseErr == nil {
				return pg, nil
			}
			err = parseErr
		}
		lastErr = err
		logger.Warn("page request failed",
			zap.Int("page", pageNumber),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", w.cfg.MaxRetries),
			zap.Error(err),
		)
		if attempt+1 < w.cfg.MaxRetries {
			if sleepErr := apiclient.Sleep(ctx, w.cfg.Backoff.Delay(attempt)); sleepErr != nil {
				return page{}, sleepErr
			}
		}
	}
	return page{}, fmt.Errorf("page %d failed after %d attempts: %w", pageNumber, w.cfg.MaxRetries, lastErr)
}

func (w *Worker) reportProgress(ctx context.Context, scrap domain.Scrap, pageNumber, estimate int, queued int64, started time.Time, events chan<- Event, logger *zap.Logger) {
	elapsed := w.now().Sub(started).Seconds()
	var rate, eta float64
	if elapsed > 0 {
		rate = float64(queued) / elapsed
	}
	if remaining := estimate - pageNumber; remaining > 0 {
		eta = elapsed / float64(pageNumber) * float64(remaining)
	}

	pagesLabel := strconv.Itoa(estimate)
	if pageNumber > estimate {
		pagesLabel = strconv.Itoa(pageNumber) + "+"
	}
	send(events, Event{
		Kind:             EventProgress,
		ScrapID:          scrap.ID,
		Message:          fmt.Sprintf("page %d/%s | %d records | %.1f rec/s | eta %.0fs", pageNumber, pagesLabel, queued, rate, eta),
		Page:             pageNumber,
		PagesEstimated:   estimate,
		Records:          queued,
		ETASeconds:       eta,
		RecordsPerSecond: rate,
	})

	if err := w.scraps.UpdateProgress(context.WithoutCancel(ctx), scrap.ID, int(queued), pageNumber); err != nil {
		logger.Warn("failed to persist progress", zap.Error(err))
	}
}

func (w *Worker) finish(ctx context.Context, scrap domain.Scrap, result Result, events chan<- Event, logger *zap.Logger) (Result, error) {
	persistCtx := context.WithoutCancel(ctx)
	kind := EventCompleted
	result.Status = domain.ScrapStatusCompleted
	if ctx.Err() != nil {
		kind = EventCanceled
		result.Status = domain.ScrapStatusCanceled
	}
	result.Summary = summarize(scrap, result)

	var markErr error
	if result.Status == domain.ScrapStatusCanceled {
		markErr = w.scraps.MarkCanceled(persistCtx, scrap.ID, result.scrapResult())
	} else {
		markErr = w.scraps.MarkCompleted(persistCtx, scrap.ID, result.scrapResult())
	}
	if markErr != nil {
		logger.Error("failed to persist final status", zap.String("status", string(result.Status)), zap.Error(markErr))
	}

	metrics.JobDuration.WithLabelValues(string(result.Status)).Observe(result.Elapsed.Seconds())
	logger.Info("extraction finished",
		zap.String("status", string(result.Status)),
		zap.Int64("records", result.Records),
		zap.Int("pages", result.Pages),
		zap.Int("page_failures", result.PageFailures),
		zap.Int64("dropped", result.Dropped),
		zap.Duration("elapsed", result.Elapsed),
	)
	send(events, Event{
		Kind:    kind,
		ScrapID: scrap.ID,
		Message: result.Summary,
		Page:    result.Pages,
		Records: result.Records,
		Result:  &result,
	})
	return result, nil
}

func (w *Worker) fail(ctx context.Context, scrap domain.Scrap, result Result, events chan<- Event, logger *zap.Logger, cause error) (Result, error) {
	result.Status = domain.ScrapStatusFailed
	result.Summary = cause.Error()

	if err := w.scraps.MarkFailed(context.WithoutCancel(ctx), scrap.ID, truncateError(cause), result.scrapResult()); err != nil {
		logger.Error("failed to mark scrap failed", zap.Error(err), zap.NamedError("cause", cause))
	}
	metrics.JobDuration.WithLabelValues(string(result.Status)).Observe(result.Elapsed.Seconds())
	logger.Error("extraction failed", zap.Error(cause))
	send(events, Event{
		Kind:    EventFailed,
		ScrapID: scrap.ID,
		Message: result.Summary,
		Records: result.Records,
		Result:  &result,
		Error:   cause.Error(),
	})
	return result, cause
}

func (w *Worker) recordFailure(ctx context.Context, scrap domain.Scrap, table, where string, cause error) {
	if w.failures == nil {
		return
	}
	id := scrap.ID
	entry := domain.IngestionLogEntry{
		TenantID:     scrap.TenantID,
		ScrapID:      &id,
		TableName:    table,
		Context:      where,
		ErrorMessage: truncateError(cause),
	}
	if err := w.failures.Record(context.WithoutCancel(ctx), entry); err != nil {
		w.logger.Warn("failed to write ingestion log", zap.Error(err))
	}
}

func summarize(scrap domain.Scrap, r Result) string {
	rate := 0.0
	if secs := r.Elapsed.Seconds(); secs > 0 {
		rate = float64(r.Records) / secs
	}
	summary := fmt.Sprintf("%s: %d new records into %s for %s..%s in %s (%.1f rec/s, %d pages)",
		r.Status, r.Records, r.Table,
		scrap.StartDate.Format("2006-01-02"), scrap.EndDate.Format("2006-01-02"),
		r.Elapsed.Round(time.Second), rate, r.Pages,
	)
	if r.PageFailures > 0 {
		summary += fmt.Sprintf(", %d page(s) abandoned", r.PageFailures)
	}
	if r.Dropped > 0 {
		summary += fmt.Sprintf(", %d item(s) dropped", r.Dropped)
	}
	return summary
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	const limit = 1000
	if len(msg) > limit {
		return msg[:limit] + "..."
	}
	return msg
}

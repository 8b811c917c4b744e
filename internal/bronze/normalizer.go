// Package bronze normalizes raw order payloads into typed bronze tables.
package bronze

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/apietl/internal/domain"
	"github.com/rpattn/apietl/internal/metrics"
	"github.com/rpattn/apietl/internal/schema"

	"go.uber.org/zap"
)

// RawReader streams the rows of a raw table.
type RawReader interface {
	Stream(ctx context.Context, table string, fn func(domain.RawRecord) error) error
	Count(ctx context.Context, table string) (int64, error)
}

// Writer upserts bronze rows.
type Writer interface {
	Upsert(ctx context.Context, table string, row domain.BronzeRow) error
	Count(ctx context.Context, table string) (int64, error)
}

// BuyerResolver links buyers to the user directory.
type BuyerResolver interface {
	ResolveBuyer(ctx context.Context, document string, name string) (domain.BuyerLink, error)
}

// TableProvisioner creates the bronze table paired with a raw table.
type TableProvisioner interface {
	EnsureBronzeTable(ctx context.Context, rawTable string) (string, error)
}

// FailureLog persists row level failures.
type FailureLog interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
}

// Status is the outcome of a normalization run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
)

// Result summarizes a run.
type Result struct {
	Status      Status        `json:"status"`
	RawTable    string        `json:"rawTable"`
	BronzeTable string        `json:"bronzeTable"`
	TenantID    int64         `json:"tenantId"`
	RawRows     int64         `json:"rawRows"`
	Processed   int64         `json:"processed"`
	Errors      int64         `json:"errors"`
	BronzeRows  int64         `json:"bronzeRows"`
	Elapsed     time.Duration `json:"elapsed"`
	Summary     string        `json:"summary"`
}

// EventKind distinguishes progress from the terminal result.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventFinished EventKind = "finished"
)

// Event reports normalization progress.
type Event struct {
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message"`
	Processed int64     `json:"processed"`
	Errors    int64     `json:"errors"`
	Total     int64     `json:"total"`
	Result    *Result   `json:"result,omitempty"`
}

const progressEvery = 10

// Normalizer turns one raw table into its bronze counterpart.
type Normalizer struct {
	raw         RawReader
	bronze      Writer
	buyers      BuyerResolver
	provisioner TableProvisioner
	failures    FailureLog
	logger      *zap.Logger
}

// NewNormalizer wires a normalizer. failures may be nil.
func NewNormalizer(raw RawReader, bronze Writer, buyers BuyerResolver, provisioner TableProvisioner, failures FailureLog, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		raw:         raw,
		bronze:      bronze,
		buyers:      buyers,
		provisioner: provisioner,
		failures:    failures,
		logger:      logger.Named("bronze"),
	}
}

// Run upserts one bronze row per parseable raw row. Row failures are counted
// and logged; only provisioning and read failures abort the run.
func (n *Normalizer) Run(ctx context.Context, rawTable string, events chan<- Event) (Result, error) {
	started := time.Now()
	result := Result{Status: StatusCompleted, RawTable: rawTable}

	tenantID, err := schema.ParseRawTableName(rawTable)
	if err != nil {
		return n.fail(result, started, err, events)
	}
	result.TenantID = tenantID
	logger := n.logger.With(zap.String("raw_table", rawTable), zap.Int64("tenant_id", tenantID))

	bronzeTable, err := n.provisioner.EnsureBronzeTable(ctx, rawTable)
	if err != nil {
		return n.fail(result, started, err, events)
	}
	result.BronzeTable = bronzeTable

	if result.RawRows, err = n.raw.Count(ctx, rawTable); err != nil {
		return n.fail(result, started, err, events)
	}
	logger.Info("normalization started", zap.String("bronze_table", bronzeTable), zap.Int64("raw_rows", result.RawRows))

	streamErr := n.raw.Stream(ctx, rawTable, func(record domain.RawRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rowErr := n.normalize(ctx, tenantID, bronzeTable, record); rowErr != nil {
			result.Errors++
			metrics.BronzeRows.WithLabelValues("error").Inc()
			logger.Warn("raw row skipped", zap.Int64("raw_id", record.ID), zap.Error(rowErr))
			n.recordFailure(ctx, tenantID, rawTable, record.ID, rowErr)
		} else {
			result.Processed++
			metrics.BronzeRows.WithLabelValues("upserted").Inc()
		}

		if done := result.Processed + result.Errors; done%progressEvery == 0 {
			sendEvent(events, Event{
				Kind:      EventProgress,
				Message:   fmt.Sprintf("processed %d/%d rows", done, result.RawRows),
				Processed: result.Processed,
				Errors:    result.Errors,
				Total:     result.RawRows,
			})
		}
		return nil
	})

	switch {
	case streamErr == nil:
	case ctx.Err() != nil:
		result.Status = StatusCanceled
	default:
		return n.fail(result, started, fmt.Errorf("stream %s: %w", rawTable, streamErr), events)
	}

	if count, countErr := n.bronze.Count(context.WithoutCancel(ctx), bronzeTable); countErr != nil {
		logger.Warn("failed to count bronze rows", zap.Error(countErr))
	} else {
		result.BronzeRows = count
	}

	result.Elapsed = time.Since(started)
	result.Summary = summarize(result)
	logger.Info("normalization finished",
		zap.String("status", string(result.Status)),
		zap.Int64("processed", result.Processed),
		zap.Int64("errors", result.Errors),
		zap.Int64("bronze_rows", result.BronzeRows),
	)
	sendEvent(events, Event{
		Kind:      EventFinished,
		Message:   result.Summary,
		Processed: result.Processed,
		Errors:    result.Errors,
		Total:     result.RawRows,
		Result:    &result,
	})
	return result, nil
}

func (n *Normalizer) normalize(ctx context.Context, tenantID int64, table string, record domain.RawRecord) error {
	payload, err := domain.DecodeJSON(record.Payload)
	if err != nil {
		var malformed *domain.MalformedPayloadError
		if errors.As(err, &malformed) {
			malformed.RecordID = record.ID
		}
		return err
	}

	row, err := ExtractOrder(payload)
	if err != nil {
		return &domain.MalformedPayloadError{RecordID: record.ID, Err: err}
	}
	row.RawID = record.ID
	row.TenantID = tenantID

	// Buyer links are optional; a failed lookup stores the row unlinked.
	link, err := n.buyers.ResolveBuyer(ctx, deref(row.CompradorDocumento), deref(row.CompradorNome))
	if err != nil {
		n.logger.Warn("buyer lookup failed, storing row without user link",
			zap.Int64("raw_id", record.ID), zap.Error(err))
		link = domain.BuyerLink{}
	}
	row.UsuarioID = link.UserID
	row.DivisaoID = link.DivisionID

	return n.bronze.Upsert(ctx, table, row)
}

func (n *Normalizer) recordFailure(ctx context.Context, tenantID int64, table string, rawID int64, cause error) {
	if n.failures == nil {
		return
	}
	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	entry := domain.IngestionLogEntry{
		TenantID:     tenantID,
		TableName:    table,
		Context:      fmt.Sprintf("raw row %d", rawID),
		ErrorMessage: msg,
	}
	if err := n.failures.Record(context.WithoutCancel(ctx), entry); err != nil {
		n.logger.Warn("failed to write ingestion log", zap.Error(err))
	}
}

func (n *Normalizer) fail(result Result, started time.Time, err error, events chan<- Event) (Result, error) {
	result.Status = StatusFailed
	result.Elapsed = time.Since(started)
	result.Summary = err.Error()
	n.logger.Error("normalization failed", zap.String("raw_table", result.RawTable), zap.Error(err))
	sendEvent(events, Event{Kind: EventFinished, Message: result.Summary, Result: &result})
	return result, err
}

func summarize(r Result) string {
	if r.RawRows == 0 && r.Processed == 0 && r.Errors == 0 {
		return fmt.Sprintf("%s: no rows to normalize in %s", r.Status, r.RawTable)
	}
	return fmt.Sprintf("%s: %s -> %s, %d raw rows, %d processed, %d errors, %d bronze rows, tenant %d, %s",
		r.Status, r.RawTable, r.BronzeTable, r.RawRows, r.Processed, r.Errors, r.BronzeRows, r.TenantID,
		r.Elapsed.Round(time.Millisecond))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
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

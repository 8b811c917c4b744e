package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rpattn/apietl/internal/metrics"

	"go.uber.org/zap"
)

// Sink persists a batch and reports how many rows were newly inserted.
// Implementations must not retain the slice.
type Sink[T any] interface {
	WriteBatch(ctx context.Context, items []T) (int, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc[T any] func(ctx context.Context, items []T) (int, error)

func (f SinkFunc[T]) WriteBatch(ctx context.Context, items []T) (int, error) {
	return f(ctx, items)
}

// WriterConfig controls batching.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// Writer is the single consumer of a Queue.
type Writer[T any] struct {
	queue  *Queue[T]
	sink   Sink[T]
	cfg    WriterConfig
	logger *zap.Logger

	inserted atomic.Int64
	failed   atomic.Int64
	batches  atomic.Int64
	done     chan struct{}
}

// NewWriter binds a writer to q.
func NewWriter[T any](q *Queue[T], sink Sink[T], cfg WriterConfig, logger *zap.Logger) *Writer[T] {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer[T]{
		queue:  q,
		sink:   sink,
		cfg:    cfg,
		logger: logger.Named("writer").With(zap.String("queue", q.name)),
		done:   make(chan struct{}),
	}
}

// Start launches the consumer goroutine. Writes use a context detached from
// ctx cancellation so buffered items are persisted after a stop request.
func (w *Writer[T]) Start(ctx context.Context) {
	go w.run(context.WithoutCancel(ctx))
}

// Wait blocks until the writer has drained a closed queue or timeout elapses.
func (w *Writer[T]) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-w.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		w.logger.Warn("writer did not drain before timeout", zap.Duration("timeout", timeout), zap.Int("pending", w.queue.Len()))
		return false
	}
}

// Inserted returns rows newly written; duplicates absorbed by the sink are excluded.
func (w *Writer[T]) Inserted() int64 { return w.inserted.Load() }

// Failed returns items lost to failed batch writes.
func (w *Writer[T]) Failed() int64 { return w.failed.Load() }

// Batches returns the number of flushes attempted.
func (w *Writer[T]) Batches() int64 { return w.batches.Load() }

func (w *Writer[T]) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]T, 0, w.cfg.BatchSize)
	for {
		select {
		case item, ok := <-w.queue.items:
			if !ok {
				w.flush(ctx, batch)
				return
			}
			batch = append(batch, item)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(ctx, batch)
				batch = make([]T, 0, w.cfg.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = make([]T, 0, w.cfg.BatchSize)
			}
		}
	}
}

func (w *Writer[T]) flush(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}
	w.batches.Add(1)

	inserted, err := w.sink.WriteBatch(ctx, batch)
	if err != nil {
		w.failed.Add(int64(len(batch)))
		metrics.WriteFailures.WithLabelValues(w.queue.name).Add(float64(len(batch)))
		w.logger.Error("batch write failed", zap.Int("items", len(batch)), zap.Error(err))
		return
	}
	w.inserted.Add(int64(inserted))
	metrics.RecordsInserted.WithLabelValues(w.queue.name).Add(float64(inserted))
}

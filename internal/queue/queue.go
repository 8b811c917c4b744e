// Package queue joins a producer to a batch writer through a bounded FIFO.
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rpattn/apietl/internal/metrics"

	"go.uber.org/zap"
)

const (
	DefaultCapacity    = 1000
	DefaultPushTimeout = time.Second
)

// Queue is a bounded FIFO with a single consumer. Close is the shutdown sentinel:
// the consumer drains whatever is buffered and then stops.
type Queue[T any] struct {
	name        string
	items       chan T
	pushTimeout time.Duration
	logger      *zap.Logger

	closeOnce sync.Once
	dropped   atomic.Int64
}

// New creates a queue holding at most capacity items.
func New[T any](name string, capacity int, pushTimeout time.Duration, logger *zap.Logger) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if pushTimeout <= 0 {
		pushTimeout = DefaultPushTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue[T]{
		name:        name,
		items:       make(chan T, capacity),
		pushTimeout: pushTimeout,
		logger:      logger.Named("queue"),
	}
}

// Push enqueues item. When the queue is full it waits up to the push timeout;
// if space never frees up the item is dropped, logged and counted.
// Push must not be called after Close.
func (q *Queue[T]) Push(item T) bool {
	select {
	case q.items <- item:
		return true
	default:
	}

	timer := time.NewTimer(q.pushTimeout)
	defer timer.Stop()
	select {
	case q.items <- item:
		return true
	case <-timer.C:
	}

	q.dropped.Add(1)
	metrics.QueueDropped.WithLabelValues(q.name).Inc()
	q.logger.Warn("queue full, item dropped",
		zap.String("queue", q.name),
		zap.Int("capacity", cap(q.items)),
		zap.Int64("dropped", q.dropped.Load()),
	)
	return false
}

// Close signals that no more items will be pushed.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.items) })
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int { return len(q.items) }

// Dropped returns how many items were discarded because the queue stayed full.
func (q *Queue[T]) Dropped() int64 { return q.dropped.Load() }

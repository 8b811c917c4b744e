package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/apietl/internal/domain"
	"github.com/rpattn/apietl/internal/metrics"

	"golang.org/x/time/rate"
)

// Config bounds outbound request volume.
type Config struct {
	MaxPerSecond      float64
	DailyLimit        int
	QuotaPollInterval time.Duration
	Location          *time.Location
}

// DefaultConfig mirrors the limits agreed with the upstream API provider.
func DefaultConfig() Config {
	return Config{
		MaxPerSecond:      4,
		DailyLimit:        10000,
		QuotaPollInterval: 5 * time.Minute,
		Location:          time.Local,
	}
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the wall clock used for the daily window.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithStore keeps the daily counter in s so every process sharing the store
// draws from one quota.
func WithStore(s Store) Option {
	return func(l *Limiter) {
		l.store = s
	}
}

// Store persists daily usage keyed by the end of the window it belongs to.
// Reserve must check and increment atomically.
type Store interface {
	Reserve(ctx context.Context, window time.Time, limit int) (used int, ok bool, err error)
	Release(ctx context.Context, window time.Time) (used int, err error)
	Used(ctx context.Context, window time.Time) (int, error)
}

// Limiter enforces a per-second ceiling and a daily quota that resets at local midnight.
// It is safe for concurrent use and meant to be shared by every worker of a process.
type Limiter struct {
	perSecond  *rate.Limiter
	dailyLimit int
	poll       time.Duration
	loc        *time.Location
	now        func() time.Time
	store      Store

	mu      sync.Mutex
	used    int
	resetAt time.Time
}

// New builds a limiter from cfg, filling zero values from DefaultConfig.
func New(cfg Config, opts ...Option) *Limiter {
	defaults := DefaultConfig()
	if cfg.MaxPerSecond <= 0 {
		cfg.MaxPerSecond = defaults.MaxPerSecond
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = defaults.DailyLimit
	}
	if cfg.QuotaPollInterval <= 0 {
		cfg.QuotaPollInterval = defaults.QuotaPollInterval
	}
	if cfg.Location == nil {
		cfg.Location = defaults.Location
	}

	l := &Limiter{
		perSecond:  rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), 1),
		dailyLimit: cfg.DailyLimit,
		poll:       cfg.QuotaPollInterval,
		loc:        cfg.Location,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.resetAt = l.nextMidnight(l.now())
	return l
}

// Acquire blocks until a request is allowed by both limits and records it.
// While the daily quota is exhausted it sleeps in bounded increments and rechecks.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		window, wait, ok, err := l.reserve(ctx)
		if err != nil {
			return err
		}
		if ok {
			return l.pace(ctx, window)
		}
		if wait > l.poll {
			wait = l.poll
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire is Acquire without waiting on the daily quota: it returns
// domain.ErrRateLimitExceeded as soon as the quota is exhausted.
func (l *Limiter) TryAcquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	window, _, ok, err := l.reserve(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrRateLimitExceeded
	}
	return l.pace(ctx, window)
}

// Exhausted reports whether the daily quota is used up.
func (l *Limiter) Exhausted() bool {
	return l.Remaining() == 0
}

// Remaining returns the requests left in the current daily window.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(l.now())
	return max(l.dailyLimit-l.used, 0)
}

// Used returns the requests recorded in the current daily window.
func (l *Limiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(l.now())
	return l.used
}

// Limit returns the daily quota.
func (l *Limiter) Limit() int {
	return l.dailyLimit
}

// ResetAt returns when the current daily window ends.
func (l *Limiter) ResetAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(l.now())
	return l.resetAt
}

// Sync reloads the current window's usage from the store. Without a store
// it is a no-op.
func (l *Limiter) Sync(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	window := l.ResetAt()
	used, err := l.store.Used(ctx, window)
	if err != nil {
		return fmt.Errorf("failed to load daily usage: %w", err)
	}
	l.observe(window, used)
	return nil
}

func (l *Limiter) reserve(ctx context.Context) (time.Time, time.Duration, bool, error) {
	l.mu.Lock()
	now := l.now()
	l.rollover(now)
	window := l.resetAt
	if l.store == nil {
		defer l.mu.Unlock()
		if l.used >= l.dailyLimit {
			return window, window.Sub(now), false, nil
		}
		l.used++
		metrics.RateLimitDailyUsed.Set(float64(l.used))
		return window, 0, true, nil
	}
	l.mu.Unlock()

	used, ok, err := l.store.Reserve(ctx, window, l.dailyLimit)
	if err != nil {
		return window, 0, false, fmt.Errorf("failed to reserve daily quota: %w", err)
	}
	l.observe(window, used)
	if !ok {
		return window, window.Sub(now), false, nil
	}
	return window, 0, true, nil
}

func (l *Limiter) pace(ctx context.Context, window time.Time) error {
	if err := l.perSecond.Wait(ctx); err != nil {
		l.refund(ctx, window)
		return err
	}
	return nil
}

func (l *Limiter) refund(ctx context.Context, window time.Time) {
	if l.store != nil {
		used, err := l.store.Release(context.WithoutCancel(ctx), window)
		if err == nil {
			l.observe(window, used)
		}
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resetAt.Equal(window) && l.used > 0 {
		l.used--
		metrics.RateLimitDailyUsed.Set(float64(l.used))
	}
}

// observe records usage reported by the store for window, ignoring stale windows.
func (l *Limiter) observe(window time.Time, used int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.resetAt.Equal(window) {
		return
	}
	l.used = used
	metrics.RateLimitDailyUsed.Set(float64(used))
}

// rollover must be called with mu held.
func (l *Limiter) rollover(now time.Time) {
	if now.Before(l.resetAt) {
		return
	}
	l.used = 0
	l.resetAt = l.nextMidnight(now)
	metrics.RateLimitDailyUsed.Set(0)
}

func (l *Limiter) nextMidnight(now time.Time) time.Time {
	local := now.In(l.loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, l.loc)
}

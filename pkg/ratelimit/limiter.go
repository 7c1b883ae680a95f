package ratelimit

import (
	"context"
	"time"

	"github.com/curatorhq/curator/pkg/kv"
	"github.com/curatorhq/curator/pkg/observability"
)

// counterField is the single hash field backing each window counter.
const counterField = "count"

// Config defines the fixed-window budget.
type Config struct {
	// RequestsPerWindow is the budget each caller gets per window.
	RequestsPerWindow int

	// Window is the counting window. It arms on a caller's first request
	// and does not slide.
	Window time.Duration

	// FailOpen lets requests through when the store cannot answer.
	FailOpen bool
}

// DefaultConfig returns the default budget settings.
func DefaultConfig() Config {
	return Config{
		RequestsPerWindow: 300,
		Window:            time.Minute,
		FailOpen:          true,
	}
}

// Decision is the outcome of one budget check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int

	// RetryAfter is an upper bound on the wait until the window resets:
	// the command surface has no TTL introspection, so the full window
	// length stands in for the actual remainder.
	RetryAfter time.Duration
}

// Limiter counts requests in fixed windows shared through the store.
// While the store is degraded the counters ride the in-process engine,
// narrowing enforcement to the local replica until the remote is back.
type Limiter struct {
	store   *kv.Store
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewLimiter creates a limiter over the shared store. Zero config
// fields fall back to the defaults.
func NewLimiter(store *kv.Store, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Limiter {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = DefaultConfig().RequestsPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Limiter{
		store:   store,
		cfg:     cfg,
		logger:  logger.WithComponent("ratelimit"),
		metrics: metrics,
	}
}

func counterKey(key string) string {
	return "ratelimit:" + key
}

// Allow consumes one request from key's window budget. On store errors
// the decision follows FailOpen and the error is returned alongside it.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	counter := counterKey(key)

	count, err := l.store.HIncrBy(ctx, counter, counterField, 1)
	if err != nil {
		return Decision{
			Allowed:    l.cfg.FailOpen,
			Limit:      l.cfg.RequestsPerWindow,
			RetryAfter: l.cfg.Window,
		}, err
	}

	if count == 1 {
		if _, err := l.store.Expire(ctx, counter, l.cfg.Window); err != nil {
			// Never leave an immortal counter behind: drop it and let
			// the next request restart the window.
			l.logger.WithError(err).Warn("failed to arm window expiry")
			if _, delErr := l.store.Del(ctx, counter); delErr != nil {
				l.logger.WithError(delErr).Warn("failed to drop unarmed counter")
			}
		}
	}

	remaining := l.cfg.RequestsPerWindow - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:    count <= int64(l.cfg.RequestsPerWindow),
		Limit:      l.cfg.RequestsPerWindow,
		Remaining:  remaining,
		RetryAfter: l.cfg.Window,
	}, nil
}

// Reset clears key's current window.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	_, err := l.store.Del(ctx, counterKey(key))
	return err
}

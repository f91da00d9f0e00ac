package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for source guarding.
var (
	sourceErrorsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trademark_source_errors_remaining",
		Help: "Failure budget remaining in the current source window",
	})

	sourceBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trademark_source_blocks_total",
		Help: "Total number of fetches that waited for a window reset",
	})

	sourceThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trademark_source_throttles_total",
		Help: "Total number of fetches delayed because the source is degraded",
	})
)

// Config holds guard settings.
type Config struct {
	// ErrorBudget is the number of failures tolerated per window.
	ErrorBudget int

	// Window is the length of a failure window.
	Window time.Duration

	// ThrottleDelay is the pause applied in the warning band.
	ThrottleDelay time.Duration
}

// DefaultConfig returns the default guard configuration.
func DefaultConfig() Config {
	return Config{
		ErrorBudget:   DefaultErrorBudget,
		Window:        DefaultWindow,
		ThrottleDelay: 5 * time.Second,
	}
}

// Guard gates fetches on the shared source state.
type Guard struct {
	redis  *redis.Client
	config Config
	logger zerolog.Logger
}

// NewGuard creates a guard backed by Redis.
func NewGuard(redisClient *redis.Client, cfg Config, logger zerolog.Logger) *Guard {
	if cfg.ErrorBudget <= 0 {
		cfg.ErrorBudget = DefaultErrorBudget
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Guard{redis: redisClient, config: cfg, logger: logger}
}

// GetState retrieves the current source state from Redis.
// Returns a healthy state if no failures were recorded in the window.
func (g *Guard) GetState(ctx context.Context) (*SourceState, error) {
	failures, err := g.redis.Get(ctx, RedisKeyFailures).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get failures: %w", err)
	}

	ttl, err := g.redis.PTTL(ctx, RedisKeyFailures).Result()
	if err != nil {
		return nil, fmt.Errorf("get failures ttl: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}

	var lastUpdate time.Time
	lastUnix, err := g.redis.Get(ctx, RedisKeyLastUpdate).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	if lastUnix > 0 {
		lastUpdate = time.Unix(lastUnix, 0)
	}

	state := stateFor(g.config.ErrorBudget, failures, time.Now().Add(ttl), lastUpdate)
	return state, nil
}

func stateFor(budget, failures int, resetAt, lastUpdate time.Time) *SourceState {
	remaining := budget - failures
	if remaining < 0 {
		remaining = 0
	}
	state := &SourceState{
		ErrorsRemaining: remaining,
		ResetAt:         resetAt,
		LastUpdate:      lastUpdate,
	}
	state.UpdateHealth()
	return state
}

// RecordFailure counts one failed fetch in the shared window.
func (g *Guard) RecordFailure(ctx context.Context) error {
	now := time.Now()

	pipe := g.redis.TxPipeline()
	incr := pipe.Incr(ctx, RedisKeyFailures)
	pipe.ExpireNX(ctx, RedisKeyFailures, g.config.Window)
	pipe.Set(ctx, RedisKeyLastUpdate, now.Unix(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store source failure in redis: %w", err)
	}

	state := stateFor(g.config.ErrorBudget, int(incr.Val()), now.Add(g.config.Window), now)
	sourceErrorsRemaining.Set(float64(state.ErrorsRemaining))

	switch {
	case state.NeedsCriticalBlock():
		g.logger.Error().
			Int("errors_remaining", state.ErrorsRemaining).
			Msg("Source failure budget CRITICAL - fetches will wait for window reset")
	case state.NeedsThrottling():
		g.logger.Warn().
			Int("errors_remaining", state.ErrorsRemaining).
			Msg("Source failure budget WARNING - fetches will be throttled")
	default:
		g.logger.Debug().
			Int("errors_remaining", state.ErrorsRemaining).
			Msg("Source failure recorded")
	}

	return nil
}

// RecordSuccess refreshes the last update timestamp.
func (g *Guard) RecordSuccess(ctx context.Context) error {
	if err := g.redis.Set(ctx, RedisKeyLastUpdate, time.Now().Unix(), 0).Err(); err != nil {
		return fmt.Errorf("store source success in redis: %w", err)
	}
	return nil
}

// Wait blocks until a fetch may proceed. In the critical band it waits for
// the window reset; in the warning band it pauses for ThrottleDelay.
// It returns early with the context error when ctx is cancelled.
func (g *Guard) Wait(ctx context.Context) error {
	state, err := g.GetState(ctx)
	if err != nil {
		return fmt.Errorf("get source state: %w", err)
	}
	sourceErrorsRemaining.Set(float64(state.ErrorsRemaining))

	var delay time.Duration
	switch {
	case state.NeedsCriticalBlock():
		delay = state.TimeUntilReset()
		sourceBlocksTotal.Inc()
		g.logger.Error().
			Int("errors_remaining", state.ErrorsRemaining).
			Dur("wait_duration", delay).
			Msg("Source failure budget critical - waiting for window reset")
	case state.NeedsThrottling():
		delay = g.config.ThrottleDelay
		sourceThrottlesTotal.Inc()
		g.logger.Warn().
			Int("errors_remaining", state.ErrorsRemaining).
			Dur("delay", delay).
			Msg("Source failure budget warning - throttling fetch")
	default:
		return nil
	}

	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reset clears the shared state.
func (g *Guard) Reset(ctx context.Context) error {
	if err := g.redis.Del(ctx, RedisKeyFailures, RedisKeyLastUpdate).Err(); err != nil {
		return fmt.Errorf("reset source state: %w", err)
	}
	return nil
}

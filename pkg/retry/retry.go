// Package retry runs units of work with bounded attempts and exponential
// backoff plus jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trademark_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"operation"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trademark_retry_backoff_seconds",
		Help:    "Backoff duration for retries by operation",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trademark_retry_exhausted_total",
		Help: "Total number of units that exhausted their retry attempts by operation",
	}, []string{"operation"})
)

// Config holds the configuration for retry logic.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first one).
	MaxAttempts int

	// InitialBackoff is the wait after the first failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential part of the wait.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Jitter is the upper bound of the uniform random delay added to each wait.
	Jitter time.Duration
}

// DefaultConfig returns the default retry configuration: three attempts
// waiting 2^attempt seconds plus up to one second of jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            1 * time.Second,
	}
}

// Policy retries a unit of work according to Config.
type Policy struct {
	operation string
	config    Config
	logger    zerolog.Logger
}

// New creates a policy. operation labels logs and metrics
// (e.g. "partition", "lookup").
func New(operation string, cfg Config, logger zerolog.Logger) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}
	return &Policy{operation: operation, config: cfg, logger: logger}
}

// Config returns the effective configuration.
func (p *Policy) Config() Config {
	return p.config
}

// Backoff returns the wait before the attempt following the given failed
// attempt, without jitter.
func (p *Policy) Backoff(attempt int) time.Duration {
	d := float64(p.config.InitialBackoff) * math.Pow(p.config.BackoffMultiplier, float64(attempt-1))
	if p.config.MaxBackoff > 0 && d > float64(p.config.MaxBackoff) {
		return p.config.MaxBackoff
	}
	return time.Duration(d)
}

// Execute runs fn until it succeeds, returns a Permanent error, or the
// attempts run out. Exhaustion returns an error wrapping ErrRetryExhausted
// and the last failure; it never panics.
func (p *Policy) Execute(ctx context.Context, unit string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				p.logger.Info().
					Str("operation", p.operation).
					Str("unit", unit).
					Int("attempt", attempt).
					Msg("Unit succeeded after retry")
			}
			return nil
		}

		lastErr = err

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return permanent.err
		}

		if attempt >= p.config.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(p.operation).Inc()

		wait := p.Backoff(attempt)
		if p.config.Jitter > 0 {
			wait += time.Duration(rand.Float64() * float64(p.config.Jitter))
		}
		retryBackoffSeconds.WithLabelValues(p.operation).Observe(wait.Seconds())

		p.logger.Warn().
			Err(err).
			Str("operation", p.operation).
			Str("unit", unit).
			Int("attempt", attempt).
			Int("max_attempts", p.config.MaxAttempts).
			Dur("backoff", wait).
			Msg("Attempt failed, retrying after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Warn().
				Str("operation", p.operation).
				Str("unit", unit).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	retryExhaustedTotal.WithLabelValues(p.operation).Inc()
	p.logger.Error().
		Err(lastErr).
		Str("operation", p.operation).
		Str("unit", unit).
		Int("max_attempts", p.config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, p.config.MaxAttempts, lastErr)
}

// Do is Execute for functions that produce a value.
func Do[T any](ctx context.Context, p *Policy, unit string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Execute(ctx, unit, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

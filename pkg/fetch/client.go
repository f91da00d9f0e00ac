package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/TitoGod/scraping-colombia/pkg/partition"
)

// Prometheus metrics for registry fetches.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trademark_fetch_requests_total",
		Help: "Total registry fetches by kind and outcome",
	}, []string{"kind", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trademark_fetch_duration_seconds",
		Help:    "Registry fetch duration in seconds by kind",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"kind"})
)

// DefaultCapThreshold is the registry's hard result cap.
const DefaultCapThreshold = 2000

// Guard is the shared source health gate.
type Guard interface {
	Wait(ctx context.Context) error
	RecordFailure(ctx context.Context) error
	RecordSuccess(ctx context.Context) error
}

// Config holds the client configuration.
type Config struct {
	// CapThreshold is the result count at which a partition is capped.
	CapThreshold int

	// RequestsPerSecond paces fetches from this client; 0 disables pacing.
	RequestsPerSecond float64

	// Timeout bounds one partition fetch including pagination.
	Timeout time.Duration

	// LookupTimeout bounds one single-record lookup.
	LookupTimeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		CapThreshold:      DefaultCapThreshold,
		RequestsPerSecond: 0.5,
		Timeout:           30 * time.Minute,
		LookupTimeout:     3 * time.Minute,
	}
}

// Client decorates a transport with pacing, the shared source guard, cap
// enforcement and metrics.
type Client struct {
	transport Fetcher
	guard     Guard
	limiter   *rate.Limiter
	config    Config
	logger    zerolog.Logger
}

// NewClient wraps transport. guard may be nil.
func NewClient(transport Fetcher, guard Guard, cfg Config, logger zerolog.Logger) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.CapThreshold <= 0 {
		return nil, fmt.Errorf("cap_threshold must be > 0 (got %d)", cfg.CapThreshold)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		transport: transport,
		guard:     guard,
		limiter:   limiter,
		config:    cfg,
		logger:    logger,
	}, nil
}

// FetchPartition fetches one partition through the transport.
func (c *Client) FetchPartition(ctx context.Context, p partition.Partition) Result {
	return c.do(ctx, "partition", p.ID(), c.config.Timeout, func(ctx context.Context) Result {
		res := c.transport.FetchPartition(ctx, p)
		if res.Outcome == OK && len(res.Rows) >= c.config.CapThreshold {
			return Capped(len(res.Rows))
		}
		if res.Outcome == CapExceeded && res.Err == nil {
			res.Err = ErrCapExceeded
		}
		return res
	})
}

// FetchOne looks up a single record through the transport.
func (c *Client) FetchOne(ctx context.Context, requestNumber string) Result {
	return c.do(ctx, "lookup", requestNumber, c.config.LookupTimeout, func(ctx context.Context) Result {
		return c.transport.FetchOne(ctx, requestNumber)
	})
}

func (c *Client) do(ctx context.Context, kind, unit string, timeout time.Duration, fn func(ctx context.Context) Result) Result {
	start := time.Now()
	defer func() {
		fetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	if c.guard != nil {
		switch err := c.guard.Wait(ctx); {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			fetchRequestsTotal.WithLabelValues(kind, "guarded").Inc()
			return Failed(fmt.Errorf("source guard: %w", err))
		default:
			// Guard state is unreadable (Redis down): fetch unguarded.
			c.logger.Warn().Err(err).Str("unit", unit).Msg("Source guard unavailable, fetching without it")
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Failed(fmt.Errorf("rate limiter: %w", err))
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res := fn(callCtx)
	fetchRequestsTotal.WithLabelValues(kind, res.Outcome.String()).Inc()

	if c.guard != nil {
		var err error
		if res.Outcome == Error {
			err = c.guard.RecordFailure(ctx)
		} else {
			err = c.guard.RecordSuccess(ctx)
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("unit", unit).Msg("Failed to update source guard")
		}
	}

	event := c.logger.Debug()
	if res.Outcome == Error {
		event = c.logger.Warn().Err(res.Err)
	}
	event.
		Str("kind", kind).
		Str("unit", unit).
		Str("outcome", res.Outcome.String()).
		Int("rows", len(res.Rows)).
		Dur("duration", time.Since(start)).
		Msg("Fetch finished")

	return res
}

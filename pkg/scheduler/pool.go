package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/TitoGod/scraping-colombia/pkg/alert"
	"github.com/TitoGod/scraping-colombia/pkg/fetch"
	"github.com/TitoGod/scraping-colombia/pkg/partition"
	"github.com/TitoGod/scraping-colombia/pkg/record"
	"github.com/TitoGod/scraping-colombia/pkg/retry"
)

var (
	partitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trademark_partitions_total",
		Help: "Partitions processed by final outcome",
	}, []string{"mode", "outcome"})

	partitionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trademark_partitions_in_flight",
		Help: "Partitions currently being fetched in this process",
	})

	partitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trademark_partition_duration_seconds",
		Help:    "Time to process one partition including retries",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"mode"})
)

// Artifacts persists the rows of a completed partition.
type Artifacts interface {
	Write(id string, rows []record.RawEntry) (bool, error)
}

// PoolConfig holds inner-level settings.
type PoolConfig struct {
	// Concurrency bounds partitions in flight within one session.
	Concurrency int
}

// DefaultPoolConfig returns the default inner concurrency of 2.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Concurrency: 2}
}

// Pool fetches partitions over a single fetcher.
type Pool struct {
	fetcher   fetch.Fetcher
	artifacts Artifacts
	retry     *retry.Policy
	alerts    alert.Sink
	config    PoolConfig
	logger    zerolog.Logger
}

// NewPool creates an inner-level pool.
func NewPool(fetcher fetch.Fetcher, artifacts Artifacts, policy *retry.Policy, alerts alert.Sink, cfg PoolConfig, logger zerolog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if alerts == nil {
		alerts = alert.NewLog(logger)
	}
	return &Pool{
		fetcher:   fetcher,
		artifacts: artifacts,
		retry:     policy,
		alerts:    alerts,
		config:    cfg,
		logger:    logger,
	}
}

// Run processes parts with at most Concurrency in flight. Results are
// delivered in completion order; the channel is closed when every started
// partition has finished. Partitions not yet started when ctx is cancelled
// are reported as failed.
func (p *Pool) Run(ctx context.Context, parts []partition.Partition) <-chan PartitionResult {
	results := make(chan PartitionResult, len(parts))
	sem := semaphore.NewWeighted(int64(p.config.Concurrency))

	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(results)
		}()

		for i, part := range parts {
			if err := sem.Acquire(ctx, 1); err != nil {
				for _, rest := range parts[i:] {
					results <- PartitionResult{
						Partition: rest,
						Outcome:   fetch.Error,
						Err:       fmt.Errorf("%w: %v", retry.ErrContextCancelled, err),
					}
				}
				return
			}

			wg.Add(1)
			go func(part partition.Partition) {
				defer wg.Done()
				defer sem.Release(1)
				results <- p.process(ctx, part)
			}(part)
		}
	}()

	return results
}

// RunAll runs parts to completion and summarises them.
func (p *Pool) RunAll(ctx context.Context, parts []partition.Partition) Summary {
	start := time.Now()
	summary := Summary{Assigned: len(parts)}

	for r := range p.Run(ctx, parts) {
		summary.Add(r)
		done := summary.Fetched + summary.Empty + summary.Capped + summary.Failed
		if done%25 == 0 {
			p.logger.Info().
				Int("done", done).
				Int("total", len(parts)).
				Float64("progress_pct", float64(done)/float64(len(parts))*100).
				Msg("Partition progress")
		}
	}

	summary.Duration = time.Since(start)
	return summary
}

func (p *Pool) process(ctx context.Context, part partition.Partition) PartitionResult {
	partitionsInFlight.Inc()
	defer partitionsInFlight.Dec()

	id := part.ID()
	start := time.Now()
	out := PartitionResult{Partition: part}

	var res fetch.Result
	err := p.retry.Execute(ctx, id, func(ctx context.Context) error {
		out.Attempts++
		res = p.fetcher.FetchPartition(ctx, part)
		switch res.Outcome {
		case fetch.OK, fetch.Empty:
			return nil
		case fetch.CapExceeded:
			return retry.Permanent(res.AsError())
		default:
			return res.AsError()
		}
	})
	partitionDuration.WithLabelValues(string(part.Mode)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		out.Outcome = res.Outcome
		out.Rows = len(res.Rows)
		written, werr := p.artifacts.Write(id, res.Rows)
		if werr != nil {
			out.Outcome = fetch.Error
			out.Err = fmt.Errorf("write artifact %s: %w", id, werr)
			p.fail(ctx, out)
			break
		}
		out.Written = written
		p.logger.Info().
			Str("partition", id).
			Str("outcome", out.Outcome.String()).
			Int("rows", out.Rows).
			Bool("written", written).
			Msg("Partition checkpointed")

	case errors.Is(err, fetch.ErrCapExceeded):
		out.Outcome = fetch.CapExceeded
		out.Err = err
		p.logger.Warn().
			Str("partition", id).
			Int("count", res.Count).
			Msg("Partition exceeds the result cap; narrow it")
		p.alerts.Notify(ctx, alert.LevelWarning, fmt.Sprintf("partition %s exceeds the result cap", id), tags(part))

	default:
		out.Outcome = fetch.Error
		out.Err = err
		p.fail(ctx, out)
	}

	partitionsTotal.WithLabelValues(string(part.Mode), out.Outcome.String()).Inc()
	return out
}

func (p *Pool) fail(ctx context.Context, out PartitionResult) {
	p.logger.Error().
		Err(out.Err).
		Str("partition", out.Partition.ID()).
		Int("attempts", out.Attempts).
		Msg("Partition failed")
	p.alerts.Capture(ctx, out.Err, tags(out.Partition))
}

func tags(part partition.Partition) map[string]string {
	return map[string]string{
		"partition": part.ID(),
		"mode":      string(part.Mode),
	}
}

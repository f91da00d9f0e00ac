package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/TitoGod/scraping-colombia/pkg/alert"
	"github.com/TitoGod/scraping-colombia/pkg/fetch"
	"github.com/TitoGod/scraping-colombia/pkg/partition"
	"github.com/TitoGod/scraping-colombia/pkg/retry"
)

// Shard is one worker's slice of the run.
type Shard struct {
	Index int
	Count int
	Mode  partition.Mode
	AsOf  time.Time
	// Partitions is the worker's chunk of the full (unfiltered) plan.
	Partitions []partition.Partition
}

// ShardOf recomputes shard index of count for mode as of asOf. Planning is
// deterministic, so a worker process derives the same chunk as its parent.
func ShardOf(mode partition.Mode, asOf time.Time, index, count int) (Shard, error) {
	if count <= 0 || index < 0 || index >= count {
		return Shard{}, fmt.Errorf("invalid shard %d of %d", index, count)
	}
	chunks := partition.Split(partition.All(mode, asOf), count)
	return Shard{
		Index:      index,
		Count:      count,
		Mode:       mode,
		AsOf:       asOf,
		Partitions: chunks[index],
	}, nil
}

// Runner executes one shard.
type Runner interface {
	RunShard(ctx context.Context, shard Shard) (Summary, error)
}

// FetcherFactory opens a registry session scoped to one worker. The
// returned close function releases it.
type FetcherFactory func(ctx context.Context) (fetch.Fetcher, func() error, error)

// Worker runs a shard in the current process: it drops checkpointed
// partitions, opens one session and feeds the rest through a Pool.
type Worker struct {
	planner    *partition.Planner
	artifacts  Artifacts
	newFetcher FetcherFactory
	retry      *retry.Policy
	alerts     alert.Sink
	config     PoolConfig
	logger     zerolog.Logger
}

// NewWorker creates an in-process Runner.
func NewWorker(planner *partition.Planner, artifacts Artifacts, newFetcher FetcherFactory, policy *retry.Policy, alerts alert.Sink, cfg PoolConfig, logger zerolog.Logger) *Worker {
	return &Worker{
		planner:    planner,
		artifacts:  artifacts,
		newFetcher: newFetcher,
		retry:      policy,
		alerts:     alerts,
		config:     cfg,
		logger:     logger,
	}
}

// RunShard implements Runner.
func (w *Worker) RunShard(ctx context.Context, shard Shard) (Summary, error) {
	start := time.Now()
	summary := Summary{Shard: shard.Index, Shards: shard.Count, Assigned: len(shard.Partitions)}
	logger := w.logger.With().Int("shard", shard.Index).Str("mode", string(shard.Mode)).Logger()

	pending, err := w.planner.Pending(shard.Partitions)
	if err != nil {
		summary.Error = err.Error()
		return summary, fmt.Errorf("plan shard %d: %w", shard.Index, err)
	}
	summary.Skipped = len(shard.Partitions) - len(pending)

	if len(pending) == 0 {
		logger.Info().Int("skipped", summary.Skipped).Msg("Shard already checkpointed")
		summary.Duration = time.Since(start)
		return summary, nil
	}

	fetcher, closeFetcher, err := w.newFetcher(ctx)
	if err != nil {
		summary.Error = err.Error()
		return summary, fmt.Errorf("open session for shard %d: %w", shard.Index, err)
	}
	defer func() {
		if cerr := closeFetcher(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to close session")
		}
	}()

	logger.Info().
		Int("assigned", len(shard.Partitions)).
		Int("pending", len(pending)).
		Int("concurrency", w.config.Concurrency).
		Msg("Shard started")

	pool := NewPool(fetcher, w.artifacts, w.retry, w.alerts, w.config, logger)
	run := pool.RunAll(ctx, pending)

	summary.Fetched = run.Fetched
	summary.Empty = run.Empty
	summary.Capped = run.Capped
	summary.Failed = run.Failed
	summary.Rows = run.Rows
	summary.CappedIDs = run.CappedIDs
	summary.FailedIDs = run.FailedIDs
	summary.Duration = time.Since(start)

	logger.Info().
		Int("fetched", summary.Fetched).
		Int("empty", summary.Empty).
		Int("capped", summary.Capped).
		Int("failed", summary.Failed).
		Int("rows", summary.Rows).
		Dur("duration", summary.Duration).
		Msg("Shard finished")

	return summary, nil
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TitoGod/scraping-colombia/pkg/partition"
)

var shardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trademark_shards_total",
	Help: "Worker shards finished by status (ok, failed)",
}, []string{"mode", "status"})

// ErrShardFailed is returned by Dispatch when at least one worker failed.
var ErrShardFailed = errors.New("worker shard failed")

// Dispatcher splits a run into shards and executes them in parallel.
type Dispatcher struct {
	runner  Runner
	workers int
	logger  zerolog.Logger
}

// NewDispatcher creates an outer-level dispatcher running workers shards.
func NewDispatcher(runner Runner, workers int, logger zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{runner: runner, workers: workers, logger: logger}
}

// Dispatch runs every shard of the plan for mode as of asOf and waits for
// all of them. Summaries are indexed by shard. A failing shard is recorded
// in its summary and in the returned error; the other shards keep running.
func (d *Dispatcher) Dispatch(ctx context.Context, mode partition.Mode, asOf time.Time) ([]Summary, error) {
	chunks := partition.Split(partition.All(mode, asOf), d.workers)
	summaries := make([]Summary, len(chunks))
	errs := make([]error, len(chunks))

	d.logger.Info().
		Str("mode", string(mode)).
		Int("workers", len(chunks)).
		Str("as_of", asOf.Format(time.DateOnly)).
		Msg("Dispatching workers")

	// Plain Group: no shared cancellation between shards.
	var g errgroup.Group
	for i, chunk := range chunks {
		shard := Shard{Index: i, Count: len(chunks), Mode: mode, AsOf: asOf, Partitions: chunk}
		g.Go(func() error {
			summary, err := d.runner.RunShard(ctx, shard)
			summary.Shard = shard.Index
			summary.Shards = shard.Count
			if err != nil {
				if summary.Error == "" {
					summary.Error = err.Error()
				}
				errs[shard.Index] = fmt.Errorf("shard %d: %w", shard.Index, err)
				shardsTotal.WithLabelValues(string(mode), "failed").Inc()
				d.logger.Error().Err(err).Int("shard", shard.Index).Msg("Worker failed")
			} else {
				shardsTotal.WithLabelValues(string(mode), "ok").Inc()
			}
			summaries[shard.Index] = summary
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return summaries, fmt.Errorf("%w: %w", ErrShardFailed, err)
	}
	return summaries, nil
}

// Package pipeline runs one synchronization end to end: partitioned fetch,
// artifact apply, drift correction and report publication.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/TitoGod/scraping-colombia/pkg/alert"
	"github.com/TitoGod/scraping-colombia/pkg/checkpoint"
	"github.com/TitoGod/scraping-colombia/pkg/drift"
	"github.com/TitoGod/scraping-colombia/pkg/normalize"
	"github.com/TitoGod/scraping-colombia/pkg/partition"
	"github.com/TitoGod/scraping-colombia/pkg/record"
	"github.com/TitoGod/scraping-colombia/pkg/report"
	"github.com/TitoGod/scraping-colombia/pkg/retry"
	"github.com/TitoGod/scraping-colombia/pkg/scheduler"
	"github.com/TitoGod/scraping-colombia/pkg/store"
	"github.com/TitoGod/scraping-colombia/pkg/syncer"
)

var runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "trademark_run_duration_seconds",
	Help:    "Duration of pipeline stages",
	Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400, 28800},
}, []string{"stage"})

// ErrWorkspace is returned when the artifact or report directory cannot be
// created. It is the only fatal error of Run.
var ErrWorkspace = errors.New("workspace unavailable")

// ErrNoArtifacts is returned by RunDrift when no partition has been
// checkpointed, so every active record would count as missing.
var ErrNoArtifacts = errors.New("no artifacts to compare against")

var errNoLookups = errors.New("no lookup session configured")

// Options select what a run does.
type Options struct {
	Mode partition.Mode
	AsOf time.Time

	ReportsDir string

	// Incremental applies each artifact on its own instead of one batch.
	Incremental bool

	// CleanupArtifacts removes the artifact directory after a complete run.
	CleanupArtifacts bool

	Country          string
	DriftConcurrency int

	// FlushTimeout bounds the final alert flush.
	FlushTimeout time.Duration
}

// Deps are the collaborators of a run.
type Deps struct {
	Artifacts  *checkpoint.FS
	Dispatcher *scheduler.Dispatcher
	Store      store.Store
	Normalizer *normalize.Normalizer

	// Lookups opens the session used for drift lookups. It is only called
	// when some key is missing.
	Lookups     scheduler.FetcherFactory
	LookupRetry *retry.Policy
	Mapping     *record.StatusMapping
	LookupCache drift.LookupCache

	Reports report.Sink
	Alerts  alert.Sink
}

// Result summarises a run.
type Result struct {
	Fetch     scheduler.Summary
	Sync      syncer.Totals
	Drift     drift.Result
	Published []string
	Cleared   bool
	Duration  time.Duration

	// DriftSkipped is set when drift correction did not run because
	// nothing was checkpointed.
	DriftSkipped bool
}

// Pipeline wires the stages together.
type Pipeline struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
}

// New validates deps and fills defaults.
func New(deps Deps, opts Options, logger zerolog.Logger) (*Pipeline, error) {
	switch {
	case deps.Artifacts == nil:
		return nil, errors.New("artifact store is required")
	case deps.Store == nil:
		return nil, errors.New("record store is required")
	case deps.Normalizer == nil:
		return nil, errors.New("normalizer is required")
	}
	if deps.Reports == nil {
		deps.Reports = report.LocalSink{}
	}
	if deps.Alerts == nil {
		deps.Alerts = alert.NewLog(logger)
	}
	if deps.LookupRetry == nil {
		deps.LookupRetry = retry.New("lookup", retry.DefaultConfig(), logger)
	}
	if opts.ReportsDir == "" {
		opts.ReportsDir = "reports"
	}
	if opts.AsOf.IsZero() {
		opts.AsOf = time.Now()
	}
	opts.AsOf = partition.Day(opts.AsOf)
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 5 * time.Second
	}
	return &Pipeline{deps: deps, opts: opts, logger: logger}, nil
}

// Run executes every stage. Per-unit failures are reported in Result and
// through the alert sink; only workspace errors and cancellation are
// returned.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result
	defer p.deps.Alerts.Flush(p.opts.FlushTimeout)

	logger := p.logger.With().Str("mode", string(p.opts.Mode)).Logger()
	logger.Info().Str("as_of", p.opts.AsOf.Format(time.DateOnly)).Msg("Sync started")

	if err := p.ensureDirs(); err != nil {
		return res, err
	}

	if p.deps.Dispatcher == nil {
		return res, errors.New("dispatcher is required to fetch")
	}
	stage := time.Now()
	summaries, err := p.deps.Dispatcher.Dispatch(ctx, p.opts.Mode, p.opts.AsOf)
	runDuration.WithLabelValues("fetch").Observe(time.Since(stage).Seconds())
	res.Fetch = scheduler.Merge(summaries)
	if err != nil {
		logger.Error().Err(err).Msg("Some workers failed; continuing with checkpointed artifacts")
		p.deps.Alerts.Capture(ctx, err, map[string]string{"stage": "fetch", "mode": string(p.opts.Mode)})
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	logFetch(logger, res.Fetch)

	changePath, fetched, err := p.apply(ctx, &res)
	if err != nil {
		return res, err
	}

	switch {
	case p.opts.Mode != partition.ModeActive:
		logger.Info().Msg("Drift correction only runs for active syncs")
	case !p.hasArtifacts():
		res.DriftSkipped = true
		logger.Warn().Msg("No partition was checkpointed; skipping drift correction")
		p.deps.Alerts.Notify(ctx, alert.LevelWarning, "Drift correction skipped: no partition was checkpointed",
			map[string]string{"stage": "drift", "mode": string(p.opts.Mode)})
	default:
		stage = time.Now()
		res.Drift, err = p.correct(ctx, fetched)
		runDuration.WithLabelValues("drift").Observe(time.Since(stage).Seconds())
		if err != nil {
			logger.Error().Err(err).Msg("Drift correction failed")
			p.deps.Alerts.Capture(ctx, err, map[string]string{"stage": "drift"})
		}
	}

	res.Published = p.publish(ctx, changePath, res.Drift.ReportPath)

	if p.opts.CleanupArtifacts {
		if res.Fetch.Incomplete() {
			logger.Warn().
				Int("failed", res.Fetch.Failed).
				Int("capped", res.Fetch.Capped).
				Msg("Keeping artifacts for the next run")
		} else if err := p.deps.Artifacts.Clear(); err != nil {
			logger.Error().Err(err).Msg("Failed to clear artifacts")
		} else {
			res.Cleared = true
		}
	}

	res.Duration = time.Since(start)
	logger.Info().
		Int("inserted", res.Sync.Inserted).
		Int("updated", res.Sync.Updated).
		Int("corrected", res.Drift.Corrected).
		Int("missing", len(res.Drift.Missing)).
		Bool("incomplete", res.Fetch.Incomplete()).
		Bool("drift_skipped", res.DriftSkipped).
		Dur("duration", res.Duration).
		Msg("Sync finished")
	return res, ctx.Err()
}

// apply normalizes every artifact into the store and writes the change
// report. It returns the report path and the keys seen in the artifacts.
func (p *Pipeline) apply(ctx context.Context, res *Result) (string, map[string]struct{}, error) {
	stage := time.Now()
	defer func() { runDuration.WithLabelValues("apply").Observe(time.Since(stage).Seconds()) }()

	changes, err := report.NewChangeWriter(p.opts.ReportsDir, p.opts.AsOf)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrWorkspace, err)
	}

	applier := syncer.New(p.deps.Store, changes, p.deps.Alerts, p.logger)
	res.Sync, err = applier.ApplyArtifacts(ctx, p.deps.Artifacts, p.deps.Normalizer, p.opts.Incremental)
	if cerr := changes.Close(); cerr != nil {
		p.logger.Error().Err(cerr).Str("path", changes.Path()).Msg("Failed to close change report")
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return "", nil, fmt.Errorf("%w: %w", ErrWorkspace, err)
	}

	p.logger.Info().Int("rows", changes.Rows()).Str("path", changes.Path()).Msg("Change report written")
	return changes.Path(), applier.FetchedKeys(), nil
}

// RunDrift corrects drift against the keys of the current artifacts
// without fetching partitions.
func (p *Pipeline) RunDrift(ctx context.Context) (drift.Result, error) {
	defer p.deps.Alerts.Flush(p.opts.FlushTimeout)

	if err := p.ensureDirs(); err != nil {
		return drift.Result{}, err
	}
	if !p.hasArtifacts() {
		p.deps.Alerts.Notify(ctx, alert.LevelWarning, "Drift correction skipped: no partition was checkpointed",
			map[string]string{"stage": "drift"})
		return drift.Result{}, ErrNoArtifacts
	}
	fetched, err := p.deps.Artifacts.Keys(func(id string, err error) {
		p.logger.Warn().Err(err).Str("artifact", id).Msg("Skipping unreadable artifact")
	})
	if err != nil {
		return drift.Result{}, fmt.Errorf("%w: %w", ErrWorkspace, err)
	}

	res, err := p.correct(ctx, fetched)
	p.publish(ctx, res.ReportPath)
	return res, err
}

func (p *Pipeline) correct(ctx context.Context, fetched map[string]struct{}) (drift.Result, error) {
	lookup := &lazyLookup{open: p.deps.Lookups, logger: p.logger}
	defer lookup.Close()

	detector := drift.New(p.deps.Store, lookup, p.deps.LookupRetry, p.deps.Mapping,
		p.deps.LookupCache, p.deps.Alerts,
		drift.Config{
			Concurrency: p.opts.DriftConcurrency,
			ReportsDir:  p.opts.ReportsDir,
			Country:     p.opts.Country,
			RunID:       p.opts.AsOf.Format(time.DateOnly),
		}, p.logger)
	return detector.DetectAndCorrect(ctx, fetched)
}

// hasArtifacts reports whether some partition is checkpointed. An
// unreadable directory counts as empty.
func (p *Pipeline) hasArtifacts() bool {
	ids, err := p.deps.Artifacts.List()
	if err != nil {
		p.logger.Error().Err(err).Str("dir", p.deps.Artifacts.Dir()).Msg("Failed to list artifacts")
		return false
	}
	return len(ids) > 0
}

func (p *Pipeline) ensureDirs() error {
	for _, dir := range []string{p.deps.Artifacts.Dir(), p.opts.ReportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %w", ErrWorkspace, err)
		}
	}
	return nil
}

// publish hands each written report to the sink.
func (p *Pipeline) publish(ctx context.Context, files ...string) []string {
	var out []string
	for _, file := range files {
		if file == "" {
			continue
		}
		if _, err := os.Stat(file); err != nil {
			p.logger.Warn().Err(err).Str("file", file).Msg("Report not found, not publishing")
			continue
		}
		location, err := p.deps.Reports.Publish(ctx, file)
		if err != nil {
			p.logger.Error().Err(err).Str("file", file).Msg("Failed to publish report")
			p.deps.Alerts.Capture(ctx, err, map[string]string{"stage": "publish", "file": file})
			continue
		}
		out = append(out, location)
	}
	return out
}

func logFetch(logger zerolog.Logger, s scheduler.Summary) {
	event := logger.Info()
	if s.Incomplete() {
		event = logger.Warn().Strs("capped_ids", s.CappedIDs).Strs("failed_ids", s.FailedIDs)
	}
	event.
		Int("assigned", s.Assigned).
		Int("skipped", s.Skipped).
		Int("fetched", s.Fetched).
		Int("empty", s.Empty).
		Int("capped", s.Capped).
		Int("failed", s.Failed).
		Int("rows", s.Rows).
		Msg("Fetch finished")
}

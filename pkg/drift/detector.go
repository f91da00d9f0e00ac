// Package drift finds persisted active records that the partitioned fetch
// did not return and corrects their status with direct lookups.
//
// The bulk fetch is indexed by date and class, so a record whose indexing
// attributes changed can fall out of every partition. A lookup by request
// number is the only way to learn its current state.
package drift

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TitoGod/scraping-colombia/pkg/alert"
	"github.com/TitoGod/scraping-colombia/pkg/cache"
	"github.com/TitoGod/scraping-colombia/pkg/fetch"
	"github.com/TitoGod/scraping-colombia/pkg/record"
	"github.com/TitoGod/scraping-colombia/pkg/report"
	"github.com/TitoGod/scraping-colombia/pkg/retry"
	"github.com/TitoGod/scraping-colombia/pkg/store"
)

var (
	missingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trademark_drift_missing_records",
		Help: "Active records not returned by the last partitioned fetch",
	})

	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trademark_drift_lookups_total",
		Help: "Drift lookups by outcome (corrected, unmapped, not_found, failed)",
	}, []string{"outcome"})
)

// DefaultChunkSize is the number of status updates per store batch.
const DefaultChunkSize = 500

// Lookup fetches one record by request number.
type Lookup interface {
	FetchOne(ctx context.Context, requestNumber string) fetch.Result
}

// LookupCache stores lookup outcomes between runs.
type LookupCache interface {
	Get(ctx context.Context, key cache.LookupKey) (*cache.LookupEntry, error)
	Put(ctx context.Context, key cache.LookupKey, status string, found bool) error
}

// Config holds detector settings.
type Config struct {
	// Concurrency bounds lookups in flight.
	Concurrency int
	// ChunkSize bounds one UpdateStatusBatch call.
	ChunkSize int
	// ReportsDir receives missing_records.csv; empty disables the report.
	ReportsDir string
	Country    string
	// RunID scopes cached lookups to one run; a resumed run with the same
	// id reuses them.
	RunID      string
}

// Result summarises one detect-and-correct pass.
type Result struct {
	Missing    []string
	ReportPath string
	Corrected  int
	Unmapped   int
	NotFound   int
	Failed     int
	CacheHits  int
}

// Detector runs the correction loop.
type Detector struct {
	store   store.Store
	lookup  Lookup
	retry   *retry.Policy
	mapping *record.StatusMapping
	cache   LookupCache
	alerts  alert.Sink
	config  Config
	logger  zerolog.Logger

	// Now stamps corrections.
	Now func() time.Time
}

// New creates a detector. lookupCache may be nil.
func New(st store.Store, lookup Lookup, policy *retry.Policy, mapping *record.StatusMapping, lookupCache LookupCache, alerts alert.Sink, cfg Config, logger zerolog.Logger) *Detector {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if mapping == nil {
		mapping = record.DefaultStatusMapping()
	}
	if alerts == nil {
		alerts = alert.NewLog(logger)
	}
	return &Detector{
		store:   st,
		lookup:  lookup,
		retry:   policy,
		mapping: mapping,
		cache:   lookupCache,
		alerts:  alerts,
		config:  cfg,
		logger:  logger,
		Now:     time.Now,
	}
}

// Missing returns the persisted active keys absent from fetched, sorted.
func (d *Detector) Missing(ctx context.Context, fetched map[string]struct{}) ([]string, error) {
	active, err := d.store.FetchActiveKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch active keys: %w", err)
	}

	missing := make([]string, 0)
	for key := range active {
		if _, ok := fetched[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)

	missingRecords.Set(float64(len(missing)))
	return missing, nil
}

// DetectAndCorrect computes the missing set, writes the missing report and
// corrects every key whose current status maps.
func (d *Detector) DetectAndCorrect(ctx context.Context, fetched map[string]struct{}) (Result, error) {
	missing, err := d.Missing(ctx, fetched)
	if err != nil {
		return Result{}, err
	}

	res := Result{Missing: missing}
	if d.config.ReportsDir != "" {
		path, err := report.WriteMissing(d.config.ReportsDir, missing)
		if err != nil {
			d.logger.Error().Err(err).Msg("Failed to write missing report")
		} else {
			res.ReportPath = path
		}
	}

	if len(missing) == 0 {
		d.logger.Info().Msg("No drift: every active record was fetched")
		return res, nil
	}
	d.logger.Warn().Int("missing", len(missing)).Msg("Active records missing from the fetch")

	corrected, err := d.Correct(ctx, missing)
	corrected.Missing = res.Missing
	corrected.ReportPath = res.ReportPath
	return corrected, err
}

type lookupOutcome struct {
	update record.StatusUpdate
	ok     bool
	kind   string
	cached bool
}

// Correct looks up each key and applies the mapped statuses in chunks.
// Keys that fail, are not found or have unmapped statuses are skipped.
func (d *Detector) Correct(ctx context.Context, keys []string) (Result, error) {
	outcomes := make([]lookupOutcome, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.Concurrency)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			outcomes[i] = d.resolve(gctx, key)
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	updates := make([]record.StatusUpdate, 0, len(keys))
	for _, o := range outcomes {
		if o.cached {
			res.CacheHits++
		}
		switch o.kind {
		case "unmapped":
			res.Unmapped++
		case "not_found":
			res.NotFound++
		case "failed":
			res.Failed++
		}
		if o.ok {
			updates = append(updates, o.update)
		}
	}

	var errs []error
	for start := 0; start < len(updates); start += d.config.ChunkSize {
		end := min(start+d.config.ChunkSize, len(updates))
		chunk := updates[start:end]
		if err := d.store.UpdateStatusBatch(ctx, chunk); err != nil {
			res.Failed += len(chunk)
			lookupsTotal.WithLabelValues("failed").Add(float64(len(chunk)))
			d.logger.Error().Err(err).Int("records", len(chunk)).Msg("Status batch rolled back; continuing")
			d.alerts.Capture(ctx, err, map[string]string{"operation": "update_status"})
			errs = append(errs, err)
			continue
		}
		res.Corrected += len(chunk)
		lookupsTotal.WithLabelValues("corrected").Add(float64(len(chunk)))
	}

	d.logger.Info().
		Int("missing", len(keys)).
		Int("corrected", res.Corrected).
		Int("unmapped", res.Unmapped).
		Int("not_found", res.NotFound).
		Int("failed", res.Failed).
		Int("cache_hits", res.CacheHits).
		Msg("Drift correction finished")

	return res, errors.Join(errs...)
}

func (d *Detector) resolve(ctx context.Context, key string) lookupOutcome {
	raw, found, cached, err := d.currentStatus(ctx, key)
	if err != nil {
		lookupsTotal.WithLabelValues("failed").Inc()
		d.logger.Error().Err(err).Str("request_number", key).Msg("Lookup failed")
		d.alerts.Capture(ctx, err, map[string]string{"request_number": key, "operation": "lookup"})
		return lookupOutcome{kind: "failed"}
	}
	if !found || raw == "" {
		lookupsTotal.WithLabelValues("not_found").Inc()
		d.logger.Warn().Str("request_number", key).Msg("Lookup returned no status; skipping")
		return lookupOutcome{kind: "not_found", cached: cached}
	}

	status, ok := d.mapping.Lookup(raw)
	if !ok {
		lookupsTotal.WithLabelValues("unmapped").Inc()
		d.logger.Warn().Str("request_number", key).Str("status", raw).Msg("Status has no canonical mapping; skipping")
		return lookupOutcome{kind: "unmapped", cached: cached}
	}

	return lookupOutcome{
		ok:     true,
		cached: cached,
		update: record.StatusUpdate{RequestNumber: key, Status: status, UpdatedAt: d.Now().UTC()},
	}
}

// currentStatus returns the raw status text of key, consulting the cache
// before the registry.
func (d *Detector) currentStatus(ctx context.Context, key string) (status string, found, cached bool, err error) {
	cacheKey := cache.LookupKey{Country: d.config.Country, Run: d.config.RunID, RequestNumber: key}
	if d.cache != nil {
		// Only found statuses are trusted; a miss is always looked up again.
		if entry, err := d.cache.Get(ctx, cacheKey); err == nil && entry.Found && entry.Status != "" {
			return entry.Status, true, true, nil
		}
	}

	res, err := retry.Do(ctx, d.retry, key, func(ctx context.Context) (fetch.Result, error) {
		res := d.lookup.FetchOne(ctx, key)
		switch res.Outcome {
		case fetch.OK, fetch.Empty:
			return res, nil
		case fetch.CapExceeded:
			return res, retry.Permanent(res.AsError())
		default:
			return res, res.AsError()
		}
	})
	if err != nil {
		return "", false, false, err
	}

	if res.Outcome == fetch.OK && len(res.Rows) > 0 {
		status, found = res.Rows[0].Status, true
	}
	if d.cache != nil && found && status != "" {
		if err := d.cache.Put(ctx, cacheKey, status, found); err != nil {
			d.logger.Debug().Err(err).Str("request_number", key).Msg("Failed to cache lookup")
		}
	}
	return status, found, false, nil
}

// Package syncer applies normalized batches to the store: it diffs each
// batch against the persisted rows, writes inserts and updates as two
// batched operations and streams the change report.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/TitoGod/scraping-colombia/pkg/alert"
	"github.com/TitoGod/scraping-colombia/pkg/diff"
	"github.com/TitoGod/scraping-colombia/pkg/normalize"
	"github.com/TitoGod/scraping-colombia/pkg/record"
	"github.com/TitoGod/scraping-colombia/pkg/store"
)

var syncRecords = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trademark_sync_records_total",
	Help: "Records processed by the sync applier by action (inserted, updated, unchanged, failed, duplicate)",
}, []string{"action"})

// ChangeSink receives the change entries of each applied batch.
type ChangeSink interface {
	Write(changes []diff.Change) error
}

// Totals are the running counts of a run.
type Totals struct {
	Batches    int
	Normalize  normalize.Stats
	Inserted   int
	Updated    int
	Unchanged  int
	Duplicates int
	// Failed counts records in batches that were rolled back.
	Failed        int
	FailedBatches int
}

// Applier diffs and persists batches. It remembers every key it has seen in
// the run; the first occurrence of a key wins.
type Applier struct {
	store   store.Store
	engine  *diff.Engine
	changes ChangeSink
	alerts  alert.Sink
	logger  zerolog.Logger

	mu     sync.Mutex
	seen   map[string]struct{}
	totals Totals
}

// New creates an applier. changes may be nil.
func New(st store.Store, changes ChangeSink, alerts alert.Sink, logger zerolog.Logger) *Applier {
	if alerts == nil {
		alerts = alert.NewLog(logger)
	}
	return &Applier{
		store:   st,
		engine:  diff.New(record.ComparedFields...),
		changes: changes,
		alerts:  alerts,
		logger:  logger,
		seen:    make(map[string]struct{}),
	}
}

// Apply diffs records against the store and persists the result. A failed
// write is logged, alerted and returned wrapping store.ErrPersistence; the
// other write of the batch is still attempted.
func (a *Applier) Apply(ctx context.Context, records []record.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	fresh, dups := a.claim(records)
	a.totals.Duplicates += dups
	syncRecords.WithLabelValues("duplicate").Add(float64(dups))
	if len(fresh) == 0 {
		return nil
	}
	a.totals.Batches++

	keys := make([]string, len(fresh))
	for i, r := range fresh {
		keys[i] = r.Key()
	}

	existing, err := a.store.FetchByKeys(ctx, keys)
	if err != nil {
		a.fail(ctx, "read", len(fresh), err)
		return fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}

	persisted := make(map[string]record.Record, len(existing))
	existingRows := make([]diff.Row, len(existing))
	for i, r := range existing {
		persisted[r.Key()] = r
		existingRows[i] = diff.Row{Key: r.Key(), Fields: r.Fields()}
	}

	byKey := make(map[string]record.Record, len(fresh))
	freshRows := make([]diff.Row, len(fresh))
	for i, r := range fresh {
		byKey[r.Key()] = r
		freshRows[i] = diff.Row{Key: r.Key(), Fields: compareFields(r)}
	}

	res := a.engine.Diff(freshRows, existingRows)

	if a.changes != nil {
		if err := a.changes.Write(res.Changes); err != nil {
			a.logger.Error().Err(err).Msg("Failed to write change report entries")
		}
	}

	inserts := make([]record.Record, 0, len(res.Insert))
	for _, row := range res.Insert {
		inserts = append(inserts, byKey[row.Key])
	}
	updates := make([]record.Record, 0, len(res.Update))
	for _, row := range res.Update {
		r := byKey[row.Key]
		if !r.StatusMapped {
			r.Status = persisted[row.Key].Status
			r.StatusMapped = true
		}
		updates = append(updates, r)
	}

	a.totals.Unchanged += res.Unchanged
	syncRecords.WithLabelValues("unchanged").Add(float64(res.Unchanged))

	var errs []error
	if err := a.store.InsertBatch(ctx, inserts); err != nil {
		a.fail(ctx, "insert", len(inserts), err)
		errs = append(errs, err)
	} else {
		a.totals.Inserted += len(inserts)
		syncRecords.WithLabelValues("inserted").Add(float64(len(inserts)))
	}
	if err := a.store.UpdateBatch(ctx, updates); err != nil {
		a.fail(ctx, "update", len(updates), err)
		errs = append(errs, err)
	} else {
		a.totals.Updated += len(updates)
		syncRecords.WithLabelValues("updated").Add(float64(len(updates)))
	}

	a.logger.Debug().
		Int("records", len(fresh)).
		Int("inserted", len(inserts)).
		Int("updated", len(updates)).
		Int("unchanged", res.Unchanged).
		Msg("Batch applied")

	return errors.Join(errs...)
}

// claim drops records whose key was already seen in this run or earlier in
// the same batch.
func (a *Applier) claim(records []record.Record) ([]record.Record, int) {
	out := make([]record.Record, 0, len(records))
	dups := 0
	for _, r := range records {
		if _, ok := a.seen[r.Key()]; ok {
			dups++
			continue
		}
		a.seen[r.Key()] = struct{}{}
		out = append(out, r)
	}
	return out, dups
}

// compareFields returns the compared fields of r. An unmapped status is left
// out so that it never replaces a persisted status.
func compareFields(r record.Record) map[string]any {
	fields := r.Fields()
	if !r.StatusMapped {
		delete(fields, record.FieldStatus)
	}
	return fields
}

func (a *Applier) fail(ctx context.Context, operation string, n int, err error) {
	a.totals.Failed += n
	a.totals.FailedBatches++
	syncRecords.WithLabelValues("failed").Add(float64(n))

	a.logger.Error().
		Err(err).
		Str("operation", operation).
		Int("records", n).
		Msg("Batch rolled back; continuing")
	a.alerts.Capture(ctx, err, map[string]string{"operation": operation})
}

// Totals returns the running totals.
func (a *Applier) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}

// FetchedKeys returns every key seen in this run.
func (a *Applier) FetchedKeys() map[string]struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]struct{}, len(a.seen))
	for k := range a.seen {
		out[k] = struct{}{}
	}
	return out
}

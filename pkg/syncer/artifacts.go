package syncer

import (
	"context"
	"errors"

	"github.com/TitoGod/scraping-colombia/pkg/normalize"
	"github.com/TitoGod/scraping-colombia/pkg/record"
)

// Artifacts lists and reads checkpointed partitions.
type Artifacts interface {
	List() ([]string, error)
	Read(id string) ([]record.RawEntry, error)
}

// ApplyArtifacts normalizes and applies every artifact. In incremental mode
// each artifact is applied on its own as soon as it is read; otherwise all
// artifacts are combined into a single batch. Unreadable artifacts and
// failed batches are logged and skipped. The returned error is only set
// when the artifacts cannot be listed or ctx is done.
func (a *Applier) ApplyArtifacts(ctx context.Context, artifacts Artifacts, normalizer *normalize.Normalizer, incremental bool) (Totals, error) {
	ids, err := artifacts.List()
	if err != nil {
		return a.Totals(), err
	}

	a.logger.Info().
		Int("artifacts", len(ids)).
		Bool("incremental", incremental).
		Msg("Applying artifacts")

	var all []record.RawEntry
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return a.Totals(), err
		}

		raws, err := artifacts.Read(id)
		if err != nil {
			a.logger.Warn().Err(err).Str("artifact", id).Msg("Skipping unreadable artifact")
			continue
		}

		if !incremental {
			all = append(all, raws...)
			continue
		}
		a.applyRaw(ctx, id, raws, normalizer)
	}

	if !incremental {
		a.applyRaw(ctx, "all", all, normalizer)
	}

	totals := a.Totals()
	a.logger.Info().
		Int("inserted", totals.Inserted).
		Int("updated", totals.Updated).
		Int("unchanged", totals.Unchanged).
		Int("duplicates", totals.Duplicates).
		Int("rejected", totals.Normalize.Rejected).
		Int("unmapped", totals.Normalize.Unmapped).
		Int("failed", totals.Failed).
		Msg("Artifacts applied")
	return totals, nil
}

func (a *Applier) applyRaw(ctx context.Context, id string, raws []record.RawEntry, normalizer *normalize.Normalizer) {
	records, stats := normalizer.NormalizeAll(raws)

	a.mu.Lock()
	a.totals.Normalize.Add(stats)
	a.mu.Unlock()

	if err := a.Apply(ctx, records); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		a.logger.Warn().Err(err).Str("artifact", id).Msg("Artifact applied with errors")
	}
}

package scheduler

import (
	"time"

	"github.com/TitoGod/scraping-colombia/pkg/fetch"
	"github.com/TitoGod/scraping-colombia/pkg/partition"
)

// PartitionResult is the outcome of one partition after retries.
type PartitionResult struct {
	Partition partition.Partition
	Outcome   fetch.Outcome
	Rows      int
	Attempts  int
	// Written is false when the artifact already existed.
	Written bool
	Err     error
}

// Summary aggregates the results of one shard. It is printed as JSON by a
// worker process and parsed by the ProcessRunner.
type Summary struct {
	Shard     int           `json:"shard"`
	Shards    int           `json:"shards"`
	Assigned  int           `json:"assigned"`
	Skipped   int           `json:"skipped"`
	Fetched   int           `json:"fetched"`
	Empty     int           `json:"empty"`
	Capped    int           `json:"capped"`
	Failed    int           `json:"failed"`
	Rows      int           `json:"rows"`
	CappedIDs []string      `json:"capped_ids,omitempty"`
	FailedIDs []string      `json:"failed_ids,omitempty"`
	Duration  time.Duration `json:"duration"`
	// Error is set when the worker itself failed (startup, timeout).
	Error string `json:"error,omitempty"`
}

// Add folds a partition result into the summary.
func (s *Summary) Add(r PartitionResult) {
	switch r.Outcome {
	case fetch.OK:
		s.Fetched++
		s.Rows += r.Rows
	case fetch.Empty:
		s.Empty++
	case fetch.CapExceeded:
		s.Capped++
		s.CappedIDs = append(s.CappedIDs, r.Partition.ID())
	default:
		s.Failed++
		s.FailedIDs = append(s.FailedIDs, r.Partition.ID())
	}
}

// Incomplete reports whether some assigned partition has no artifact.
func (s Summary) Incomplete() bool {
	return s.Error != "" || s.Failed > 0 || s.Capped > 0
}

// Merge combines per-shard summaries into a run total.
func Merge(summaries []Summary) Summary {
	total := Summary{Shard: -1, Shards: len(summaries)}
	for _, s := range summaries {
		total.Assigned += s.Assigned
		total.Skipped += s.Skipped
		total.Fetched += s.Fetched
		total.Empty += s.Empty
		total.Capped += s.Capped
		total.Failed += s.Failed
		total.Rows += s.Rows
		total.CappedIDs = append(total.CappedIDs, s.CappedIDs...)
		total.FailedIDs = append(total.FailedIDs, s.FailedIDs...)
		if s.Duration > total.Duration {
			total.Duration = s.Duration
		}
		if s.Error != "" && total.Error == "" {
			total.Error = s.Error
		}
	}
	return total
}

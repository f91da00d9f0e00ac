package partition

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var partitionsPlanned = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "trademark_partitions_planned",
	Help: "Partitions planned for the current run by state (pending, checkpointed)",
}, []string{"mode", "state"})

// Checkpoints reports which partitions already have an artifact.
type Checkpoints interface {
	Exists(id string) (bool, error)
}

// Planner enumerates partitions and filters out the checkpointed ones.
type Planner struct {
	checkpoints Checkpoints
	logger      zerolog.Logger
}

// NewPlanner creates a planner backed by a checkpoint store.
func NewPlanner(checkpoints Checkpoints, logger zerolog.Logger) *Planner {
	return &Planner{checkpoints: checkpoints, logger: logger}
}

// All returns every partition for mode as of the given date: the Nice class
// partitions first, then the date partitions in chronological order.
func All(mode Mode, asOf time.Time) []Partition {
	parts := Categories(mode)
	return append(parts, ScheduleFor(mode).Partitions(mode, asOf)...)
}

// Plan returns the partitions of mode that still need fetching.
func (p *Planner) Plan(mode Mode, asOf time.Time) ([]Partition, error) {
	return p.Pending(All(mode, asOf))
}

// Pending drops partitions whose artifact already exists, keeping order.
func (p *Planner) Pending(parts []Partition) ([]Partition, error) {
	pending := make([]Partition, 0, len(parts))
	done := 0

	for _, part := range parts {
		exists, err := p.checkpoints.Exists(part.ID())
		if err != nil {
			return nil, err
		}
		if exists {
			done++
			continue
		}
		pending = append(pending, part)
	}

	if len(parts) > 0 {
		mode := string(parts[0].Mode)
		partitionsPlanned.WithLabelValues(mode, "pending").Set(float64(len(pending)))
		partitionsPlanned.WithLabelValues(mode, "checkpointed").Set(float64(done))
	}

	p.logger.Info().
		Int("total", len(parts)).
		Int("checkpointed", done).
		Int("pending", len(pending)).
		Msg("Partitions planned")

	return pending, nil
}

// Split divides parts into n contiguous, disjoint chunks whose sizes differ
// by at most one. Chunks keep the input order; empty chunks are returned
// when there are fewer partitions than workers.
func Split(parts []Partition, n int) [][]Partition {
	if n <= 0 {
		n = 1
	}
	chunks := make([][]Partition, n)
	size, extra := len(parts)/n, len(parts)%n

	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		chunks[i] = parts[start:end:end]
		start = end
	}

	return chunks
}

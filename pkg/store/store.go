// Package store persists trademark records.
package store

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TitoGod/scraping-colombia/pkg/record"
)

// ErrPersistence wraps every failed write. The batch that produced it was
// rolled back as a whole.
var ErrPersistence = errors.New("persistence error")

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trademark_store_operations_total",
		Help: "Store operations by operation and status (success, error)",
	}, []string{"operation", "status"})

	rowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trademark_store_rows_written_total",
		Help: "Rows committed by operation",
	}, []string{"operation"})
)

// Store is the persisted side of the sync.
type Store interface {
	// FetchActiveKeys returns the keys whose persisted status is active.
	FetchActiveKeys(ctx context.Context) (map[string]struct{}, error)
	// FetchByKeys returns the persisted records among keys.
	FetchByKeys(ctx context.Context, keys []string) ([]record.Record, error)
	// InsertBatch inserts new records in one transaction.
	InsertBatch(ctx context.Context, records []record.Record) error
	// UpdateBatch overwrites the compared columns of existing records in
	// one transaction.
	UpdateBatch(ctx context.Context, records []record.Record) error
	// UpdateStatusBatch sets status and updated_at in one transaction.
	UpdateStatusBatch(ctx context.Context, updates []record.StatusUpdate) error
}

func observe(operation string, n int, err error) {
	if err != nil {
		operationsTotal.WithLabelValues(operation, "error").Inc()
		return
	}
	operationsTotal.WithLabelValues(operation, "success").Inc()
	rowsWritten.WithLabelValues(operation).Add(float64(n))
}

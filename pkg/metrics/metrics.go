// Package metrics exposes the Prometheus registry of the sync job.
// All metrics are defined in their respective packages (fetch, scheduler,
// store, drift, ...) to maintain modularity and avoid circular dependencies.
//
// This package serves them over HTTP and documents every metric.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the sync job.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics handler of the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server exposes /metrics for the lifetime of a run.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// Listen binds addr. Serve must be called to start answering.
func Listen(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve answers requests until Shutdown.
func (s *Server) Serve() {
	s.logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error().Err(err).Msg("Metrics server stopped")
	}
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Metrics Documentation
//
// Fetch Metrics (pkg/fetch):
//   - trademark_fetch_requests_total{kind, outcome} (Counter): Registry fetches by kind (partition, lookup) and outcome
//   - trademark_fetch_duration_seconds{kind} (Histogram): Registry fetch duration
//
// Retry Metrics (pkg/retry):
//   - trademark_retries_total{operation} (Counter): Retry attempts by operation
//   - trademark_retry_backoff_seconds{operation} (Histogram): Backoff duration by operation
//   - trademark_retry_exhausted_total{operation} (Counter): Units that exhausted their attempts
//
// Source Guard Metrics (pkg/ratelimit):
//   - trademark_source_errors_remaining (Gauge): Failure budget left in the shared window
//   - trademark_source_blocks_total (Counter): Fetches that waited for a window reset
//   - trademark_source_throttles_total (Counter): Fetches delayed while the source is degraded
//
// Lookup Cache Metrics (pkg/cache):
//   - trademark_lookup_cache_hits_total (Counter): Drift lookups answered from Redis
//   - trademark_lookup_cache_misses_total (Counter): Drift lookups sent to the registry
//   - trademark_lookup_cache_errors_total{operation} (Counter): Cache operation errors
//
// Planning and Scheduling Metrics (pkg/partition, pkg/scheduler):
//   - trademark_partitions_planned{mode, state} (Gauge): Pending and checkpointed partitions
//   - trademark_partitions_total{mode, outcome} (Counter): Partitions by final outcome
//   - trademark_partitions_in_flight (Gauge): Partitions being fetched in this process
//   - trademark_partition_duration_seconds{mode} (Histogram): Partition time including retries
//   - trademark_shards_total{mode, status} (Counter): Worker shards by status
//
// Normalization and Sync Metrics (pkg/normalize, pkg/syncer, pkg/store):
//   - trademark_records_normalized_total (Counter): Raw entries normalized
//   - trademark_records_rejected_total (Counter): Raw entries without a request number
//   - trademark_unmapped_status_total (Counter): Records with an unmapped status
//   - trademark_sync_records_total{action} (Counter): Records inserted, updated, unchanged, failed or duplicate
//   - trademark_store_operations_total{operation, status} (Counter): Store calls by outcome
//   - trademark_store_rows_written_total{operation} (Counter): Rows committed
//
// Drift Metrics (pkg/drift):
//   - trademark_drift_missing_records (Gauge): Active records absent from the last fetch
//   - trademark_drift_lookups_total{outcome} (Counter): Lookups by outcome (corrected, unmapped, not_found, failed)
//
// Run Metrics (pkg/pipeline, pkg/report):
//   - trademark_run_duration_seconds{stage} (Histogram): Duration of fetch, apply and drift
//   - trademark_reports_published_total{sink, status} (Counter): Reports published
//
// Example Prometheus Queries:
//
//   # Partition failure rate
//   sum(rate(trademark_partitions_total{outcome="error"}[1h])) /
//   sum(rate(trademark_partitions_total[1h]))
//
//   # Partitions needing manual draining
//   trademark_partitions_total{outcome="cap_exceeded"}
//
//   # Source degraded
//   trademark_source_errors_remaining < 5
//
//   # P95 partition latency
//   histogram_quantile(0.95, rate(trademark_partition_duration_seconds_bucket[1h]))
//
//   # Lookup cache hit rate
//   sum(rate(trademark_lookup_cache_hits_total[1h])) /
//   (sum(rate(trademark_lookup_cache_hits_total[1h])) + sum(rate(trademark_lookup_cache_misses_total[1h])))

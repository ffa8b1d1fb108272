// Package metrics exposes import pipeline counters in Prometheus format.
//
// The process is short-lived, so counters are written to a textfile for a
// node exporter to pick up rather than served over HTTP.
package metrics

import (
	"log/slog"

	"github.com/fly-io/poolimport/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resume outcome label values.
const (
	OutcomeNoPending       = "no_pending_import"
	OutcomeRecovered       = "recovered"
	OutcomeFlagWithoutData = "flag_without_data"
	OutcomeWriterFailure   = "writer_failure"
)

var (
	ImportsStaged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolimport",
		Name:      "imports_staged_total",
		Help:      "Candidate images staged for the next boot.",
	})

	ImportsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolimport",
		Name:      "imports_rejected_total",
		Help:      "Candidate images rejected before staging, by reason.",
	}, []string{"reason"})

	ResumeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolimport",
		Name:      "resume_outcomes_total",
		Help:      "Boot-time resume attempts, by outcome.",
	}, []string{"outcome"})

	PoolBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolimport",
		Name:      "pool_bytes_written_total",
		Help:      "Database bytes written into the pool.",
	})

	CapacityMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolimport",
		Name:      "pool_capacity_mismatches_total",
		Help:      "Boots where the on-disk pool size differed from the configured capacity.",
	})
)

// WriteTextfile dumps the default registry to path. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		slog.Error("metrics_write_failed", "path", path, "error", err)
		return errors.Wrap(err, "failed to write metrics textfile")
	}
	slog.Info("metrics_written", "path", path)
	return nil
}

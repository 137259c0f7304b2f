// Package metrics exposes Prometheus instrumentation for the reconciliation pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "certrecon"

type metrics struct {
	batchesTotal   *prometheus.CounterVec
	batchDuration  *prometheus.HistogramVec
	rowsTotal      *prometheus.CounterVec
	snapshotsTotal *prometheus.CounterVec
	snapshotRows   *prometheus.CounterVec
	restoresTotal  *prometheus.CounterVec
	undoTotal      *prometheus.CounterVec
	matchesTotal   *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		batchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of upload batches by terminal status.",
		}, []string{"status"}),
		batchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time spent ingesting one upload batch.",
			Buckets: []float64{
				0.01, 0.05,
				0.1, 0.25, 0.5,
				1, 2.5, 5, 10,
				30, 60, 120,
			},
		}, []string{"status"}),
		rowsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Total number of input rows by logged action.",
		}, []string{"action"}),
		snapshotsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_snapshots_total",
			Help:      "Total number of backup snapshot attempts by result.",
		}, []string{"result"}),
		snapshotRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_rows_total",
			Help:      "Total number of live rows copied into backup snapshots.",
		}, []string{"entity"}),
		restoresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restores_total",
			Help:      "Total number of snapshot restores by status.",
		}, []string{"status"}),
		undoTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "undo_total",
			Help:      "Total number of undo requests by result.",
		}, []string{"result"}),
		matchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "organization_matches_total",
			Help:      "Total number of organization match classifications.",
		}, []string{"match_type"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

// ObserveBatch records a finished batch.
func ObserveBatch(status string, elapsed time.Duration) {
	m := getMetrics()
	m.batchesTotal.WithLabelValues(status).Inc()
	m.batchDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ObserveRows adds n rows logged with the given action.
func ObserveRows(action string, n int) {
	if n <= 0 {
		return
	}
	getMetrics().rowsTotal.WithLabelValues(action).Add(float64(n))
}

// ObserveSnapshot records a snapshot attempt and the rows it copied.
func ObserveSnapshot(result string, orgRows, productRows int) {
	m := getMetrics()
	m.snapshotsTotal.WithLabelValues(result).Inc()
	if orgRows > 0 {
		m.snapshotRows.WithLabelValues("organization").Add(float64(orgRows))
	}
	if productRows > 0 {
		m.snapshotRows.WithLabelValues("product").Add(float64(productRows))
	}
}

// ObserveRestore records a restore run.
func ObserveRestore(status string) {
	getMetrics().restoresTotal.WithLabelValues(status).Inc()
}

// ObserveUndo records an undo request outcome.
func ObserveUndo(result string) {
	getMetrics().undoTotal.WithLabelValues(result).Inc()
}

// ObserveMatch records one organization match classification.
func ObserveMatch(matchType string) {
	getMetrics().matchesTotal.WithLabelValues(matchType).Inc()
}

package metrics

import (
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type gcMetrics struct {
	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram
	deleted     prometheus.Counter
	failed      prometheus.Counter
	ledgerSize  prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// NewGCMetrics creates Prometheus-backed collector metrics, or returns nil
// when metrics are disabled.
func NewGCMetrics() gc.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newGCMetrics(GetRegistry())
}

func newGCMetrics(reg prometheus.Registerer) *gcMetrics {
	return &gcMetrics{
		runsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "runs_total",
				Help:      "Orphan collection runs by status",
			},
			[]string{"status"},
		),
		runDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "run_duration_seconds",
				Help:      "Duration of orphan collection runs",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
			},
		),
		deleted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "objects_deleted_total",
				Help:      "Orphaned objects deleted, ledger entries included",
			},
		),
		failed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "objects_failed_total",
				Help:      "Orphaned objects that could not be deleted",
			},
		),
		ledgerSize: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "ledger_orphans",
				Help:      "Orphans reported by uploads and still waiting for deletion",
			},
		),
		lastSuccess: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last run that completed without error",
			},
		),
	}
}

func (m *gcMetrics) ObserveRun(stats *gc.Stats, err error) {
	m.runsTotal.WithLabelValues(status(err)).Inc()
	m.runDuration.Observe(stats.Duration().Seconds())
	if stats.DryRun {
		return
	}
	m.deleted.Add(float64(stats.DeletedCount + stats.LedgerCleared))
	m.failed.Add(float64(stats.FailedCount + stats.LedgerAttempted - stats.LedgerCleared))
	if err == nil {
		m.lastSuccess.Set(float64(stats.EndTime.Unix()))
	}
}

func (m *gcMetrics) SetLedgerSize(n int) {
	m.ledgerSize.Set(float64(n))
}

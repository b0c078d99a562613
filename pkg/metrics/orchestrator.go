package metrics

import (
	"time"

	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/orchestrator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// orchestratorMetrics is the Prometheus implementation of
// orchestrator.Metrics.
type orchestratorMetrics struct {
	uploadsTotal   *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec
	uploadBytes    *prometheus.CounterVec
	deletesTotal   *prometheus.CounterVec
	deleteDuration *prometheus.HistogramVec
	retriesTotal   *prometheus.CounterVec
	compensations  *prometheus.CounterVec
}

// NewOrchestratorMetrics creates Prometheus-backed orchestrator metrics.
//
// Returns nil if metrics are not enabled, which the orchestrator treats as
// "no metrics".
func NewOrchestratorMetrics() orchestrator.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newOrchestratorMetrics(GetRegistry())
}

func newOrchestratorMetrics(reg prometheus.Registerer) *orchestratorMetrics {
	return &orchestratorMetrics{
		uploadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Upload attempts by backend and status, after retries",
			},
			[]string{"backend", "status"},
		),
		uploadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_duration_seconds",
				Help:      "Time spent writing an upload to its backend, retries included",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"backend"},
		),
		uploadBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_bytes_total",
				Help:      "Bytes successfully uploaded by backend",
			},
			[]string{"backend"},
		),
		deletesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deletes_total",
				Help:      "Object deletes by backend and status",
			},
			[]string{"backend", "status"},
		),
		deleteDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delete_duration_seconds",
				Help:      "Duration of object deletes in seconds",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"backend"},
		),
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_retries_total",
				Help:      "Upload attempts repeated after a transient failure",
			},
			[]string{"backend"},
		),
		compensations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compensations_total",
				Help:      "Compensating deletes after a failed record write; status=error means an orphan was left",
			},
			[]string{"backend", "status"},
		),
	}
}

func (m *orchestratorMetrics) ObserveUpload(t backend.StorageType, bytes int64, duration time.Duration, err error) {
	m.uploadsTotal.WithLabelValues(t.String(), status(err)).Inc()
	m.uploadDuration.WithLabelValues(t.String()).Observe(duration.Seconds())
	if err == nil {
		m.uploadBytes.WithLabelValues(t.String()).Add(float64(bytes))
	}
}

func (m *orchestratorMetrics) ObserveDelete(t backend.StorageType, duration time.Duration, err error) {
	m.deletesTotal.WithLabelValues(t.String(), status(err)).Inc()
	m.deleteDuration.WithLabelValues(t.String()).Observe(duration.Seconds())
}

func (m *orchestratorMetrics) RecordRetry(t backend.StorageType) {
	m.retriesTotal.WithLabelValues(t.String()).Inc()
}

func (m *orchestratorMetrics) RecordCompensation(t backend.StorageType, err error) {
	m.compensations.WithLabelValues(t.String(), status(err)).Inc()
}

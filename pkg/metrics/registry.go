// Package metrics provides Prometheus metrics for DittoDrive components.
//
// Metrics are optional. Components accept a small interface defined in their
// own package and treat nil as "disabled", so nothing here is imported by the
// core packages.
//
// Usage:
//
//	metrics.InitRegistry()
//
//	orch := orchestrator.New(gw, reg, cfg,
//	    orchestrator.WithMetrics(metrics.NewOrchestratorMetrics()))
//	collector := gc.NewCollector(gw, reg, ledger, gcCfg, metrics.NewGCMetrics())
//
// Every constructor returns nil when InitRegistry has not been called.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "dittodrive"

var (
	// registry is written once by InitRegistry and read afterwards.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry, with Go runtime and process
// collectors attached. Subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = r
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

package config

import (
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/orchestrator"
)

// MetricsResult contains all metrics components created from configuration.
// With metrics disabled every field is nil, which each consumer treats as
// "no metrics".
type MetricsResult struct {
	// Server exposes /metrics on its own port.
	Server *metrics.Server

	Orchestrator orchestrator.Metrics
	GC           gc.Metrics
	HTTP         *metrics.HTTPMiddleware
}

// InitializeMetrics initializes the global registry and creates the
// Prometheus-backed collectors when metrics are enabled.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:       metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		Orchestrator: metrics.NewOrchestratorMetrics(),
		GC:           metrics.NewGCMetrics(),
		HTTP:         metrics.NewHTTPMiddleware(),
	}
}

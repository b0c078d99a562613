package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/orchestrator"
	"github.com/marmos91/dittodrive/pkg/retry"
)

// Components is the fully wired application.
type Components struct {
	Gateway      metadata.Gateway
	Backends     *Backends
	Orchestrator *orchestrator.Orchestrator
	Collector    *gc.Collector
	Metrics      *MetricsResult
}

// OrchestratorConfig converts the upload section.
func OrchestratorConfig(cfg UploadConfig) orchestrator.Config {
	return orchestrator.Config{
		LocalQuota: cfg.LocalQuota,
		Retry: retry.Options{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.InitialDelay,
			MaxDelay:     cfg.MaxDelay,
		},
		PageSize:            cfg.PageSize,
		CompensationTimeout: cfg.CompensationTimeout,
	}
}

// Build creates the gateway, backends, metrics, orchestrator and collector
// from cfg. The collector is created but not started.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	app, err := config.Build(ctx, cfg)
//	if err != nil { ... }
//	defer app.Close()
func Build(ctx context.Context, cfg *Config) (*Components, error) {
	logger.Debug("Building components from configuration")

	gateway, err := CreateGateway(ctx, &cfg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata gateway: %w", err)
	}

	backends, err := CreateBackends(ctx, cfg)
	if err != nil {
		_ = gateway.Close()
		return nil, fmt.Errorf("failed to create backends: %w", err)
	}

	m := InitializeMetrics(cfg)
	ledger := gc.NewLedger()

	orch := orchestrator.New(gateway, backends.Registry, OrchestratorConfig(cfg.Upload),
		orchestrator.WithOrphanRecorder(ledger),
		orchestrator.WithMetrics(m.Orchestrator),
	)

	collector := gc.NewCollector(gateway, backends.Registry, ledger, cfg.GC, m.GC)

	return &Components{
		Gateway:      gateway,
		Backends:     backends,
		Orchestrator: orch,
		Collector:    collector,
		Metrics:      m,
	}, nil
}

// Close releases the backends, then the gateway.
func (c *Components) Close() error {
	return errors.Join(c.Backends.Close(), c.Gateway.Close())
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/internal/ratelimiter"
	"github.com/marmos91/dittodrive/pkg/api"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/server"
	"github.com/spf13/cobra"
)

func NewStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the HTTP API, the metrics endpoint and the orphan collector",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runStart(cfg)
		},
	}
}

func runStart(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := config.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Failed to release resources: %v", err)
		}
	}()

	router := api.NewRouter(api.Config{
		Orchestrator:   app.Orchestrator,
		Blob:           app.Backends.Blob,
		Authorizer:     app.Backends.Authorizer,
		Metrics:        app.Metrics.HTTP,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		RateLimiter:    ratelimiter.New(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst),
	})

	srv := server.New(cfg.Server.ShutdownTimeout)
	services := []server.Service{
		server.NewHTTPService("api", cfg.Server.Addr, router),
		server.NewCollectorService(app.Collector),
	}
	if app.Metrics.Server != nil {
		services = append(services, server.NewMetricsService(app.Metrics.Server))
	}
	for _, svc := range services {
		if err := srv.Add(svc); err != nil {
			return err
		}
	}

	logger.Info("DittoDrive serving %s (public URL %s)", cfg.Server.Addr, cfg.Server.PublicURL)

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

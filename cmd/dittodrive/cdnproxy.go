package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/marmos91/dittodrive/pkg/backend/cdn"
	"github.com/marmos91/dittodrive/pkg/server"
	"github.com/spf13/cobra"
)

func NewCDNProxyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cdn-proxy",
		Short: "Run the CDN delete proxy",
		Long: `Run the service that holds the CDN API secret and performs signed destroy
calls for the storage service. Configured by the cdn_proxy section.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			proxy, err := cdn.NewProxyHandler(cdn.ProxyConfig{
				CloudName:    cfg.CDNProxy.CloudName,
				APIKey:       cfg.CDNProxy.APIKey,
				APISecret:    cfg.CDNProxy.APISecret,
				Token:        cfg.CDNProxy.Token,
				UploadPrefix: cfg.CDNProxy.APIHost,
			})
			if err != nil {
				return err
			}

			r := chi.NewRouter()
			r.Use(middleware.RequestID)
			r.Use(middleware.Recoverer)
			r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			r.Method(http.MethodPost, "/", proxy)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			srv := server.New(cfg.Server.ShutdownTimeout)
			if err := srv.Add(server.NewHTTPService("cdn-proxy", cfg.CDNProxy.Addr, r)); err != nil {
				return err
			}
			if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

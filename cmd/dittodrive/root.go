package main

import (
	"fmt"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/spf13/cobra"
)

// NewRootCommand builds the dittodrive command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dittodrive",
		Short: "Multi-backend file storage service",
		Long: `DittoDrive stores files across a media CDN, S3-compatible object storage,
a database-backed blob bucket and users' personal drives, behind one API
with a single metadata store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default: $XDG_CONFIG_HOME/dittodrive/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(NewStartCommand())
	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewGCCommand())
	rootCmd.AddCommand(NewUploadCommand())
	rootCmd.AddCommand(NewCDNProxyCommand())

	return rootCmd
}

// loadConfig reads the configuration named by --config and applies the
// logging section.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	logger.Debug("Configuration loaded from %s", path)
	return cfg, nil
}

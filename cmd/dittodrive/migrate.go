package main

import (
	"fmt"

	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/spf13/cobra"
)

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending metadata schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := config.MigrateMetadata(&cfg.Metadata); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Metadata schema (%s) is up to date\n", cfg.Metadata.Type)
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/ampguard/telemetry-core/internal/config"
	"github.com/ampguard/telemetry-core/pkg/log"
	"github.com/ampguard/telemetry-core/pkg/storage"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})

		if err := storage.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.WithComponent("migrate").Info().Msg("migrations applied")
		return nil
	},
}

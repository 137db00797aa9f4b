package main

import (
	"fmt"

	"github.com/spf13/cobra"

	migrations "github.com/chanbridge/chanbridge/db"
	"github.com/chanbridge/chanbridge/internal/config"
	"github.com/chanbridge/chanbridge/internal/db"
	"github.com/chanbridge/chanbridge/internal/logger"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate <up|down|version|force N>",
		Short: "Database migration management",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := logger.Init(cfg.Log.Level, cfg.Log.Format)
			return db.RunMigrate(log, cfg.Postgres, migrations.MigrationsFS, args[0], args[1:])
		},
	}
	return cmd
}

package main

import (
	"context"
	"fmt"

	"extranet-system/internal/database"
	"extranet-system/internal/services/archive"
	"extranet-system/internal/services/exports"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the tables of the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.NewConnection(cfg.DB.DSN())
		if err != nil {
			return fmt.Errorf("failed to connect to db: %w", err)
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Info().Msg("Migration complete")
		return nil
	},
}

// sweepCmd runs one retention pass, for use from cron.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove archives whose restore period is over",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.NewConnection(cfg.DB.DSN())
		if err != nil {
			return fmt.Errorf("failed to connect to db: %w", err)
		}
		archives := archive.NewService(db, nil, exports.NewStore(cfg.Exports.Dir), nil, archive.Options{
			GracePeriod:  cfg.Archive.GracePeriod,
			AuditExpired: cfg.Archive.AuditExpired,
		})
		res, err := archives.Sweep(context.Background())
		if err != nil {
			return err
		}
		log.Info().Int("orders", res.Orders).Int("users", res.Users).Msg("Sweep complete")
		return nil
	},
}

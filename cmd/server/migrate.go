package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"casevault/backend/internal/repository"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the control-plane tenant and membership tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if cfg.DB.InMemory {
				return fmt.Errorf("migrate needs a database; db.in_memory is set")
			}

			ctx := cmd.Context()
			pool, err := initDatabase(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.NewPostgresDirectory(pool).Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info("Control-plane schema is up to date", "database", cfg.DB.Name)
			return nil
		},
	}
}

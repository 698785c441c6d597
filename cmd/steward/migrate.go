package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Steward/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return errors.New("database.url is required for migrate")
		}

		applied, err := store.Migrate(cmd.Context(), cfg.Database.URL)
		if err != nil {
			return err
		}
		logger.Info("migrations complete", "applied", applied)
		return nil
	},
}

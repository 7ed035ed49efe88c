package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campusmate/campusmate/db"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Long: `Applies the embedded schema migrations to the configured PostgreSQL
database. Safe to run repeatedly: already-applied migrations are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			if err := db.Migrate(cfg.DatabaseURL()); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			fmt.Println("database schema is up to date")
			return nil
		},
	}
}

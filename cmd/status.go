package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campusmate/campusmate/internal/knowledge"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show knowledge base statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := connect(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := knowledge.New(pool, logger.With("component", "knowledge"))
			active, err := store.CountEntries(ctx, true)
			if err != nil {
				return fmt.Errorf("counting active entries: %w", err)
			}
			total, err := store.CountEntries(ctx, false)
			if err != nil {
				return fmt.Errorf("counting entries: %w", err)
			}
			pending, err := store.CountPendingEmbeddings(ctx)
			if err != nil {
				return fmt.Errorf("checking embedding queue: %w", err)
			}

			fmt.Printf("entries:            %d active / %d total\n", active, total)
			fmt.Printf("awaiting embedding: %d\n", pending)
			fmt.Printf("embedder model:     %s\n", cfg.EmbedderModel)
			fmt.Printf("database:           %s:%d/%s\n",
				cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDBName)
			return nil
		},
	}
}

// Package cmd implements the campusmate command line interface.
//
// Following the pattern used by kubectl, hugo and other standard Go CLI
// tools, all application logic lives here and main.go stays a minimal
// entry point. Each subcommand builds only the components it needs, so
// `campusmate migrate` never initializes the embedding provider and
// `campusmate query` never touches the ingestion pipeline.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/campusmate/campusmate/internal/config"
	"github.com/campusmate/campusmate/internal/database"
	"github.com/campusmate/campusmate/internal/log"
)

var (
	debugFlag   bool
	jsonLogFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "campusmate",
	Short: "CampusMate - academic knowledge base for student support",
	Long: `CampusMate maintains the retrieval backbone of a university
student-support assistant: it ingests institutional documents into a
deduplicated knowledge base, embeds them for semantic search and
assembles grounded prompt context for chat sessions.

Typical workflow:

  campusmate migrate           apply the database schema
  campusmate ingest ./docs     index knowledge and academic files
  campusmate embed             generate embeddings for new entries
  campusmate query "..."       retrieve ranked context for a question`,
	SilenceUsage: true,
}

// Execute runs the root command. Called from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogFlag, "json-logs", false, "write logs as JSON")

	rootCmd.AddCommand(
		newMigrateCmd(),
		newIngestCmd(),
		newEmbedCmd(),
		newQueryCmd(),
		newSessionsCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
}

// newLogger builds the process logger from the persistent flags.
// DEBUG in the environment also enables debug level, matching the
// convention used by the rest of our tooling.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if debugFlag || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: jsonLogFlag})
}

// setup loads configuration and builds the logger. Every subcommand
// that needs more than flag parsing starts here.
func setup() (*config.Config, log.Logger, error) {
	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, logger, nil
}

// connect opens the database pool. Callers own the pool and must Close it.
func connect(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

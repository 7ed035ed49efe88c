package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/spf13/cobra"

	"github.com/campusmate/campusmate/internal/config"
	"github.com/campusmate/campusmate/internal/embedding"
	"github.com/campusmate/campusmate/internal/knowledge"
)

func newEmbedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "embed",
		Short: "Generate embeddings for entries that lack one",
		Long: `Drains the embedding queue: every active entry without a vector is
embedded through the configured provider and the result stored. Entries
that keep failing with transient provider errors are flagged and picked
up again on the next run; entries the provider rejects outright are
deactivated.

Requires GEMINI_API_KEY.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			embedder, err := newEmbedder(ctx, cfg)
			if err != nil {
				return err
			}

			pool, err := connect(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := knowledge.New(pool, logger.With("component", "knowledge"))
			gen := embedding.New(store, embedder, embedding.Config{
				BatchSize:      cfg.Embedding.BatchSize,
				Workers:        cfg.Embedding.Workers,
				MaxRetries:     cfg.Embedding.MaxRetries,
				RequestsPerSec: cfg.Embedding.RequestsPerSec,
				Timeout:        time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
				InitialBackoff: 500 * time.Millisecond,
				MaxBackoff:     10 * time.Second,
			}, logger.With("component", "embedding"))

			stats, err := gen.Run(ctx)
			fmt.Printf("embedded=%d failed=%d deactivated=%d batches=%d\n",
				stats.Embedded, stats.Failed, stats.Deactivated, stats.Batches)
			if err != nil {
				return fmt.Errorf("embedding run: %w", err)
			}
			return nil
		},
	}
}

// newEmbedder initializes Genkit with the Google AI plugin and resolves
// the configured embedding model.
func newEmbedder(ctx context.Context, cfg *config.Config) (ai.Embedder, error) {
	if os.Getenv("GEMINI_API_KEY") == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set: export it to use the embedding provider")
	}
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, fmt.Errorf("initializing Genkit")
	}
	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("unknown embedder model %q", cfg.EmbedderModel)
	}
	return embedder, nil
}

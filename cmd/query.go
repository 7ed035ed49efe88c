package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/campusmate/campusmate/internal/knowledge"
	"github.com/campusmate/campusmate/internal/prompt"
	"github.com/campusmate/campusmate/internal/retrieval"
	"github.com/campusmate/campusmate/internal/session"
)

func newQueryCmd() *cobra.Command {
	var (
		category  string
		tags      []string
		topK      int
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Retrieve ranked knowledge for a question",
		Long: `Runs the retrieval pipeline for a question and prints the ranked
entries. With --session, the session's recent history is loaded and the
assembled prompt context is printed instead, exactly as the assistant
would receive it.

Semantic search needs GEMINI_API_KEY for the query embedding; without
it retrieval degrades to keyword and tag matching.`,
		Args: cobra.ExactArgs(1),
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

			// Best effort: a missing API key leaves embedder nil and the
			// ranker falls back to lexical search.
			embedder, err := newEmbedder(ctx, cfg)
			if err != nil {
				logger.Warn("semantic search unavailable", "reason", err)
			}

			store := knowledge.New(pool, logger.With("component", "knowledge"))
			ranker := retrieval.New(store, embedder, retrieval.Config{
				Alpha:         cfg.Retrieval.Alpha,
				Beta:          cfg.Retrieval.Beta,
				Gamma:         cfg.Retrieval.Gamma,
				DefaultTopK:   cfg.Retrieval.DefaultTopK,
				CandidatePool: cfg.Retrieval.CandidatePool,
				Timeout:       time.Duration(cfg.Retrieval.TimeoutSec) * time.Second,
			}, logger.With("component", "retrieval"))

			ranked, err := ranker.Retrieve(ctx, retrieval.Query{
				Text:     args[0],
				Category: category,
				Tags:     tags,
				K:        topK,
			})
			if err != nil {
				if !errors.Is(err, knowledge.ErrRetrievalTimeout) {
					return fmt.Errorf("retrieving: %w", err)
				}
				logger.Warn("retrieval timed out, results are partial")
			}

			if sessionID == "" {
				printRanked(ranked)
				return nil
			}

			sid, err := uuid.Parse(sessionID)
			if err != nil {
				return fmt.Errorf("invalid session ID %q: %w", sessionID, err)
			}
			sessions := session.New(pool, logger.With("component", "session"))
			history, err := sessions.History(ctx, sid, int32(cfg.Context.HistoryMessages))
			if err != nil {
				return fmt.Errorf("loading history: %w", err)
			}

			payload := prompt.Assemble(history, ranked, prompt.Config{
				HistoryMessages: cfg.Context.HistoryMessages,
				BudgetChars:     cfg.Context.BudgetChars,
				MinRelevance:    float32(cfg.Retrieval.MinRelevance),
			})
			printPayload(payload)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "restrict results to one category")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "boost entries carrying this tag (repeatable)")
	cmd.Flags().IntVarP(&topK, "top", "k", 0, "number of results (0 uses the configured default)")
	cmd.Flags().StringVar(&sessionID, "session", "", "assemble prompt context for this chat session")
	return cmd
}

func printRanked(ranked []knowledge.Scored) {
	if len(ranked) == 0 {
		fmt.Println("no matching entries")
		return
	}
	for i, sc := range ranked {
		fmt.Printf("%d. [%.3f] %s (%s, priority %d)\n",
			i+1, sc.Score, sc.Entry.Title, sc.Entry.Category, sc.Entry.Priority)
		fmt.Printf("   %s\n", snippet(sc.Entry.Content, 160))
	}
}

func printPayload(p prompt.Payload) {
	if h := p.HistoryBlock(); h != "" {
		fmt.Println("--- conversation history ---")
		fmt.Println(h)
	}
	if k := p.KnowledgeBlock(); k != "" {
		fmt.Println("--- knowledge context ---")
		fmt.Println(k)
	} else {
		fmt.Println("no knowledge entries passed the relevance gate")
	}
}

// snippet collapses content to a single line of at most n bytes, cut at
// a rune boundary.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// Package embedding fills in missing entry vectors through an external
// embedding provider: batched requests, bounded concurrency, provider
// rate limiting and a bounded retry policy.
//
// Each entry moves through a small state machine per run:
// pending → retrying(n) → succeeded | failed. Failed entries stay active
// but are flagged so vector ranking skips them until a later run; a
// permanent provider rejection deactivates the entry instead.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/campusmate/campusmate/internal/knowledge"
)

// Store is the persistence surface the generator needs.
type Store interface {
	ListMissingEmbeddings(ctx context.Context, limit int32) ([]knowledge.Entry, error)
	SetEmbedding(ctx context.Context, id string, embedding []float32) error
	MarkEmbeddingFailed(ctx context.Context, id string) error
	DeactivateEntry(ctx context.Context, id string) error
}

// Config tunes batching, concurrency and the retry policy.
type Config struct {
	BatchSize      int
	Workers        int
	MaxRetries     int
	RequestsPerSec float64
	Timeout        time.Duration

	// Backoff bounds for transient provider errors.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig mirrors the config package defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:      32,
		Workers:        2,
		MaxRetries:     3,
		RequestsPerSec: 5,
		Timeout:        30 * time.Second,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// Stats summarises one generator run.
type Stats struct {
	Embedded    int
	Failed      int
	Deactivated int
	Batches     int
}

// Generator drains entries lacking an embedding and persists the vectors.
type Generator struct {
	store    Store
	embedder ai.Embedder
	cfg      Config
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New creates a Generator. Zero config fields fall back to DefaultConfig.
func New(store Store, embedder ai.Embedder, cfg Config, logger *slog.Logger) *Generator {
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = def.RequestsPerSec
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		logger:   logger,
	}
}

// Run embeds every pending entry, in batches across a bounded worker
// pool, until the store reports none left. Per-entry failures are
// recorded in the store and in Stats, not returned; only context
// cancellation and store-read failures abort the run.
func (g *Generator) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		pending, err := g.store.ListMissingEmbeddings(ctx, int32(g.cfg.BatchSize*g.cfg.Workers))
		if err != nil {
			return stats, fmt.Errorf("listing pending entries: %w", err)
		}
		if len(pending) == 0 {
			return stats, nil
		}

		batchStats := make([]Stats, (len(pending)+g.cfg.BatchSize-1)/g.cfg.BatchSize)

		eg, egctx := errgroup.WithContext(ctx)
		eg.SetLimit(g.cfg.Workers)
		for i, b := 0, 0; i < len(pending); i, b = i+g.cfg.BatchSize, b+1 {
			batch := pending[i:min(i+g.cfg.BatchSize, len(pending))]
			eg.Go(func() error {
				return g.processBatch(egctx, batch, &batchStats[b])
			})
		}
		if err := eg.Wait(); err != nil {
			return stats, err
		}
		for _, bs := range batchStats {
			stats.Embedded += bs.Embedded
			stats.Failed += bs.Failed
			stats.Deactivated += bs.Deactivated
			stats.Batches += bs.Batches
		}

		// Everything left pending this pass was flagged failed, so the
		// next ListMissingEmbeddings call excludes it and the loop ends.
	}
}

// processBatch embeds one batch and persists the outcome per entry.
func (g *Generator) processBatch(ctx context.Context, batch []knowledge.Entry, stats *Stats) error {
	stats.Batches++

	vectors, err := g.embedWithRetry(ctx, batch)
	if err != nil {
		var embErr *knowledge.EmbeddingError
		if !errors.As(err, &embErr) {
			return err
		}
		return g.recordFailure(ctx, batch, embErr, stats)
	}

	for i, e := range batch {
		if len(vectors[i]) != knowledge.EmbeddingDimension {
			return fmt.Errorf("%w: provider returned %d dims for entry %s, schema wants %d",
				knowledge.ErrDimensionMismatch, len(vectors[i]), e.ID, knowledge.EmbeddingDimension)
		}
		if err := g.store.SetEmbedding(ctx, e.ID, vectors[i]); err != nil {
			return fmt.Errorf("storing embedding for %s: %w", e.ID, err)
		}
		stats.Embedded++
	}
	g.logger.Debug("batch embedded", "entries", len(batch))
	return nil
}

// embedWithRetry calls the provider with exponential backoff. Transient
// errors are retried up to MaxRetries attempts; exhaustion and permanent
// errors surface as *knowledge.EmbeddingError.
func (g *Generator) embedWithRetry(ctx context.Context, batch []knowledge.Entry) ([][]float32, error) {
	req := &ai.EmbedRequest{}
	for _, e := range batch {
		req.Input = append(req.Input, ai.DocumentFromText(e.Title+"\n\n"+e.Content, nil))
	}

	var lastErr error
	backoff := g.cfg.InitialBackoff
	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		resp, err := g.embedder.Embed(callCtx, req)
		cancel()

		if err == nil {
			if len(resp.Embeddings) != len(batch) {
				return nil, &knowledge.EmbeddingError{Permanent: true,
					Err: fmt.Errorf("provider returned %d embeddings for %d inputs", len(resp.Embeddings), len(batch))}
			}
			vectors := make([][]float32, len(batch))
			for i, emb := range resp.Embeddings {
				vectors[i] = emb.Embedding
			}
			return vectors, nil
		}

		if !transient(err) {
			return nil, &knowledge.EmbeddingError{Permanent: true, Err: err}
		}
		lastErr = err
		g.logger.Warn("transient embed failure, retrying",
			"attempt", attempt, "max", g.cfg.MaxRetries, "error", err)

		if attempt == g.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, g.cfg.MaxBackoff)
	}
	return nil, &knowledge.EmbeddingError{Err: lastErr}
}

// recordFailure applies the terminal state for every entry in a failed
// batch: flagged for a later run on transient exhaustion, deactivated on
// permanent provider rejection.
func (g *Generator) recordFailure(ctx context.Context, batch []knowledge.Entry, embErr *knowledge.EmbeddingError, stats *Stats) error {
	for _, e := range batch {
		if embErr.Permanent {
			if err := g.store.DeactivateEntry(ctx, e.ID); err != nil {
				return fmt.Errorf("deactivating %s: %w", e.ID, err)
			}
			stats.Deactivated++
			g.logger.Warn("entry deactivated after permanent provider error",
				"id", e.ID, "error", embErr)
			continue
		}
		if err := g.store.MarkEmbeddingFailed(ctx, e.ID); err != nil {
			return fmt.Errorf("flagging %s: %w", e.ID, err)
		}
		stats.Failed++
	}
	if !embErr.Permanent {
		g.logger.Warn("batch left unembedded after retries",
			"entries", len(batch), "error", embErr)
	}
	return nil
}

// transient reports whether a provider error is worth retrying:
// rate limits, 5xx responses and network flakes.
func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "quota exceeded", "429",
		"500", "502", "503", "504", "unavailable",
		"connection reset", "timeout", "temporary",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

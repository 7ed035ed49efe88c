// Package retrieval ranks stored knowledge entries against a free-text
// query. Candidates come from vector similarity (when a query embedding
// is available) merged with lexical/tag matches; the composite score blends
// cosine similarity, entry priority and tag overlap.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/campusmate/campusmate/internal/knowledge"
)

// Store is the search surface the ranker needs.
type Store interface {
	SearchByEmbedding(ctx context.Context, query []float32, k int32, category string) ([]knowledge.Scored, error)
	SearchLexical(ctx context.Context, terms, tags []string, limit int32) ([]knowledge.Entry, error)
}

// Config holds the composite score weights and candidate-pool sizing.
type Config struct {
	// Alpha weights cosine similarity, Beta normalized priority and
	// Gamma tag overlap. Alpha should dominate.
	Alpha float64
	Beta  float64
	Gamma float64

	DefaultTopK   int
	CandidatePool int
	Timeout       time.Duration
}

// DefaultConfig mirrors the config package defaults.
func DefaultConfig() Config {
	return Config{
		Alpha:         0.75,
		Beta:          0.15,
		Gamma:         0.10,
		DefaultTopK:   5,
		CandidatePool: 50,
		Timeout:       5 * time.Second,
	}
}

// Query is one retrieval request. K <= 0 uses the configured default.
type Query struct {
	Text     string
	Category string
	Tags     []string
	K        int
}

// Ranker retrieves and scores knowledge entries. A nil embedder degrades
// to lexical-only retrieval.
type Ranker struct {
	store    Store
	embedder ai.Embedder
	cfg      Config
	logger   *slog.Logger
}

// New creates a Ranker.
func New(store Store, embedder ai.Embedder, cfg Config, logger *slog.Logger) *Ranker {
	def := DefaultConfig()
	if cfg.Alpha == 0 && cfg.Beta == 0 && cfg.Gamma == 0 {
		cfg.Alpha, cfg.Beta, cfg.Gamma = def.Alpha, def.Beta, def.Gamma
	}
	if cfg.DefaultTopK < 1 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if cfg.CandidatePool < 1 {
		cfg.CandidatePool = def.CandidatePool
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

// Retrieve returns the top-K active entries for the query, ranked by
// composite score. The result is deterministic for a fixed store state.
//
// Degradation rules: an embedder failure drops the vector signal and the
// lexical candidates still rank; hitting the retrieval deadline returns
// the best-so-far set wrapped with knowledge.ErrRetrievalTimeout.
func (r *Ranker) Retrieve(ctx context.Context, q Query) ([]knowledge.Scored, error) {
	if q.K < 1 {
		q.K = r.cfg.DefaultTopK
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	terms := queryTerms(q.Text)
	candidates := make(map[string]*knowledge.Scored)

	if vec := r.embedQuery(ctx, q.Text); vec != nil {
		scored, err := r.store.SearchByEmbedding(ctx, vec, int32(r.cfg.CandidatePool), q.Category)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return r.rank(candidates, q, terms), fmt.Errorf("%w: vector search", knowledge.ErrRetrievalTimeout)
		case err != nil:
			r.logger.Warn("vector search failed, degrading to lexical", "error", err)
		default:
			for i := range scored {
				s := scored[i]
				candidates[s.Entry.ID] = &s
			}
		}
	}

	lex, err := r.store.SearchLexical(ctx, terms, q.Tags, int32(r.cfg.CandidatePool))
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return r.rank(candidates, q, terms), fmt.Errorf("%w: lexical search", knowledge.ErrRetrievalTimeout)
	case err != nil:
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	for i := range lex {
		if _, ok := candidates[lex[i].ID]; !ok {
			candidates[lex[i].ID] = &knowledge.Scored{Entry: lex[i]}
		}
	}

	return r.rank(candidates, q, terms), nil
}

// embedQuery returns the query vector, or nil when no embedder is wired
// or the provider call fails. Never an error: retrieval degrades instead.
func (r *Ranker) embedQuery(ctx context.Context, text string) []float32 {
	if r.embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	resp, err := r.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil || len(resp.Embeddings) == 0 {
		r.logger.Warn("query embedding unavailable, ranking lexically", "error", err)
		return nil
	}
	return resp.Embeddings[0].Embedding
}

// rank scores, filters and orders the candidate set, cutting it to K.
func (r *Ranker) rank(candidates map[string]*knowledge.Scored, q Query, terms []string) []knowledge.Scored {
	queryTags := append(append([]string{}, q.Tags...), terms...)

	ranked := make([]knowledge.Scored, 0, len(candidates))
	for _, c := range candidates {
		if q.Category != "" && c.Entry.Category != q.Category {
			continue
		}
		c.Score = r.score(c, queryTags)
		ranked = append(ranked, *c)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		// At equal score an embedded entry outranks an unembedded one.
		ae, be := len(a.Entry.Embedding) > 0, len(b.Entry.Embedding) > 0
		if ae != be {
			return ae
		}
		if a.Entry.Priority != b.Entry.Priority {
			return a.Entry.Priority > b.Entry.Priority
		}
		if !a.Entry.UpdatedAt.Equal(b.Entry.UpdatedAt) {
			return a.Entry.UpdatedAt.After(b.Entry.UpdatedAt)
		}
		return a.Entry.ID < b.Entry.ID
	})

	if len(ranked) > q.K {
		ranked = ranked[:q.K]
	}
	return ranked
}

// score computes alpha*similarity + beta*priority/10 + gamma*tagOverlap.
// Unembedded entries carry zero similarity and compete on the rest.
func (r *Ranker) score(c *knowledge.Scored, queryTags []string) float32 {
	similarity := float64(c.Similarity)
	priority := float64(c.Entry.Priority) / float64(knowledge.MaxPriority)
	overlap := tagOverlap(queryTags, c.Entry.Tags)

	return float32(r.cfg.Alpha*similarity + r.cfg.Beta*priority + r.cfg.Gamma*overlap)
}

// tagOverlap is the fraction of query tags present on the entry.
func tagOverlap(queryTags, entryTags []string) float64 {
	if len(queryTags) == 0 || len(entryTags) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(entryTags))
	for _, t := range entryTags {
		set[strings.ToLower(t)] = struct{}{}
	}
	matched := 0
	for _, t := range queryTags {
		if _, ok := set[strings.ToLower(t)]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTags))
}

// queryTerms tokenizes the query for lexical matching, dropping short
// function words.
func queryTerms(text string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,;:!?\"'()[]")
		if len(f) < 3 {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

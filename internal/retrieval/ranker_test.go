package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/campusmate/campusmate/internal/knowledge"
	"github.com/campusmate/campusmate/internal/log"
	"github.com/campusmate/campusmate/internal/testutil"
)

// fakeSearcher returns scripted candidate sets.
type fakeSearcher struct {
	vector    []knowledge.Scored
	vectorErr error
	lexical   []knowledge.Entry
	lexErr    error
}

func (f *fakeSearcher) SearchByEmbedding(context.Context, []float32, int32, string) ([]knowledge.Scored, error) {
	return f.vector, f.vectorErr
}

func (f *fakeSearcher) SearchLexical(context.Context, []string, []string, int32) ([]knowledge.Entry, error) {
	return f.lexical, f.lexErr
}

func embeddedEntry(id string, priority int, sim float32) knowledge.Scored {
	return knowledge.Scored{
		Entry: knowledge.Entry{
			ID: id, Title: id, Priority: priority, IsActive: true,
			Embedding: make([]float32, knowledge.EmbeddingDimension),
		},
		Similarity: sim,
	}
}

func TestRetrieveMergesAndRanks(t *testing.T) {
	store := &fakeSearcher{
		vector: []knowledge.Scored{
			embeddedEntry("strong", 5, 0.9),
			embeddedEntry("weak", 5, 0.2),
		},
		lexical: []knowledge.Entry{
			{ID: "weak", Title: "weak", Priority: 5, IsActive: true},
			{ID: "lexonly", Title: "lexonly", Priority: 5, IsActive: true},
		},
	}
	r := New(store, &testutil.Embedder{}, DefaultConfig(), log.NewNop())

	got, err := r.Retrieve(context.Background(), Query{Text: "census date refund"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3 (vector ∪ lexical)", len(got))
	}
	if got[0].Entry.ID != "strong" {
		t.Errorf("top result = %q, want highest similarity first", got[0].Entry.ID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not non-increasing at %d: %v then %v", i, got[i-1].Score, got[i].Score)
		}
	}
}

func TestRetrieveEmbeddedBeatsUnembeddedOnTie(t *testing.T) {
	// Zero similarity and equal priority make the composite scores equal;
	// the embedded entry must still come first.
	store := &fakeSearcher{
		vector:  []knowledge.Scored{embeddedEntry("withvec", 5, 0)},
		lexical: []knowledge.Entry{{ID: "a-novec", Title: "a-novec", Priority: 5, IsActive: true}},
	}
	r := New(store, &testutil.Embedder{}, DefaultConfig(), log.NewNop())

	got, err := r.Retrieve(context.Background(), Query{Text: "anything"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got[0].Entry.ID != "withvec" {
		t.Errorf("order = [%s, %s], embedded entry must win the tie", got[0].Entry.ID, got[1].Entry.ID)
	}
}

func TestRetrieveDeterministicTieBreaks(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.AddDate(0, 1, 0)

	store := &fakeSearcher{lexical: []knowledge.Entry{
		{ID: "b", Priority: 5, UpdatedAt: older, IsActive: true},
		{ID: "c", Priority: 5, UpdatedAt: newer, IsActive: true},
		{ID: "a", Priority: 5, UpdatedAt: older, IsActive: true},
		{ID: "d", Priority: 8, UpdatedAt: older, IsActive: true},
	}}
	r := New(store, nil, Config{Alpha: 1, Beta: 0, Gamma: 0}, log.NewNop())

	for run := 0; run < 3; run++ {
		got, err := r.Retrieve(context.Background(), Query{Text: "query"})
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		var ids []string
		for _, s := range got {
			ids = append(ids, s.Entry.ID)
		}
		want := "[d c a b]" // priority, then recency, then id
		if fmt.Sprint(ids) != want {
			t.Fatalf("run %d order = %v, want %s", run, ids, want)
		}
	}
}

func TestRetrieveDegradesWhenEmbedderFails(t *testing.T) {
	store := &fakeSearcher{lexical: []knowledge.Entry{
		{ID: "lex1", Priority: 5, IsActive: true},
	}}
	emb := &testutil.Embedder{Errs: []error{fmt.Errorf("quota exceeded")}}
	r := New(store, emb, DefaultConfig(), log.NewNop())

	got, err := r.Retrieve(context.Background(), Query{Text: "deferring exams"})
	if err != nil {
		t.Fatalf("Retrieve() must not fail on embedder errors, got %v", err)
	}
	if len(got) != 1 || got[0].Entry.ID != "lex1" {
		t.Errorf("got %v, want the lexical candidate", got)
	}
}

func TestRetrieveTimeoutReturnsPartialSet(t *testing.T) {
	store := &fakeSearcher{
		vector: []knowledge.Scored{embeddedEntry("partial", 5, 0.8)},
		lexErr: context.DeadlineExceeded,
	}
	r := New(store, &testutil.Embedder{}, DefaultConfig(), log.NewNop())

	got, err := r.Retrieve(context.Background(), Query{Text: "census"})
	if !errors.Is(err, knowledge.ErrRetrievalTimeout) {
		t.Fatalf("Retrieve() error = %v, want ErrRetrievalTimeout", err)
	}
	if len(got) != 1 || got[0].Entry.ID != "partial" {
		t.Errorf("partial result = %v, want best-so-far vector candidates", got)
	}
}

func TestRetrieveAppliesKAndDefault(t *testing.T) {
	var lex []knowledge.Entry
	for i := 0; i < 20; i++ {
		lex = append(lex, knowledge.Entry{ID: fmt.Sprintf("e%02d", i), Priority: 5, IsActive: true})
	}
	r := New(&fakeSearcher{lexical: lex}, nil, DefaultConfig(), log.NewNop())

	got, err := r.Retrieve(context.Background(), Query{Text: "query", K: 3})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want K=3", len(got))
	}

	got, err = r.Retrieve(context.Background(), Query{Text: "query"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != DefaultConfig().DefaultTopK {
		t.Errorf("len = %d, want default top-k %d", len(got), DefaultConfig().DefaultTopK)
	}
}

func TestRetrieveCategoryFilter(t *testing.T) {
	store := &fakeSearcher{lexical: []knowledge.Entry{
		{ID: "fee1", Category: knowledge.CategoryFees, Priority: 5, IsActive: true},
		{ID: "faq1", Category: knowledge.CategoryFAQ, Priority: 9, IsActive: true},
	}}
	r := New(store, nil, DefaultConfig(), log.NewNop())

	got, err := r.Retrieve(context.Background(), Query{Text: "fees", Category: knowledge.CategoryFees})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 || got[0].Entry.ID != "fee1" {
		t.Errorf("got %v, want only the fees entry", got)
	}
}

func TestTagOverlapContributesToScore(t *testing.T) {
	store := &fakeSearcher{lexical: []knowledge.Entry{
		{ID: "tagged", Priority: 5, Tags: []string{"census", "fees"}, IsActive: true},
		{ID: "untagged", Priority: 5, IsActive: true},
	}}
	r := New(store, nil, DefaultConfig(), log.NewNop())

	got, err := r.Retrieve(context.Background(), Query{Text: "census fees"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got[0].Entry.ID != "tagged" {
		t.Errorf("top = %q, tag overlap should outrank", got[0].Entry.ID)
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("scores %v / %v, tagged entry should score higher", got[0].Score, got[1].Score)
	}
}

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/campusmate/campusmate/internal/knowledge"
	"github.com/campusmate/campusmate/internal/log"
	"github.com/campusmate/campusmate/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStore tracks per-entry embedding state in memory.
type fakeStore struct {
	mu          sync.Mutex
	entries     map[string]knowledge.Entry
	embedded    map[string][]float32
	failed      map[string]bool
	deactivated map[string]bool
	listErr     error
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{
		entries:     make(map[string]knowledge.Entry),
		embedded:    make(map[string][]float32),
		failed:      make(map[string]bool),
		deactivated: make(map[string]bool),
	}
	for _, id := range ids {
		s.entries[id] = knowledge.Entry{
			ID: id, Title: "title " + id, Content: "content for " + id, IsActive: true,
		}
	}
	return s
}

func (s *fakeStore) ListMissingEmbeddings(_ context.Context, limit int32) ([]knowledge.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []knowledge.Entry
	for id, e := range s.entries {
		if s.embedded[id] != nil || s.failed[id] || s.deactivated[id] {
			continue
		}
		out = append(out, e)
		if int32(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) SetEmbedding(_ context.Context, id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embedded[id] = embedding
	return nil
}

func (s *fakeStore) MarkEmbeddingFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = true
	return nil
}

func (s *fakeStore) DeactivateEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated[id] = true
	return nil
}

func fastConfig() Config {
	return Config{
		BatchSize:      2,
		Workers:        1,
		MaxRetries:     3,
		RequestsPerSec: 10000,
		Timeout:        time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestRunEmbedsAllPending(t *testing.T) {
	store := newFakeStore("e1", "e2", "e3", "e4", "e5")
	gen := New(store, &testutil.Embedder{}, fastConfig(), log.NewNop())

	stats, err := gen.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Embedded != 5 {
		t.Errorf("Embedded = %d, want 5", stats.Embedded)
	}
	for id := range store.entries {
		vec := store.embedded[id]
		if len(vec) != knowledge.EmbeddingDimension {
			t.Errorf("entry %s vector has %d dims", id, len(vec))
		}
	}
}

func TestRunRetriesTransientErrors(t *testing.T) {
	store := newFakeStore("e1")
	emb := &testutil.Embedder{Errs: []error{
		fmt.Errorf("429 rate limit exceeded"),
		fmt.Errorf("503 service unavailable"),
	}}
	gen := New(store, emb, fastConfig(), log.NewNop())

	stats, err := gen.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Embedded != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if emb.Calls() != 3 {
		t.Errorf("provider called %d times, want 3", emb.Calls())
	}
}

func TestRunFlagsEntriesAfterRetryExhaustion(t *testing.T) {
	store := newFakeStore("e1", "e2")
	emb := &testutil.Embedder{Errs: []error{
		fmt.Errorf("timeout"), fmt.Errorf("timeout"), fmt.Errorf("timeout"),
	}}
	gen := New(store, emb, fastConfig(), log.NewNop())

	stats, err := gen.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Failed != 2 || stats.Embedded != 0 {
		t.Errorf("stats = %+v", stats)
	}
	for _, id := range []string{"e1", "e2"} {
		if !store.failed[id] {
			t.Errorf("entry %s not flagged", id)
		}
		if store.deactivated[id] {
			t.Errorf("transient exhaustion must not deactivate %s", id)
		}
	}
}

func TestRunDeactivatesOnPermanentError(t *testing.T) {
	store := newFakeStore("e1")
	emb := &testutil.Embedder{Errs: []error{fmt.Errorf("invalid input: unsupported content")}}
	gen := New(store, emb, fastConfig(), log.NewNop())

	stats, err := gen.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Deactivated != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if !store.deactivated["e1"] {
		t.Error("entry not deactivated")
	}
	if emb.Calls() != 1 {
		t.Errorf("permanent errors must not retry, got %d calls", emb.Calls())
	}
}

func TestRunRejectsWrongDimension(t *testing.T) {
	store := newFakeStore("e1")
	gen := New(store, &testutil.Embedder{Dimension: 4}, fastConfig(), log.NewNop())

	_, err := gen.Run(context.Background())
	if !errors.Is(err, knowledge.ErrDimensionMismatch) {
		t.Fatalf("Run() error = %v, want ErrDimensionMismatch", err)
	}
}

func TestRunBatchesRequests(t *testing.T) {
	store := newFakeStore("e1", "e2", "e3")
	emb := &testutil.Embedder{}
	gen := New(store, emb, fastConfig(), log.NewNop())

	stats, err := gen.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Batches != 2 {
		t.Errorf("Batches = %d, want 2 for 3 entries at batch size 2", stats.Batches)
	}
	if got := len(emb.Batch(0)) + len(emb.Batch(1)); got != 3 {
		t.Errorf("provider saw %d documents, want 3", got)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := New(newFakeStore("e1"), &testutil.Embedder{}, fastConfig(), log.NewNop())
	if _, err := gen.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunPropagatesStoreReadFailure(t *testing.T) {
	store := newFakeStore("e1")
	store.listErr = fmt.Errorf("connection refused")
	gen := New(store, &testutil.Embedder{}, fastConfig(), log.NewNop())

	if _, err := gen.Run(context.Background()); err == nil {
		t.Fatal("Run() should surface store read failures")
	}
}

// Package testutil provides shared test doubles and integration-test
// helpers: a scriptable embedder, a quiet logger and a disposable
// pgvector-enabled postgres container.
package testutil

import (
	"context"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"

	"github.com/campusmate/campusmate/internal/knowledge"
)

// Embedder is a scriptable ai.Embedder. Errs are returned one per call
// until exhausted (nil entries mean success), after which calls succeed.
// Vectors are deterministic functions of the input text length so tests
// can assert stable values.
type Embedder struct {
	// Dimension of produced vectors. Defaults to knowledge.EmbeddingDimension.
	Dimension int

	// Errs is consumed one element per Embed call.
	Errs []error

	mu    sync.Mutex
	calls int
	texts [][]string
}

// Name implements ai.Embedder.
func (e *Embedder) Name() string { return "testutil/embedder" }

// Register implements ai.Embedder. It is a no-op for the test double.
func (e *Embedder) Register(api.Registry) {}

// Embed implements ai.Embedder.
func (e *Embedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	call := e.calls
	e.calls++

	var texts []string
	for _, doc := range req.Input {
		texts = append(texts, docText(doc))
	}
	e.texts = append(e.texts, texts)

	if call < len(e.Errs) && e.Errs[call] != nil {
		return nil, e.Errs[call]
	}

	dim := e.Dimension
	if dim == 0 {
		dim = knowledge.EmbeddingDimension
	}
	resp := &ai.EmbedResponse{}
	for _, text := range texts {
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = float32(len(text)%17) / 17
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{Embedding: vec})
	}
	return resp, nil
}

// Calls returns how many Embed calls were made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Batch returns the texts passed to the i-th Embed call.
func (e *Embedder) Batch(i int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.texts) {
		return nil
	}
	return e.texts[i]
}

func docText(doc *ai.Document) string {
	var s string
	for _, part := range doc.Content {
		if part.IsText() {
			s += part.Text
		}
	}
	return s
}

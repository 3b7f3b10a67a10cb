package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/stackflow/internal/llm"
)

// Embedder wraps an LLM provider to produce, store and query embeddings.
type Embedder struct {
	provider llm.Provider
	repo     Repository
}

// NewEmbedder creates an Embedder.
func NewEmbedder(provider llm.Provider, repo Repository) *Embedder {
	return &Embedder{provider: provider, repo: repo}
}

// IndexTexts embeds texts and upserts them into collection, creating the
// collection on first use. It returns the number of documents written.
func (e *Embedder) IndexTexts(ctx context.Context, collection string, texts []string, metadata []map[string]string) (int, error) {
	if len(texts) == 0 {
		return 0, errors.New("nothing to index")
	}
	vectors, err := e.provider.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
	}
	if err := e.repo.EnsureCollection(ctx, collection, len(vectors[0])); err != nil {
		return 0, fmt.Errorf("ensure collection: %w", err)
	}

	docs := make([]Document, len(texts))
	for i := range texts {
		meta := map[string]string{}
		if i < len(metadata) && metadata[i] != nil {
			meta = metadata[i]
		}
		docs[i] = Document{
			ID:       uuid.NewString(),
			Content:  texts[i],
			Vector:   vectors[i],
			Metadata: meta,
		}
	}
	if err := e.repo.Upsert(ctx, collection, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// SearchText embeds query and returns the topK closest documents.
func (e *Embedder) SearchText(ctx context.Context, collection, query string, topK int) ([]SearchResult, error) {
	vectors, err := e.provider.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want 1", len(vectors))
	}
	return e.repo.Search(ctx, collection, vectors[0], topK)
}

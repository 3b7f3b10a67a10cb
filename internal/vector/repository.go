package vector

import (
	"context"
	"errors"
)

// ErrCollectionNotFound is returned when searching or writing a collection
// that was never created.
var ErrCollectionNotFound = errors.New("collection not found")

// Document represents a chunk of text with its embedding.
type Document struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]string
}

// SearchResult is a single match from a similarity search.
type SearchResult struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]string
}

// Repository provides collection-scoped vector storage and similarity search.
// Each knowledge base owns one collection.
type Repository interface {
	// EnsureCollection creates the collection for vectors of size dim if it
	// does not exist yet.
	EnsureCollection(ctx context.Context, name string, dim int) error
	// Upsert inserts or updates documents.
	Upsert(ctx context.Context, collection string, docs []Document) error
	// Search finds the top-k most similar documents.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error)
	// DeleteCollection drops a collection and its documents.
	DeleteCollection(ctx context.Context, name string) error
	// Close releases resources.
	Close() error
}

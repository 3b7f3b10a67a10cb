package vector

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
)

// MemoryRepository is an in-process Repository using cosine similarity.
type MemoryRepository struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dim  int
	docs map[string]Document
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{collections: make(map[string]*memCollection)}
}

func (r *MemoryRepository) EnsureCollection(_ context.Context, name string, dim int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.collections[name]; ok {
		if c.dim != dim {
			return fmt.Errorf("collection %s has dimension %d, not %d", name, c.dim, dim)
		}
		return nil
	}
	r.collections[name] = &memCollection{dim: dim, docs: make(map[string]Document)}
	return nil
}

func (r *MemoryRepository) Upsert(_ context.Context, collection string, docs []Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collections[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	for _, d := range docs {
		if len(d.Vector) != c.dim {
			return fmt.Errorf("document %s: vector size %d, collection expects %d", d.ID, len(d.Vector), c.dim)
		}
		d.Vector = slices.Clone(d.Vector)
		d.Metadata = maps.Clone(d.Metadata)
		c.docs[d.ID] = d
	}
	return nil
}

func (r *MemoryRepository) Search(_ context.Context, collection string, vec []float32, topK int) ([]SearchResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	results := make([]SearchResult, 0, len(c.docs))
	for _, d := range c.docs {
		results = append(results, SearchResult{
			ID:       d.ID,
			Score:    cosine(vec, d.Vector),
			Content:  d.Content,
			Metadata: maps.Clone(d.Metadata),
		})
	}
	slices.SortFunc(results, func(a, b SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (r *MemoryRepository) DeleteCollection(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.collections, name)
	return nil
}

func (r *MemoryRepository) Close() error { return nil }

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ Repository = (*MemoryRepository)(nil)

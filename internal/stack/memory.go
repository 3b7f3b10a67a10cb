package stack

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository keeps stacks in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	stacks map[string]*Stack
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{stacks: make(map[string]*Stack)}
}

func (r *MemoryRepository) Create(_ context.Context, s *Stack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stacks[s.ID]; ok {
		return fmt.Errorf("stack %s already exists", s.ID)
	}
	r.stacks[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Stack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stacks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Clone(), nil
}

func (r *MemoryRepository) List(_ context.Context) ([]*Stack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Stack, 0, len(r.stacks))
	for _, s := range r.stacks {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, s *Stack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stacks[s.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, s.ID)
	}
	r.stacks[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stacks[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.stacks, id)
	return nil
}

func (r *MemoryRepository) Close(context.Context) error { return nil }

var _ Repository = (*MemoryRepository)(nil)

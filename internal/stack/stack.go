// Package stack stores named workflows and runs them on request.
package stack

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/efebarandurmaz/stackflow/internal/workflow"
)

// ErrNotFound is returned for an unknown stack id.
var ErrNotFound = errors.New("stack not found")

// Stack is a named, persisted workflow.
type Stack struct {
	ID          string                `json:"id"`
	Name        string                `json:"name" validate:"required,max=255"`
	Description string                `json:"description,omitempty" validate:"max=2000"`
	Workflow    workflow.WireDocument `json:"workflow_data"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// Clone returns a deep copy of s.
func (s *Stack) Clone() *Stack {
	cp := *s
	cp.Workflow = cloneWire(s.Workflow)
	return &cp
}

func cloneWire(w workflow.WireDocument) workflow.WireDocument {
	out := workflow.WireDocument{Viewport: w.Viewport}
	out.Nodes = make([]workflow.WireNode, len(w.Nodes))
	for i, n := range w.Nodes {
		n.Data = maps.Clone(n.Data)
		out.Nodes[i] = n
	}
	out.Edges = append([]workflow.WireEdge(nil), w.Edges...)
	return out
}

// Repository persists stacks.
type Repository interface {
	Create(ctx context.Context, s *Stack) error
	Get(ctx context.Context, id string) (*Stack, error)
	// List returns stacks newest first.
	List(ctx context.Context) ([]*Stack, error)
	Update(ctx context.Context, s *Stack) error
	Delete(ctx context.Context, id string) error
	Close(ctx context.Context) error
}

package neo4j

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/efebarandurmaz/stackflow/internal/stack"
	"github.com/efebarandurmaz/stackflow/internal/workflow"
)

func TestStackPropsRoundTrip(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &stack.Stack{
		ID: "s1", Name: "Support bot", Description: "answers tickets",
		CreatedAt: created, UpdatedAt: created.Add(time.Hour),
		Workflow: workflow.WireDocument{Viewport: workflow.Viewport{X: 10, Y: -4, Zoom: 1.5}},
	}
	props, err := stackProps(s)
	if err != nil {
		t.Fatalf("props: %v", err)
	}
	got, err := stackFromProps(props)
	if err != nil {
		t.Fatalf("from props: %v", err)
	}
	want := s.Clone()
	want.Workflow.Nodes = []workflow.WireNode{}
	want.Workflow.Edges = []workflow.WireEdge{}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stack mismatch (-want +got):\n%s", diff)
	}
}

func TestHelpers(t *testing.T) {
	if portOf("", "context") != "context" || portOf("query", "context") != "query" {
		t.Error("expected port to win over handle")
	}
	if num(int64(3)) != 3 || num(2.5) != 2.5 || num("x") != 0 {
		t.Error("unexpected numeric conversion")
	}
	if str(nil) != "" || str("a") != "a" {
		t.Error("unexpected string conversion")
	}
}

// TestRepository_Integration runs against a live database when
// STACKFLOW_TEST_NEO4J_URI is set.
func TestRepository_Integration(t *testing.T) {
	uri := os.Getenv("STACKFLOW_TEST_NEO4J_URI")
	if uri == "" {
		t.Skip("STACKFLOW_TEST_NEO4J_URI not set")
	}
	ctx := context.Background()
	repo, err := New(ctx, uri, os.Getenv("STACKFLOW_TEST_NEO4J_USER"), os.Getenv("STACKFLOW_TEST_NEO4J_PASSWORD"), "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer repo.Close(ctx)

	d := workflow.New()
	q, _ := d.AddNode(workflow.QueryIntake, workflow.Position{X: 1, Y: 2})
	o, _ := d.AddNode(workflow.Inference, workflow.Position{X: 3, Y: 4})
	d.AddEdge(q.ID, workflow.PortQuery, o.ID, workflow.PortQuery)

	now := time.Now().UTC().Truncate(time.Millisecond)
	s := &stack.Stack{ID: "it-" + now.Format("150405.000"), Name: "it", CreatedAt: now, UpdatedAt: now, Workflow: workflow.ToWire(d)}
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Workflow.Nodes) != 2 || len(got.Workflow.Edges) != 1 {
		t.Errorf("expected 2 nodes and 1 edge, got %+v", got.Workflow)
	}
	if err := repo.Delete(ctx, s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, s.ID); !errors.Is(err, stack.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

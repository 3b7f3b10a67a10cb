package stack

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/efebarandurmaz/stackflow/internal/observability"
	"github.com/efebarandurmaz/stackflow/internal/validation"
	"github.com/efebarandurmaz/stackflow/internal/workflow"
)

type stubRunner struct {
	out  string
	err  error
	seen []workflow.WireDocument
}

func (r *stubRunner) RunWire(_ context.Context, _ string, w workflow.WireDocument, _ string) (string, error) {
	r.seen = append(r.seen, w)
	return r.out, r.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) add(e string) {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
}

func (n *recordingNotifier) StackSaved(id, _ string)           { n.add("saved") }
func (n *recordingNotifier) StackDeleted(string)               { n.add("deleted") }
func (n *recordingNotifier) ExecutionStarted(_, _, _ string)   { n.add("started") }
func (n *recordingNotifier) ExecutionCompleted(_, _ string)    { n.add("completed") }
func (n *recordingNotifier) ExecutionFailed(_ string, _ error) { n.add("failed") }

type failingRepo struct{ *MemoryRepository }

func (failingRepo) Update(context.Context, *Stack) error { return errors.New("disk full") }

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func ragWire(t *testing.T) workflow.WireDocument {
	t.Helper()
	d := workflow.New()
	q, _ := d.AddNode(workflow.QueryIntake, workflow.Position{})
	inf, _ := d.AddNode(workflow.Inference, workflow.Position{})
	out, _ := d.AddNode(workflow.Output, workflow.Position{})
	d.AddEdge(q.ID, workflow.PortQuery, inf.ID, workflow.PortQuery)
	d.AddEdge(inf.ID, workflow.PortOutput, out.ID, workflow.PortInput)
	return workflow.ToWire(d)
}

func TestService_CRUD(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc := NewService(NewMemoryRepository(), &stubRunner{}, WithClock(fixedClock()), WithNotifier(notifier))

	a, err := svc.Create(ctx, "  First  ", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Name != "First" || len(a.Workflow.Nodes) != 0 || a.Workflow.Viewport.Zoom != 1 {
		t.Errorf("unexpected new stack %+v", a)
	}
	b, _ := svc.Create(ctx, "Second", "desc")

	all, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != b.ID {
		t.Errorf("expected newest first, got %v", []string{all[0].Name, all[1].Name})
	}

	if err := svc.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if got := strings.Join(notifier.events, ","); got != "saved,saved,deleted" {
		t.Errorf("unexpected events %s", got)
	}
}

func TestService_CreateValidatesName(t *testing.T) {
	svc := NewService(NewMemoryRepository(), &stubRunner{})
	if _, err := svc.Create(context.Background(), "   ", ""); !errors.Is(err, validation.ErrInvalid) {
		t.Errorf("expected ErrInvalid for blank name, got %v", err)
	}
	if _, err := svc.Create(context.Background(), strings.Repeat("n", 256), ""); !errors.Is(err, validation.ErrInvalid) {
		t.Errorf("expected ErrInvalid for long name, got %v", err)
	}
}

func TestService_UpdateNormalisesWorkflow(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewCollector("test")
	svc := NewService(NewMemoryRepository(), &stubRunner{}, WithMetrics(metrics))
	st, _ := svc.Create(ctx, "RAG", "")

	w := ragWire(t)
	for i := range w.Nodes {
		if w.Nodes[i].Type == workflow.Inference {
			w.Nodes[i].Data["prompt"] = "stale effective template"
			w.Nodes[i].Data["initialPrompt"] = "Be kind."
		}
	}
	w.Nodes = append(w.Nodes, workflow.WireNode{ID: "x", Type: "mystery"})

	saved, issues, err := svc.Update(ctx, st.ID, "RAG v2", "", w)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !workflow.HasIssue(issues, workflow.ErrUnknownNodeType) {
		t.Errorf("expected unknown node type issue, got %v", issues)
	}
	if len(saved.Workflow.Nodes) != 3 {
		t.Errorf("expected unknown node dropped, got %d nodes", len(saved.Workflow.Nodes))
	}
	for _, n := range saved.Workflow.Nodes {
		if n.Type == workflow.Inference && n.Data["prompt"] != "Be kind."+workflow.QueryClause {
			t.Errorf("expected re-synthesised prompt, got %q", n.Data["prompt"])
		}
	}

	got, _ := svc.Get(ctx, st.ID)
	if got.Name != "RAG v2" || len(got.Workflow.Edges) != 2 {
		t.Errorf("expected stored update, got %+v", got)
	}
	if n := testutil.ToFloat64(metrics.Saves.WithLabelValues(observability.OutcomeSuccess)); n != 2 {
		t.Errorf("expected 2 successful saves, got %v", n)
	}
}

func TestService_UpdateDropsIllegalEdges(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository(), &stubRunner{})
	st, _ := svc.Create(ctx, "loop", "")

	w := workflow.WireDocument{
		Nodes: []workflow.WireNode{
			{ID: "a", Type: workflow.Inference},
			{ID: "b", Type: workflow.KnowledgeBase},
		},
		Edges: []workflow.WireEdge{
			{ID: "e1", Source: "a", Target: "b", SourcePort: "output", TargetPort: "query"},
		},
	}
	saved, issues, err := svc.Update(ctx, st.ID, "loop", "", w)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !workflow.HasIssue(issues, workflow.ErrIncompatiblePorts) {
		t.Errorf("expected incompatible ports issue, got %v", issues)
	}
	if len(saved.Workflow.Edges) != 0 {
		t.Errorf("expected illegal edge dropped, got %+v", saved.Workflow.Edges)
	}
}

func TestService_UpdateErrors(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryRepository()
	svc := NewService(failingRepo{mem}, &stubRunner{})
	st, _ := svc.Create(ctx, "s", "")

	if _, _, err := svc.Update(ctx, st.ID, "s", "", workflow.EmptyWire()); !errors.Is(err, workflow.ErrPersistenceFailure) {
		t.Errorf("expected ErrPersistenceFailure, got %v", err)
	}
	if _, _, err := svc.Update(ctx, "missing", "s", "", workflow.EmptyWire()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	got, _ := svc.Get(ctx, st.ID)
	if got.UpdatedAt != st.UpdatedAt {
		t.Error("expected stored stack to be unchanged after a failed save")
	}
}

func TestService_Execute(t *testing.T) {
	ctx := context.Background()
	runner := &stubRunner{out: "answer"}
	notifier := &recordingNotifier{}
	svc := NewService(NewMemoryRepository(), runner, WithNotifier(notifier))
	st, _ := svc.Create(ctx, "s", "")

	if _, err := svc.Execute(ctx, st.ID, "q"); !errors.Is(err, workflow.ErrExecutionFailure) {
		t.Errorf("expected ErrExecutionFailure for an empty workflow, got %v", err)
	}

	if _, _, err := svc.Update(ctx, st.ID, "s", "", ragWire(t)); err != nil {
		t.Fatal(err)
	}
	out, err := svc.Execute(ctx, st.ID, "q")
	if err != nil || out != "answer" {
		t.Fatalf("expected answer, got %q, %v", out, err)
	}
	if len(runner.seen) != 1 || len(runner.seen[0].Nodes) != 3 {
		t.Errorf("expected runner to get the stored workflow, got %+v", runner.seen)
	}

	runner.err = errors.New("model down")
	if _, err := svc.Execute(ctx, st.ID, "q"); !errors.Is(err, workflow.ErrExecutionFailure) {
		t.Errorf("expected ErrExecutionFailure, got %v", err)
	}
	if _, err := svc.Execute(ctx, "missing", "q"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	want := "saved,saved,started,completed,started,failed"
	if got := strings.Join(notifier.events, ","); got != want {
		t.Errorf("expected events %s, got %s", want, got)
	}
}

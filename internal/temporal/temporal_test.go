package temporal

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.temporal.io/sdk/testsuite"

	wf "github.com/efebarandurmaz/stackflow/internal/workflow"
)

type countingRunner struct {
	calls   int
	failFor int
	err     error
}

func (r *countingRunner) RunWire(_ context.Context, stackID string, w wf.WireDocument, query string) (string, error) {
	r.calls++
	if r.calls <= r.failFor {
		return "", r.err
	}
	return fmt.Sprintf("%s:%d:%s", stackID, len(w.Nodes), query), nil
}

func newEnv(t *testing.T, r *countingRunner) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ExecuteStackWorkflow)
	env.RegisterActivity(&Activities{Runner: r})
	return env
}

func sampleInput() ExecuteStackInput {
	w := wf.EmptyWire()
	w.Nodes = append(w.Nodes, wf.WireNode{ID: "n1", Type: wf.QueryIntake, Data: map[string]any{"query": "hi"}})
	return ExecuteStackInput{StackID: "s1", Workflow: w, Query: "hello"}
}

func TestExecuteStackWorkflow(t *testing.T) {
	r := &countingRunner{}
	env := newEnv(t, r)
	env.ExecuteWorkflow(ExecuteStackWorkflow, sampleInput())

	if !env.IsWorkflowCompleted() {
		t.Fatal("expected workflow to complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	var out ExecuteStackOutput
	if err := env.GetWorkflowResult(&out); err != nil {
		t.Fatal(err)
	}
	if out.Output != "s1:1:hello" {
		t.Errorf("expected s1:1:hello, got %q", out.Output)
	}
}

func TestExecuteStackWorkflow_RetriesTransientFailures(t *testing.T) {
	r := &countingRunner{failFor: 2, err: errors.New("provider timeout")}
	env := newEnv(t, r)
	env.ExecuteWorkflow(ExecuteStackWorkflow, sampleInput())

	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if r.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", r.calls)
	}
}

func TestExecuteStackWorkflow_CyclicGraphIsNotRetried(t *testing.T) {
	r := &countingRunner{failFor: 10, err: fmt.Errorf("%w: loop", wf.ErrCyclicGraph)}
	env := newEnv(t, r)
	env.ExecuteWorkflow(ExecuteStackWorkflow, sampleInput())

	err := env.GetWorkflowError()
	if err == nil {
		t.Fatal("expected workflow error")
	}
	if r.calls != 1 {
		t.Errorf("expected a single attempt, got %d", r.calls)
	}
	if !errors.Is(unwrapWorkflowError(err), wf.ErrCyclicGraph) {
		t.Errorf("expected ErrCyclicGraph after unwrapping, got %v", err)
	}
}

// Package temporal runs stack executions durably on Temporal workers.
package temporal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"

	wf "github.com/efebarandurmaz/stackflow/internal/workflow"
)

// Dispatcher implements stack.Runner by starting ExecuteStackWorkflow and
// waiting for its result.
type Dispatcher struct {
	client    client.Client
	taskQueue string
}

func NewDispatcher(c client.Client, taskQueue string) *Dispatcher {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Dispatcher{client: c, taskQueue: taskQueue}
}

func (d *Dispatcher) RunWire(ctx context.Context, stackID string, w wf.WireDocument, query string) (string, error) {
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("stack-%s-%s", stackID, uuid.NewString()),
		TaskQueue: d.taskQueue,
	}
	run, err := d.client.ExecuteWorkflow(ctx, opts, ExecuteStackWorkflow, ExecuteStackInput{
		StackID:  stackID,
		Workflow: w,
		Query:    query,
	})
	if err != nil {
		return "", fmt.Errorf("start workflow: %w", err)
	}

	var out ExecuteStackOutput
	if err := run.Get(ctx, &out); err != nil {
		return "", unwrapWorkflowError(err)
	}
	return out.Output, nil
}

// unwrapWorkflowError restores sentinel errors lost in serialisation.
func unwrapWorkflowError(err error) error {
	var appErr *sdktemporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() == errTypeCyclicGraph {
		return fmt.Errorf("%w: %s", wf.ErrCyclicGraph, appErr.Message())
	}
	return err
}

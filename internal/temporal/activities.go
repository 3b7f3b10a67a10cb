package temporal

import (
	"context"
	"errors"

	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/efebarandurmaz/stackflow/internal/stack"
	wf "github.com/efebarandurmaz/stackflow/internal/workflow"
)

const errTypeCyclicGraph = "CyclicGraph"

// Activities holds what activities need on the worker side.
type Activities struct {
	Runner stack.Runner
}

// RunStack executes one workflow run in the worker process.
func (a *Activities) RunStack(ctx context.Context, in ExecuteStackInput) (ExecuteStackOutput, error) {
	out, err := a.Runner.RunWire(ctx, in.StackID, in.Workflow, in.Query)
	if err != nil {
		if errors.Is(err, wf.ErrCyclicGraph) {
			return ExecuteStackOutput{}, sdktemporal.NewNonRetryableApplicationError(err.Error(), errTypeCyclicGraph, err)
		}
		return ExecuteStackOutput{}, err
	}
	return ExecuteStackOutput{Output: out}, nil
}

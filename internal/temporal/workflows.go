package temporal

import (
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	wf "github.com/efebarandurmaz/stackflow/internal/workflow"
)

// ExecuteStackInput is the workflow's parameter.
type ExecuteStackInput struct {
	StackID  string
	Workflow wf.WireDocument
	Query    string
}

// ExecuteStackOutput is the workflow's result.
type ExecuteStackOutput struct {
	Output string
}

// ActivityTimeout bounds one execution attempt.
const ActivityTimeout = 5 * time.Minute

// ExecuteStackWorkflow runs a stack's workflow as a single retried activity.
func ExecuteStackWorkflow(ctx workflow.Context, in ExecuteStackInput) (*ExecuteStackOutput, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: ActivityTimeout,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{errTypeCyclicGraph},
		},
	})

	var a *Activities
	var out ExecuteStackOutput
	if err := workflow.ExecuteActivity(ctx, a.RunStack, in).Get(ctx, &out); err != nil {
		return nil, err
	}
	workflow.GetLogger(ctx).Info("stack executed", "stack", in.StackID)
	return &out, nil
}

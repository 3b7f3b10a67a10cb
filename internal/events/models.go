package events

import "time"

// RunStatus is the state of an execution run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Event types.
const (
	TypeConnected          = "connected"
	TypeStackSaved         = "stack.saved"
	TypeStackDeleted       = "stack.deleted"
	TypeExecutionStarted   = "execution.started"
	TypeExecutionCompleted = "execution.completed"
	TypeExecutionFailed    = "execution.failed"
	TypeKnowledgeIndexed   = "knowledge.indexed"
)

// Run is one execution of a stack.
type Run struct {
	ID          string        `json:"id"`
	StackID     string        `json:"stack_id"`
	Query       string        `json:"query"`
	Status      RunStatus     `json:"status"`
	Output      string        `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration_ms,omitempty"`
}

// Stats aggregates the runs currently held.
type Stats struct {
	TotalRuns     int     `json:"total_runs"`
	ActiveRuns    int     `json:"active_runs"`
	CompletedRuns int     `json:"completed_runs"`
	FailedRuns    int     `json:"failed_runs"`
	AvgDuration   float64 `json:"avg_duration_seconds"`
	SuccessRate   float64 `json:"success_rate"`
}

// Event is pushed to every subscriber.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	StackID   string    `json:"stack_id,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

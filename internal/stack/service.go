package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/stackflow/internal/observability"
	"github.com/efebarandurmaz/stackflow/internal/validation"
	"github.com/efebarandurmaz/stackflow/internal/workflow"
)

// Runner executes a stack's workflow. *engine.Executor runs it in process;
// *temporal.Dispatcher runs it on a worker.
type Runner interface {
	RunWire(ctx context.Context, stackID string, w workflow.WireDocument, query string) (string, error)
}

// Notifier is told about stack lifecycle and executions. *events.Emitter
// implements it.
type Notifier interface {
	StackSaved(id, name string)
	StackDeleted(id string)
	ExecutionStarted(runID, stackID, query string)
	ExecutionCompleted(runID, output string)
	ExecutionFailed(runID string, err error)
}

// Service manages stacks.
type Service struct {
	repo     Repository
	runner   Runner
	notifier Notifier
	metrics  *observability.Collector
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier publishes lifecycle events.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithMetrics counts saves.
func WithMetrics(c *observability.Collector) Option { return func(s *Service) { s.metrics = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a stack service.
func NewService(repo Repository, runner Runner, opts ...Option) *Service {
	s := &Service{repo: repo, runner: runner, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create stores a new stack with an empty workflow.
func (s *Service) Create(ctx context.Context, name, description string) (*Stack, error) {
	now := s.now().UTC()
	st := &Stack{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(name),
		Description: description,
		Workflow:    workflow.EmptyWire(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validation.Struct(st); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, st); err != nil {
		s.observeSave(err)
		return nil, persistErr(err)
	}
	s.observeSave(nil)
	s.logger.Info("stack created", "id", st.ID, "name", st.Name)
	if s.notifier != nil {
		s.notifier.StackSaved(st.ID, st.Name)
	}
	return st, nil
}

// Get returns a stack.
func (s *Service) Get(ctx context.Context, id string) (*Stack, error) {
	st, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, persistErr(err)
	}
	return st, nil
}

// List returns every stack, newest first.
func (s *Service) List(ctx context.Context) ([]*Stack, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, persistErr(err)
	}
	return all, nil
}

// Update replaces a stack's name, description and workflow. The workflow is
// normalised through a Document so the stored effective templates match
// its topology; cyclic workflows are refused. Load issues are returned
// alongside the saved stack.
func (s *Service) Update(ctx context.Context, id, name, description string, w workflow.WireDocument) (*Stack, []workflow.Issue, error) {
	st, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, persistErr(err)
	}

	doc, issues := workflow.FromWire(w)
	if doc.HasCycle() {
		return nil, issues, fmt.Errorf("%w: stack %s", workflow.ErrCyclicGraph, id)
	}

	st.Name = strings.TrimSpace(name)
	st.Description = description
	st.Workflow = workflow.ToWire(doc)
	st.UpdatedAt = s.now().UTC()
	if err := validation.Struct(st); err != nil {
		return nil, issues, err
	}

	if err := s.repo.Update(ctx, st); err != nil {
		s.observeSave(err)
		return nil, issues, persistErr(err)
	}
	s.observeSave(nil)
	s.logger.Info("stack saved", "id", id, "nodes", len(st.Workflow.Nodes), "edges", len(st.Workflow.Edges), "issues", len(issues))
	if s.notifier != nil {
		s.notifier.StackSaved(st.ID, st.Name)
	}
	return st, issues, nil
}

// Delete removes a stack.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return persistErr(err)
	}
	s.logger.Info("stack deleted", "id", id)
	if s.notifier != nil {
		s.notifier.StackDeleted(id)
	}
	return nil
}

// Execute runs a stack's workflow against query and returns the final
// output.
func (s *Service) Execute(ctx context.Context, id, query string) (string, error) {
	st, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", persistErr(err)
	}
	if len(st.Workflow.Nodes) == 0 {
		return "", fmt.Errorf("%w: stack %s has no workflow", workflow.ErrExecutionFailure, id)
	}

	runID := uuid.NewString()
	if s.notifier != nil {
		s.notifier.ExecutionStarted(runID, id, query)
	}
	out, err := s.runner.RunWire(ctx, id, st.Workflow, query)
	if err != nil {
		if s.notifier != nil {
			s.notifier.ExecutionFailed(runID, err)
		}
		if errors.Is(err, workflow.ErrCyclicGraph) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", workflow.ErrExecutionFailure, err)
	}
	if s.notifier != nil {
		s.notifier.ExecutionCompleted(runID, out)
	}
	return out, nil
}

func (s *Service) observeSave(err error) {
	if s.metrics != nil {
		s.metrics.ObserveSave(observability.Outcome(err))
	}
}

// persistErr marks repository failures other than a missing stack as
// persistence failures.
func persistErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", workflow.ErrPersistenceFailure, err)
}

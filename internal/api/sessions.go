package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/efebarandurmaz/stackflow/internal/editor"
	"github.com/efebarandurmaz/stackflow/internal/stack"
	"github.com/efebarandurmaz/stackflow/internal/workflow"
)

// saveRetryInterval spaces Save attempts while another request's save on the
// same stack is still running.
const saveRetryInterval = 25 * time.Millisecond

// sessions shares one editor session per stack between concurrent requests,
// so in-flight guards apply across them. A session is closed when its last
// holder releases it.
type sessions struct {
	stacks   *stack.Service
	ingester editor.Ingester
	runner   stack.Runner
	logger   *slog.Logger

	mu   sync.Mutex
	open map[string]*sessionRef
}

type sessionRef struct {
	s    *editor.Session
	refs int
}

func newSessions(stacks *stack.Service, ingester editor.Ingester, runner stack.Runner, logger *slog.Logger) *sessions {
	return &sessions{stacks: stacks, ingester: ingester, runner: runner, logger: logger, open: make(map[string]*sessionRef)}
}

// acquire returns the session for stackID, loading the stack when no
// request holds it yet. The caller must call release exactly once.
func (m *sessions) acquire(ctx context.Context, stackID string) (*editor.Session, func(), error) {
	m.mu.Lock()
	ref, ok := m.open[stackID]
	if ok {
		ref.refs++
		m.mu.Unlock()
		return ref.s, m.releaser(stackID, ref), nil
	}
	m.mu.Unlock()

	st, err := m.stacks.Get(ctx, stackID)
	if err != nil {
		return nil, nil, err
	}
	s, issues := editor.Open(st, m.stacks, m.ingester, m.runner, editor.WithLogger(m.logger))

	m.mu.Lock()
	defer m.mu.Unlock()
	if ref, ok := m.open[stackID]; ok {
		// Another request opened it while the stack was loading.
		s.Close()
		ref.refs++
		return ref.s, m.releaser(stackID, ref), nil
	}
	for _, is := range issues {
		m.logger.Warn("stored workflow issue", "stack", stackID, "issue", is.String())
	}
	ref = &sessionRef{s: s, refs: 1}
	m.open[stackID] = ref
	return s, m.releaser(stackID, ref), nil
}

func (m *sessions) releaser(stackID string, ref *sessionRef) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			ref.refs--
			if ref.refs == 0 {
				ref.s.Close()
				delete(m.open, stackID)
			}
		})
	}
}

// update applies a whole-stack update through the stack's session, so a
// save from an upload still running on it cannot write an older workflow
// over this one. A nil w keeps the session's workflow.
func (m *sessions) update(ctx context.Context, stackID, name, description string, w *workflow.WireDocument) (*stack.Stack, []workflow.Issue, error) {
	s, release, err := m.acquire(ctx, stackID)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	var issues []workflow.Issue
	if w != nil {
		if issues, err = s.Replace(*w); err != nil {
			return nil, issues, err
		}
	}
	if err := s.Rename(name, description); err != nil {
		return nil, issues, err
	}
	if err := m.save(ctx, s); err != nil {
		return nil, issues, err
	}
	st, err := m.stacks.Get(ctx, stackID)
	return st, issues, err
}

// save persists s, waiting out a save started by another holder so the
// latest document state is the one written.
func (m *sessions) save(ctx context.Context, s *editor.Session) error {
	for {
		err := s.Save(ctx)
		if !errors.Is(err, editor.ErrSaveInFlight) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(saveRetryInterval):
		}
	}
}

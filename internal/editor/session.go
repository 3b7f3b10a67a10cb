// Package editor holds one open workflow document per stack and coordinates
// the long-running operations started from it.
//
// Every mutation goes through Session.Do, which serialises callers. Save,
// Upload and Execute release the lock while their collaborator works and
// reacquire it to apply the result; results that arrive after Close are
// dropped.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/efebarandurmaz/stackflow/internal/knowledge"
	"github.com/efebarandurmaz/stackflow/internal/stack"
	"github.com/efebarandurmaz/stackflow/internal/workflow"
)

// Session errors.
var (
	ErrSessionClosed    = errors.New("session closed")
	ErrSaveInFlight     = errors.New("save already in progress")
	ErrUploadInFlight   = errors.New("upload already in progress for node")
	ErrExecuteInFlight  = errors.New("execution already in progress")
	ErrNotKnowledgeBase = errors.New("node is not a knowledge base")
)

// Saver persists a stack's workflow. *stack.Service implements it.
type Saver interface {
	Update(ctx context.Context, id, name, description string, w workflow.WireDocument) (*stack.Stack, []workflow.Issue, error)
}

// Ingester indexes an uploaded file. *knowledge.Service implements it.
type Ingester interface {
	Ingest(ctx context.Context, u knowledge.Upload) (*knowledge.Result, error)
}

// Session edits one stack's workflow.
type Session struct {
	stackID     string
	name        string
	description string

	saver    Saver
	ingester Ingester
	runner   stack.Runner
	logger   *slog.Logger

	mu        sync.Mutex
	doc       *workflow.Document
	closed    bool
	saving    bool
	executing bool
	uploading map[string]bool
	subs      []*subscription
}

type subscription struct {
	fn     func(workflow.Change)
	cancel func()
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger for save and upload outcomes.
func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

// Open loads st into a new session. Issues found while loading the stored
// workflow are returned; the offending parts are already dropped.
func Open(st *stack.Stack, saver Saver, ingester Ingester, runner stack.Runner, opts ...Option) (*Session, []workflow.Issue) {
	doc, issues := workflow.FromWire(st.Workflow)
	s := &Session{
		stackID:     st.ID,
		name:        st.Name,
		description: st.Description,
		saver:       saver,
		ingester:    ingester,
		runner:      runner,
		logger:      slog.Default(),
		doc:         doc,
		uploading:   make(map[string]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s, issues
}

// StackID returns the id of the stack being edited.
func (s *Session) StackID() string { return s.stackID }

// Do runs fn with exclusive access to the document. Subscribers are
// notified before Do returns, still under the lock, so they must not call
// back into the session.
func (s *Session) Do(fn func(d *workflow.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return fn(s.doc)
}

// Subscribe registers fn for document changes. Subscriptions follow the
// session across Replace.
func (s *Session) Subscribe(fn func(workflow.Change)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.subs = append(s.subs, &subscription{fn: fn, cancel: s.doc.Subscribe(fn)})
	return nil
}

// Replace swaps the open document for w, as a whole-workflow update does.
// A cyclic w is refused and the document is kept. Uploads still running
// record their result on the new document if it has the node. Issues found
// while loading w are returned.
func (s *Session) Replace(w workflow.WireDocument) ([]workflow.Issue, error) {
	doc, issues := workflow.FromWire(w)
	if doc.HasCycle() {
		return issues, fmt.Errorf("%w: stack %s", workflow.ErrCyclicGraph, s.stackID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return issues, ErrSessionClosed
	}
	s.doc = doc
	for _, sub := range s.subs {
		sub.cancel()
		sub.cancel = doc.Subscribe(sub.fn)
	}
	return issues, nil
}

// Snapshot returns the current persisted form.
func (s *Session) Snapshot() workflow.WireDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return workflow.ToWire(s.doc)
}

// Rename changes the name and description written by the next Save.
func (s *Session) Rename(name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.name, s.description = name, description
	return nil
}

// Save persists a snapshot of the document. Only one save runs at a time;
// a failed save leaves the document as it is.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.saving:
		s.mu.Unlock()
		return ErrSaveInFlight
	case s.doc.HasCycle():
		s.mu.Unlock()
		return fmt.Errorf("%w: stack %s", workflow.ErrCyclicGraph, s.stackID)
	}
	s.saving = true
	snap := workflow.ToWire(s.doc)
	name, desc := s.name, s.description
	s.mu.Unlock()

	_, _, err := s.saver.Update(ctx, s.stackID, name, desc, snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if s.closed {
		return ErrSessionClosed
	}
	if err != nil {
		s.logger.Warn("save failed", "stack", s.stackID, "error", err)
		if errors.Is(err, workflow.ErrPersistenceFailure) {
			return err
		}
		return fmt.Errorf("%w: %w", workflow.ErrPersistenceFailure, err)
	}
	return nil
}

// Upload indexes a file for KnowledgeBase node nodeID and records the
// resulting collection on the node, which re-synthesises downstream
// templates. One upload per node runs at a time.
func (s *Session) Upload(ctx context.Context, nodeID, fileName string, data []byte) (*knowledge.Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	cfg, err := s.doc.Config(nodeID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	kb, ok := cfg.(*workflow.KnowledgeBaseConfig)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotKnowledgeBase, nodeID)
	}
	if s.uploading[nodeID] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUploadInFlight, nodeID)
	}
	s.uploading[nodeID] = true
	if err := s.doc.Patch(nodeID, map[string]any{"fileName": fileName}); err != nil {
		s.logger.Warn("record file name", "node", nodeID, "error", err)
	}
	upload := knowledge.Upload{FileName: fileName, Data: data, EmbeddingModel: kb.EmbeddingModel, APIKey: kb.APIKey}
	s.mu.Unlock()

	res, ingestErr := s.ingester.Ingest(ctx, upload)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploading, nodeID)
	if s.closed {
		return nil, ErrSessionClosed
	}
	if _, ok := s.doc.Node(nodeID); !ok {
		return nil, fmt.Errorf("%w: %s removed during upload", workflow.ErrUnknownNode, nodeID)
	}
	if ingestErr != nil {
		if err := s.doc.Patch(nodeID, map[string]any{"uploadSuccess": false}); err != nil {
			s.logger.Warn("record failed upload", "node", nodeID, "error", err)
		}
		return nil, ingestErr
	}
	if err := s.doc.Patch(nodeID, map[string]any{"collectionName": res.CollectionName, "uploadSuccess": res.Ready}); err != nil {
		return nil, err
	}
	s.logger.Info("knowledge base ready", "stack", s.stackID, "node", nodeID, "collection", res.CollectionName)
	return res, nil
}

// Execute runs the current document against query.
func (s *Session) Execute(ctx context.Context, query string) (string, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return "", ErrSessionClosed
	case s.executing:
		s.mu.Unlock()
		return "", ErrExecuteInFlight
	case s.doc.HasCycle():
		s.mu.Unlock()
		return "", fmt.Errorf("%w: stack %s", workflow.ErrCyclicGraph, s.stackID)
	}
	s.executing = true
	snap := workflow.ToWire(s.doc)
	s.mu.Unlock()

	out, err := s.runner.RunWire(ctx, s.stackID, snap, query)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.executing = false
	if s.closed {
		return "", ErrSessionClosed
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", workflow.ErrExecutionFailure, err)
	}
	return out, nil
}

// Close disposes of the session. Operations still running complete but
// their results are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, sub := range s.subs {
		sub.cancel()
	}
	s.subs = nil
}

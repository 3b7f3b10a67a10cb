// Package events records stack executions and streams lifecycle events to
// subscribers over Server-Sent Events.
package events

import (
	"time"
)

// Emitter records runs in a Store and broadcasts events on a Hub. It
// implements stack.Notifier.
type Emitter struct {
	store *Store
	hub   *Hub
	now   func() time.Time
}

func NewEmitter(store *Store, hub *Hub) *Emitter {
	return &Emitter{store: store, hub: hub, now: time.Now}
}

func (e *Emitter) Store() *Store { return e.store }
func (e *Emitter) Hub() *Hub     { return e.hub }

func (e *Emitter) StackSaved(id, name string) {
	e.broadcast(&Event{Type: TypeStackSaved, StackID: id, Data: map[string]string{"name": name}})
}

func (e *Emitter) StackDeleted(id string) {
	e.broadcast(&Event{Type: TypeStackDeleted, StackID: id})
}

func (e *Emitter) ExecutionStarted(runID, stackID, query string) {
	r := &Run{ID: runID, StackID: stackID, Query: query, Status: StatusRunning, StartedAt: e.now()}
	e.store.Add(r)
	e.broadcast(&Event{Type: TypeExecutionStarted, StackID: stackID, RunID: runID, Data: *r})
}

func (e *Emitter) ExecutionCompleted(runID, output string) {
	r, ok := e.finish(runID, func(r *Run) {
		r.Status = StatusCompleted
		r.Output = output
	})
	if ok {
		e.broadcast(&Event{Type: TypeExecutionCompleted, StackID: r.StackID, RunID: runID, Data: r})
	}
}

func (e *Emitter) ExecutionFailed(runID string, err error) {
	r, ok := e.finish(runID, func(r *Run) {
		r.Status = StatusFailed
		if err != nil {
			r.Error = err.Error()
		}
	})
	if ok {
		e.broadcast(&Event{Type: TypeExecutionFailed, StackID: r.StackID, RunID: runID, Data: r})
	}
}

// KnowledgeIndexed announces a collection that became ready.
func (e *Emitter) KnowledgeIndexed(collection string, chunks int) {
	e.broadcast(&Event{Type: TypeKnowledgeIndexed, Data: map[string]any{"collection_name": collection, "chunks": chunks}})
}

func (e *Emitter) finish(runID string, fn func(*Run)) (Run, bool) {
	now := e.now()
	return e.store.Update(runID, func(r *Run) {
		fn(r)
		r.CompletedAt = &now
		r.Duration = now.Sub(r.StartedAt)
	})
}

func (e *Emitter) broadcast(ev *Event) {
	ev.Timestamp = e.now()
	e.hub.Broadcast(ev)
}

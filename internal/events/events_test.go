package events

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func steppingClock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestEmitter_RecordsRuns(t *testing.T) {
	store := NewStore()
	e := NewEmitter(store, NewHub())
	e.now = steppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	e.ExecutionStarted("r1", "s1", "hello")
	e.ExecutionStarted("r2", "s1", "again")
	e.ExecutionStarted("r3", "s2", "other")
	e.ExecutionCompleted("r1", "world")
	e.ExecutionFailed("r2", errors.New("model down"))

	r1, ok := store.Get("r1")
	if !ok || r1.Status != StatusCompleted || r1.Output != "world" || r1.CompletedAt == nil {
		t.Fatalf("unexpected r1 %+v", r1)
	}
	if r1.Duration <= 0 {
		t.Errorf("expected positive duration, got %v", r1.Duration)
	}
	if r2, _ := store.Get("r2"); r2.Status != StatusFailed || r2.Error != "model down" {
		t.Errorf("unexpected r2 %+v", r2)
	}

	runs := store.List("s1")
	if len(runs) != 2 || runs[0].ID != "r2" {
		t.Errorf("expected s1 runs newest first, got %+v", runs)
	}

	st := store.Stats()
	if st.TotalRuns != 3 || st.ActiveRuns != 1 || st.CompletedRuns != 1 || st.FailedRuns != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.SuccessRate != 0.5 {
		t.Errorf("expected success rate 0.5, got %v", st.SuccessRate)
	}

	// Finishing an unknown run is ignored.
	e.ExecutionCompleted("ghost", "x")
	if _, ok := store.Get("ghost"); ok {
		t.Error("expected unknown run to stay unknown")
	}
}

func TestStore_EvictsOldestFinished(t *testing.T) {
	store := NewStore()
	base := time.Now()
	store.Add(&Run{ID: "active", Status: StatusRunning, StartedAt: base.Add(-time.Hour)})
	for i := 0; i < maxRuns; i++ {
		store.Add(&Run{ID: fmt.Sprintf("done-%d", i), Status: StatusCompleted, StartedAt: base.Add(time.Duration(i) * time.Second)})
	}
	if got := len(store.List("")); got != maxRuns {
		t.Fatalf("expected %d runs, got %d", maxRuns, got)
	}
	if _, ok := store.Get("active"); !ok {
		t.Error("expected running run to survive eviction")
	}
	if _, ok := store.Get("done-0"); ok {
		t.Error("expected oldest finished run to be evicted")
	}
}

func TestHub_BroadcastsToClients(t *testing.T) {
	hub := NewHub()
	rec := httptest.NewRecorder()
	c, err := NewClient(rec)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	hub.Register(c)

	e := NewEmitter(NewStore(), hub)
	e.StackSaved("s1", "Bot")
	c.Ping()

	body := rec.Body.String()
	if !strings.Contains(body, "event: stack.saved\n") || !strings.Contains(body, `"stack_id":"s1"`) {
		t.Errorf("expected stack.saved frame, got %q", body)
	}
	if !strings.Contains(body, ": ping\n\n") {
		t.Errorf("expected ping, got %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event-stream content type, got %q", ct)
	}

	hub.Unregister(c)
	if hub.Clients() != 0 {
		t.Errorf("expected no clients, got %d", hub.Clients())
	}
	n := rec.Body.Len()
	e.StackDeleted("s1")
	c.Ping()
	if rec.Body.Len() != n {
		t.Error("expected no writes after unregister")
	}
}

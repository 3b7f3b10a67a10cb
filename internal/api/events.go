package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efebarandurmaz/stackflow/internal/events"
)

// ExecutionsResponse lists recent runs with aggregate stats.
type ExecutionsResponse struct {
	Runs  []events.Run `json:"runs"`
	Stats events.Stats `json:"stats"`
}

// streamEvents handles GET /events (Server-Sent Events)
func (rt *Router) streamEvents(w http.ResponseWriter, r *http.Request) {
	client, err := events.NewClient(w)
	if err != nil {
		rt.respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	hub := rt.deps.Emitter.Hub()
	hub.Register(client)
	defer hub.Unregister(client)

	rt.logger.Info("event stream connected", "clients", hub.Clients())

	data, _ := json.Marshal(&events.Event{Type: events.TypeConnected, Timestamp: time.Now()})
	client.Send(events.TypeConnected, data)

	ticker := time.NewTicker(rt.deps.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			rt.logger.Info("event stream disconnected")
			return
		case <-ticker.C:
			client.Ping()
		}
	}
}

// listExecutions handles GET /executions?stack_id=
func (rt *Router) listExecutions(w http.ResponseWriter, r *http.Request) {
	store := rt.deps.Emitter.Store()
	runs := store.List(r.URL.Query().Get("stack_id"))
	if runs == nil {
		runs = []events.Run{}
	}
	rt.respondJSON(w, http.StatusOK, ExecutionsResponse{Runs: runs, Stats: store.Stats()})
}

// getExecution handles GET /executions/{runID}
func (rt *Router) getExecution(w http.ResponseWriter, r *http.Request) {
	run, ok := rt.deps.Emitter.Store().Get(chi.URLParam(r, "runID"))
	if !ok {
		rt.respondError(w, http.StatusNotFound, "execution not found")
		return
	}
	rt.respondJSON(w, http.StatusOK, run)
}

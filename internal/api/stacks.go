package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/efebarandurmaz/stackflow/internal/stack"
	"github.com/efebarandurmaz/stackflow/internal/validation"
	"github.com/efebarandurmaz/stackflow/internal/workflow"
)

// CreateStackRequest is the body of POST /stacks.
type CreateStackRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=2000"`
}

// UpdateStackRequest is the body of PUT /stacks/{stackID}. A missing
// workflow_data keeps the stored workflow.
type UpdateStackRequest struct {
	Name        string                 `json:"name" validate:"required,max=255"`
	Description string                 `json:"description" validate:"max=2000"`
	Workflow    *workflow.WireDocument `json:"workflow_data"`
}

// StackResponse is a stack plus the issues found while normalising its
// workflow.
type StackResponse struct {
	*stack.Stack
	Issues []IssueResponse `json:"issues,omitempty"`
}

// ExecuteRequest is the body of POST /stacks/{stackID}/execute.
type ExecuteRequest struct {
	Query string `json:"query" validate:"max=10000"`
}

// ExecuteResponse carries the final output of an execution.
type ExecuteResponse struct {
	Response string `json:"response"`
}

// listStacks handles GET /stacks
func (rt *Router) listStacks(w http.ResponseWriter, r *http.Request) {
	stacks, err := rt.deps.Stacks.List(r.Context())
	if err != nil {
		rt.respondErr(w, r, err)
		return
	}
	if stacks == nil {
		stacks = []*stack.Stack{}
	}
	rt.respondJSON(w, http.StatusOK, stacks)
}

// createStack handles POST /stacks
func (rt *Router) createStack(w http.ResponseWriter, r *http.Request) {
	var req CreateStackRequest
	if err := decodeJSON(r, &req); err != nil {
		rt.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validation.Struct(req); err != nil {
		rt.respondErr(w, r, err)
		return
	}

	st, err := rt.deps.Stacks.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		rt.respondErr(w, r, err)
		return
	}
	rt.respondJSON(w, http.StatusCreated, st)
}

// getStack handles GET /stacks/{stackID}
func (rt *Router) getStack(w http.ResponseWriter, r *http.Request) {
	st, err := rt.deps.Stacks.Get(r.Context(), chi.URLParam(r, "stackID"))
	if err != nil {
		rt.respondErr(w, r, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, st)
}

// updateStack handles PUT /stacks/{stackID}
func (rt *Router) updateStack(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "stackID")

	var req UpdateStackRequest
	if err := decodeJSON(r, &req); err != nil {
		rt.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validation.Struct(req); err != nil {
		rt.respondErr(w, r, err)
		return
	}

	st, issues, err := rt.sessions.update(r.Context(), id, req.Name, req.Description, req.Workflow)
	if err != nil {
		rt.respondErr(w, r, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, StackResponse{Stack: st, Issues: issuesResponse(issues)})
}

// deleteStack handles DELETE /stacks/{stackID}
func (rt *Router) deleteStack(w http.ResponseWriter, r *http.Request) {
	if err := rt.deps.Stacks.Delete(r.Context(), chi.URLParam(r, "stackID")); err != nil {
		rt.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// executeStack handles POST /stacks/{stackID}/execute
func (rt *Router) executeStack(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		rt.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validation.Struct(req); err != nil {
		rt.respondErr(w, r, err)
		return
	}

	out, err := rt.deps.Stacks.Execute(r.Context(), chi.URLParam(r, "stackID"), req.Query)
	if err != nil {
		rt.respondErr(w, r, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, ExecuteResponse{Response: out})
}

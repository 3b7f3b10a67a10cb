package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/efebarandurmaz/stackflow/internal/editor"
	"github.com/efebarandurmaz/stackflow/internal/knowledge"
	"github.com/efebarandurmaz/stackflow/internal/stack"
	"github.com/efebarandurmaz/stackflow/internal/validation"
	"github.com/efebarandurmaz/stackflow/internal/workflow"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// IssueResponse is a workflow issue as sent to clients.
type IssueResponse struct {
	Code    string `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
	Message string `json:"message"`
}

func issuesResponse(issues []workflow.Issue) []IssueResponse {
	out := make([]IssueResponse, 0, len(issues))
	for _, is := range issues {
		out = append(out, IssueResponse{Code: is.Code(), NodeID: is.NodeID, EdgeID: is.EdgeID, Message: is.Message})
	}
	return out
}

// statusFor maps a service error to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, stack.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, workflow.ErrUnknownNode):
		return http.StatusNotFound, "unknown_node"
	case errors.Is(err, validation.ErrInvalid),
		errors.Is(err, workflow.ErrIncompatiblePorts),
		errors.Is(err, workflow.ErrSelfConnection),
		errors.Is(err, workflow.ErrInvalidField),
		errors.Is(err, editor.ErrNotKnowledgeBase):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, knowledge.ErrEmptyFile),
		errors.Is(err, knowledge.ErrUnsupportedFile),
		errors.Is(err, knowledge.ErrNoText):
		return http.StatusBadRequest, "invalid_file"
	case errors.Is(err, knowledge.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, workflow.ErrCyclicGraph):
		return http.StatusUnprocessableEntity, "cyclic_graph"
	case errors.Is(err, editor.ErrSaveInFlight),
		errors.Is(err, editor.ErrUploadInFlight),
		errors.Is(err, editor.ErrExecuteInFlight):
		return http.StatusConflict, "in_flight"
	case errors.Is(err, workflow.ErrPersistenceFailure):
		return http.StatusServiceUnavailable, "persistence_failure"
	case errors.Is(err, workflow.ErrExecutionFailure):
		return http.StatusBadGateway, "execution_failure"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// respondJSON writes a JSON response.
func (rt *Router) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		rt.logger.Error("encode response", "error", err)
	}
}

// respondError writes an error response with an explicit status.
func (rt *Router) respondError(w http.ResponseWriter, status int, msg string) {
	rt.respondJSON(w, status, ErrorResponse{Error: msg})
}

// respondErr maps err through statusFor. Server-side failures are logged;
// their detail is not sent to the client.
func (rt *Router) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		if status == http.StatusInternalServerError {
			msg = "internal server error"
		}
	}
	rt.respondJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

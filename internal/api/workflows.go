package api

import (
	"net/http"

	"github.com/efebarandurmaz/stackflow/internal/workflow"
)

// SynthesizeResponse is a normalised workflow with its effective templates
// re-derived, plus everything found while loading and validating it.
type SynthesizeResponse struct {
	Workflow workflow.WireDocument `json:"workflow_data"`
	Issues   []IssueResponse       `json:"issues"`
	Runnable bool                  `json:"runnable"`
}

// CatalogResponse lists the selectable models.
type CatalogResponse struct {
	InferenceModels []workflow.CatalogEntry `json:"inference_models"`
	EmbeddingModels []workflow.CatalogEntry `json:"embedding_models"`
}

// synthesize handles POST /workflows/synthesize
func (rt *Router) synthesize(w http.ResponseWriter, r *http.Request) {
	var wire workflow.WireDocument
	if err := decodeJSON(r, &wire); err != nil {
		rt.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	doc, issues := workflow.FromWire(wire)
	issues = append(issues, doc.Validate()...)
	rt.respondJSON(w, http.StatusOK, SynthesizeResponse{
		Workflow: workflow.ToWire(doc),
		Issues:   issuesResponse(issues),
		Runnable: !doc.HasCycle() && len(doc.Nodes()) > 0,
	})
}

// catalog handles GET /catalog
func (rt *Router) catalog(w http.ResponseWriter, r *http.Request) {
	rt.respondJSON(w, http.StatusOK, CatalogResponse{
		InferenceModels: workflow.InferenceModels,
		EmbeddingModels: workflow.EmbeddingModels,
	})
}

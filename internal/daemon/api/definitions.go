package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/flowforge/catalog/pkg/catalog/dag"
	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/flowforge/catalog/pkg/catalog/store"
)

// DefinitionsHandler exposes job/workflow definition registration and
// lookup over HTTP, the surface catalogctl's register commands publish
// through.
type DefinitionsHandler struct {
	Store store.RecordStore
}

// RegisterRoutes registers definition routes on mux.
func (h *DefinitionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PUT /v1/jobs/{slug}", h.handlePutJob)
	mux.HandleFunc("GET /v1/jobs/{slug}", h.handleGetJob)
	mux.HandleFunc("GET /v1/jobs", h.handleListJobs)

	mux.HandleFunc("PUT /v1/workflows/{slug}", h.handlePutWorkflow)
	mux.HandleFunc("GET /v1/workflows/{slug}", h.handleGetWorkflow)
	mux.HandleFunc("GET /v1/workflows", h.handleListWorkflows)
}

func (h *DefinitionsHandler) handlePutJob(w http.ResponseWriter, r *http.Request) {
	var def model.JobDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	def.Slug = r.PathValue("slug")
	if err := h.Store.PutJobDefinition(r.Context(), &def); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("put job definition: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, &def)
}

func (h *DefinitionsHandler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	def, err := h.Store.GetJobDefinition(r.Context(), slug)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %q not found", slug))
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (h *DefinitionsHandler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Store.ListJobDefinitions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list job definitions: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

// handlePutWorkflow computes the workflow's DAG server-side before
// persisting, so every stored definition carries a validated DAG
// regardless of what (if anything) the client sent.
func (h *DefinitionsHandler) handlePutWorkflow(w http.ResponseWriter, r *http.Request) {
	var def model.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	def.Slug = r.PathValue("slug")

	built, err := dag.Build(def.Steps)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid workflow DAG: %v", err))
		return
	}
	def.DAG = built

	if err := h.Store.PutWorkflowDefinition(r.Context(), &def); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("put workflow definition: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, &def)
}

func (h *DefinitionsHandler) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	def, err := h.Store.GetWorkflowDefinition(r.Context(), slug)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("workflow %q not found", slug))
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (h *DefinitionsHandler) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Store.ListWorkflowDefinitions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list workflow definitions: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

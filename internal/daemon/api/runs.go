package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/flowforge/catalog/pkg/catalog/store"
)

// RunsHandler exposes workflow run creation/inspection over HTTP.
type RunsHandler struct {
	Store    store.RecordStore
	Dispatch func(workflowRunID string)
}

// RegisterRoutes registers run routes on mux.
func (h *RunsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/runs", h.handleCreate)
	mux.HandleFunc("GET /v1/runs/{id}", h.handleGet)
}

// CreateRunRequest is the request body for POST /v1/runs.
type CreateRunRequest struct {
	Workflow     string                 `json:"workflow"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	PartitionKey string                 `json:"partitionKey,omitempty"`
}

func (h *RunsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Workflow == "" {
		writeError(w, http.StatusBadRequest, "workflow is required")
		return
	}

	def, err := h.Store.GetWorkflowDefinition(r.Context(), req.Workflow)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("workflow %q not found", req.Workflow))
		return
	}

	run := &model.WorkflowRun{
		ID:                   uuid.NewString(),
		WorkflowDefinitionID: def.Slug,
		Status:               model.WorkflowRunPending,
		Parameters:           req.Parameters,
		Context:              &model.RunContext{Steps: map[string]*model.StepRunState{}, Shared: map[string]interface{}{}},
		Trigger:              model.TriggerDescriptor{Type: "manual"},
		TriggeredBy:          CorrelationIDFromContext(r.Context()),
		PartitionKey:         req.PartitionKey,
		CreatedAt:            time.Now(),
	}
	if err := h.Store.CreateWorkflowRun(r.Context(), run); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create run: %v", err))
		return
	}

	if h.Dispatch != nil {
		h.Dispatch(run.ID)
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (h *RunsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.Store.GetWorkflowRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

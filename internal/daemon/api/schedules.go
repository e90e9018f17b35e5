package api

import (
	"fmt"
	"net/http"

	"github.com/flowforge/catalog/pkg/catalog/store"
)

// SchedulesHandler exposes schedule inspection/toggling over HTTP.
type SchedulesHandler struct {
	Store store.RecordStore
}

// RegisterRoutes registers schedule routes on mux.
func (h *SchedulesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/schedules/{id}", h.handleGet)
	mux.HandleFunc("POST /v1/schedules/{id}/enable", h.handleSetActive(true))
	mux.HandleFunc("POST /v1/schedules/{id}/disable", h.handleSetActive(false))
}

func (h *SchedulesHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sched, err := h.Store.GetSchedule(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("schedule %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *SchedulesHandler) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		sched, err := h.Store.GetSchedule(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("schedule %q not found", id))
			return
		}
		sched.IsActive = active
		if err := h.Store.PutSchedule(r.Context(), sched); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("update schedule: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, sched)
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/catalog/pkg/catalog/eventbus"
)

// EventsHandler accepts external webhook deliveries and republishes them
// on the event bus for the trigger processor to match.
type EventsHandler struct {
	Bus eventbus.Bus
}

// RegisterRoutes registers the inbound event route on mux.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/events/{type}", h.handlePublish)
}

func (h *EventsHandler) handlePublish(w http.ResponseWriter, r *http.Request) {
	eventType := r.PathValue("type")
	if eventType == "" {
		writeError(w, http.StatusBadRequest, "event type required")
		return
	}

	var payload map[string]interface{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	env := eventbus.Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		Source:     r.Header.Get("X-Event-Source"),
		Payload:    payload,
		OccurredAt: time.Now(),
	}
	if err := h.Bus.Publish(r.Context(), env); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("publish event: %v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"eventId": env.ID})
}

package handlers

import (
	"encoding/json"
	"net/http"

	"coursehub/internal/api/middleware"
	"coursehub/internal/engine/webhooks"
	"coursehub/internal/pkg/errors"
	"coursehub/internal/platform/audit"
	"coursehub/internal/platform/models"
)

// EventHandler is where the rest of the platform raises domain events.
type EventHandler struct {
	service *webhooks.Service
	audit   *audit.Logger
}

func NewEventHandler(service *webhooks.Service, auditor *audit.Logger) *EventHandler {
	return &EventHandler{service: service, audit: auditor}
}

type triggerRequest struct {
	Event   models.EventType `json:"event"`
	Data    json.RawMessage  `json:"data"`
	OwnerID string           `json:"owner_id,omitempty"`
}

func (h *EventHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if !req.Event.Subscribable() {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unknown event type",
			map[string]interface{}{"event": req.Event, "allowed": models.SubscribableEvents})
		return
	}

	var data interface{}
	if len(req.Data) > 0 && string(req.Data) != "null" {
		data = req.Data
	}

	h.service.Trigger(req.Event, data, req.OwnerID)

	if claims := middleware.ClaimsFrom(r.Context()); claims != nil {
		h.audit.Log(r.Context(), claims.UserID, audit.ActionEventTriggered, "event", string(req.Event),
			map[string]interface{}{"owner_scope": req.OwnerID})
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"event":  string(req.Event),
	})
}

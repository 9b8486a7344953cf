package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	apiContext "coursehub/internal/api/context"
	"coursehub/internal/api/middleware"
	"coursehub/internal/engine/webhooks"
	"coursehub/internal/pkg/errors"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

type WebhookHandler struct {
	service *webhooks.Service
}

func NewWebhookHandler(service *webhooks.Service) *WebhookHandler {
	return &WebhookHandler{service: service}
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	var req webhooks.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	created, err := h.service.Create(r.Context(), claims.UserID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	list, err := h.service.List(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"webhooks": list,
		"total":    len(list),
	})
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	webhook, err := h.service.Get(r.Context(), webhookID(r), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, webhook)
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	var req webhooks.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	webhook, err := h.service.Update(r.Context(), webhookID(r), claims.UserID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, webhook)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	if err := h.service.Delete(r.Context(), webhookID(r), claims.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Test sends a single ping and reports the outcome. A failed delivery is
// still a 200: the request itself succeeded.
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	outcome, err := h.service.SendTest(r.Context(), webhookID(r), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

func webhookID(r *http.Request) string {
	params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	return params.ByName("webhook_id")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeServiceError(w http.ResponseWriter, err error) {
	var verr *webhooks.ValidationError
	switch {
	case stderrors.As(err, &verr):
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, verr.Error(),
			map[string]string{"field": verr.Field})
	case stderrors.Is(err, webhooks.ErrForbidden):
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "You do not own this webhook", nil)
	case stderrors.Is(err, webhooks.ErrNotFound):
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Webhook not found", nil)
	default:
		log.Error().Err(err).Msg("webhook request failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal server error", nil)
	}
}

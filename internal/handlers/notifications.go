package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lumenshop/orders-api/internal/platform/httpx"
	"github.com/lumenshop/orders-api/internal/services"
)

type resendNotificationRequest struct {
	Type string `json:"type"`
}

// NotificationHandlers exposes the manual notification resend endpoint.
type NotificationHandlers struct {
	dispatcher *services.NotificationDispatcher
}

// NewNotificationHandlers constructs a new NotificationHandlers instance.
func NewNotificationHandlers(dispatcher *services.NotificationDispatcher) *NotificationHandlers {
	return &NotificationHandlers{dispatcher: dispatcher}
}

// Routes registers the /notifications endpoints.
func (h *NotificationHandlers) Routes(r chi.Router) {
	r.Post("/{orderID}/resend", h.resend)
}

func (h *NotificationHandlers) resend(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if !validEntityID(orderID, "ord_") {
		writeBadRequest(w, r, "order id must look like ord_<ULID>")
		return
	}

	var req resendNotificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeValidationError(w, r, []httpx.FieldError{{Field: "type", Message: "is required"}})
		return
	}

	if err := h.dispatcher.Resend(r.Context(), orderID, req.Type); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"queued": true})
}

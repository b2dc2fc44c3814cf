package handlers

import (
	"errors"
	"net/http"

	"github.com/lumenshop/orders-api/internal/platform/httpx"
	"github.com/lumenshop/orders-api/internal/services"
)

// mapServiceError translates service sentinels into the HTTP error envelope.
func mapServiceError(err error) httpx.Error {
	switch {
	case errors.Is(err, services.ErrOrderInvalidRefundAmount):
		return httpx.NewError("invalid_refund_amount", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrAuditInvalidInput),
		errors.Is(err, services.ErrNotificationInvalidInput):
		return httpx.NewError("validation_error", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrOrderNotFound):
		return httpx.NewError("not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrOrderInvalidState):
		return httpx.NewError("invalid_state_transition", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrOrderConflict):
		return httpx.NewError("conflict", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrOrderProviderFailure):
		return httpx.NewError("provider_failure", err.Error(), http.StatusBadGateway)
	default:
		return httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError)
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(r.Context(), w, mapServiceError(err))
}

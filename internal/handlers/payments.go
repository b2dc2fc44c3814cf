package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumenshop/orders-api/internal/domain"
	"github.com/lumenshop/orders-api/internal/platform/httpx"
	"github.com/lumenshop/orders-api/internal/platform/observability"
	"github.com/lumenshop/orders-api/internal/platform/requestctx"
	"github.com/lumenshop/orders-api/internal/services"
)

type capturePaymentRequest struct {
	AmountCents *int64 `json:"amount_cents"`
}

type refundItemRequest struct {
	OrderItemID string `json:"order_item_id"`
	Quantity    int    `json:"quantity"`
}

type processRefundRequest struct {
	AmountCents int64               `json:"amount_cents"`
	Reason      string              `json:"reason"`
	Items       []refundItemRequest `json:"items"`
}

type refundResponse struct {
	ID          string              `json:"id"`
	OrderID     string              `json:"order_id"`
	PaymentID   string              `json:"payment_id"`
	AmountCents int64               `json:"amount_cents"`
	Reason      string              `json:"reason,omitempty"`
	Items       []refundItemRequest `json:"items,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// PaymentHandlers exposes the capture and refund endpoints.
type PaymentHandlers struct {
	orders services.OrderService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(orders services.OrderService) *PaymentHandlers {
	return &PaymentHandlers{orders: orders}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	r.Post("/{orderID}/capture", h.capturePayment)
	r.Post("/{orderID}/refund", h.processRefund)
}

func (h *PaymentHandlers) capturePayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if !validEntityID(orderID, "ord_") {
		writeBadRequest(w, r, "order id must look like ord_<ULID>")
		return
	}

	var req capturePaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	if req.AmountCents != nil && *req.AmountCents <= 0 {
		writeValidationError(w, r, []httpx.FieldError{{Field: "amount_cents", Message: "must be a positive integer when present"}})
		return
	}

	payment, err := h.orders.CapturePayment(r.Context(), services.CapturePaymentCommand{
		OrderID:     orderID,
		AmountCents: req.AmountCents,
		Actor:       requestctx.Actor(r.Context()),
	})
	if err != nil {
		observability.RecordOrderOperation("capture_payment", false)
		writeServiceError(w, r, err)
		return
	}
	observability.RecordOrderOperation("capture_payment", true)
	httpx.WriteJSON(w, http.StatusOK, renderPayment(payment))
}

func (h *PaymentHandlers) processRefund(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if !validEntityID(orderID, "ord_") {
		writeBadRequest(w, r, "order id must look like ord_<ULID>")
		return
	}

	var req processRefundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	var fieldErrors []httpx.FieldError
	if req.AmountCents <= 0 {
		fieldErrors = append(fieldErrors, httpx.FieldError{Field: "amount_cents", Message: "must be a positive integer"})
	}
	if strings.TrimSpace(req.Reason) == "" {
		fieldErrors = append(fieldErrors, httpx.FieldError{Field: "reason", Message: "is required"})
	}
	for i, item := range req.Items {
		if !validEntityID(item.OrderItemID, "itm_") {
			fieldErrors = append(fieldErrors, httpx.FieldError{Field: itemField(i, "order_item_id"), Message: "must look like itm_<ULID>"})
		}
		if item.Quantity <= 0 {
			fieldErrors = append(fieldErrors, httpx.FieldError{Field: itemField(i, "quantity"), Message: "must be a positive integer"})
		}
	}
	if len(fieldErrors) > 0 {
		writeValidationError(w, r, fieldErrors)
		return
	}

	cmd := services.ProcessRefundCommand{
		OrderID:     orderID,
		AmountCents: req.AmountCents,
		Reason:      req.Reason,
		Actor:       requestctx.Actor(r.Context()),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.RefundItemInput{
			OrderItemID: item.OrderItemID,
			Quantity:    item.Quantity,
		})
	}

	refund, err := h.orders.ProcessRefund(r.Context(), cmd)
	if err != nil {
		observability.RecordOrderOperation("process_refund", false)
		writeServiceError(w, r, err)
		return
	}
	observability.RecordOrderOperation("process_refund", true)
	httpx.WriteJSON(w, http.StatusCreated, renderRefund(refund))
}

func renderRefund(refund domain.Refund) refundResponse {
	out := refundResponse{
		ID:          refund.ID,
		OrderID:     refund.OrderID,
		PaymentID:   refund.PaymentID,
		AmountCents: refund.AmountCents,
		Reason:      refund.Reason,
		CreatedAt:   refund.CreatedAt,
	}
	for _, item := range refund.Items {
		out.Items = append(out.Items, refundItemRequest{
			OrderItemID: item.OrderItemID,
			Quantity:    item.Quantity,
		})
	}
	return out
}

package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lumenshop/orders-api/internal/payments"
	"github.com/lumenshop/orders-api/internal/platform/auth"
	"github.com/lumenshop/orders-api/internal/platform/httpx"
	"github.com/lumenshop/orders-api/internal/platform/idempotency"
	"github.com/lumenshop/orders-api/internal/platform/observability"
	"github.com/lumenshop/orders-api/internal/services"
	"github.com/lumenshop/orders-api/internal/shipping"
)

const (
	maxWebhookBodyBytes = 1 << 20

	webhookSourcePayments = "stripe"
	webhookSourceShipping = "carrier"

	paymentSignatureHeader        = "Stripe-Signature"
	defaultCarrierSignatureHeader = "X-Carrier-Signature"
)

type carrierWebhookRequest struct {
	EventID        string         `json:"event_id"`
	TrackingNumber string         `json:"tracking_number"`
	Status         string         `json:"status"`
	Description    string         `json:"description"`
	Location       string         `json:"location"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Metadata       map[string]any `json:"metadata"`
}

// WebhookHandlers ingests payment provider and carrier callbacks. Both
// endpoints verify the payload signature before touching any state and run
// every delivery through the deduplication ledger, so redeliveries and
// out-of-order events are acknowledged without double-applying side effects.
type WebhookHandlers struct {
	orders           services.OrderService
	provider         payments.Provider
	verifier         *auth.HMACVerifier
	carrierSigHeader string
	ledger           idempotency.Store
	dedupTTL         time.Duration
	clock            func() time.Time
	logger           *zap.Logger
}

// WebhookHandlersDeps holds the dependencies for NewWebhookHandlers.
type WebhookHandlersDeps struct {
	Orders           services.OrderService
	PaymentProvider  payments.Provider
	CarrierVerifier  *auth.HMACVerifier
	CarrierSigHeader string
	Ledger           idempotency.Store
	DedupTTL         time.Duration
	Clock            func() time.Time
	Logger           *zap.Logger
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(deps WebhookHandlersDeps) (*WebhookHandlers, error) {
	if deps.Orders == nil {
		return nil, errors.New("webhook handlers: order service is required")
	}
	if deps.PaymentProvider == nil {
		return nil, errors.New("webhook handlers: payment provider is required")
	}
	if deps.CarrierVerifier == nil {
		return nil, errors.New("webhook handlers: carrier verifier is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("webhook handlers: deduplication ledger is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sigHeader := deps.CarrierSigHeader
	if sigHeader == "" {
		sigHeader = defaultCarrierSignatureHeader
	}
	ttl := deps.DedupTTL
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	return &WebhookHandlers{
		orders:           deps.Orders,
		provider:         deps.PaymentProvider,
		verifier:         deps.CarrierVerifier,
		carrierSigHeader: sigHeader,
		ledger:           deps.Ledger,
		dedupTTL:         ttl,
		clock:            clock,
		logger:           logger,
	}, nil
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	r.Post("/payments", h.paymentWebhook)
	r.Post("/shipping", h.shippingWebhook)
}

func (h *WebhookHandlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		observability.RecordWebhookEvent(webhookSourcePayments, "read_error")
		writeBadRequest(w, r, "failed to read request body")
		return
	}

	event, err := h.provider.VerifyWebhook(payload, r.Header.Get(paymentSignatureHeader))
	if err != nil {
		observability.RecordWebhookEvent(webhookSourcePayments, "invalid_signature")
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	fresh, err := h.ledger.Reserve(r.Context(), webhookSourcePayments, event.ID, h.clock(), h.dedupTTL)
	if err != nil {
		observability.RecordWebhookEvent(webhookSourcePayments, "ledger_error")
		writeServiceError(w, r, err)
		return
	}
	if !fresh {
		observability.RecordWebhookEvent(webhookSourcePayments, "duplicate")
		h.ackWebhook(w)
		return
	}

	if err := h.applyPaymentEvent(r, event); err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			// The charge belongs to no known order, typically a test event or
			// a storefront the back office does not ingest. Acknowledge so
			// the provider stops retrying.
			observability.RecordWebhookEvent(webhookSourcePayments, "unmatched")
			h.logger.Info("webhooks.payments.unmatched",
				zap.String("eventId", event.ID),
				zap.String("eventType", event.Type),
				zap.String("chargeId", event.ChargeID))
			h.ackWebhook(w)
			return
		}
		// Hand the event back to the provider's retry loop.
		h.release(r.Context(), webhookSourcePayments, event.ID)
		observability.RecordWebhookEvent(webhookSourcePayments, "error")
		writeServiceError(w, r, err)
		return
	}

	observability.RecordWebhookEvent(webhookSourcePayments, "processed")
	h.ackWebhook(w)
}

// release drops a reservation so the provider's redelivery is processed
// instead of deduplicated. A failed release is logged only: the record still
// expires with its TTL.
func (h *WebhookHandlers) release(ctx context.Context, source, eventID string) {
	if err := h.ledger.Release(ctx, source, eventID); err != nil {
		h.logger.Warn("webhooks.ledger.release_failed",
			zap.String("source", source),
			zap.String("eventId", eventID),
			zap.Error(err))
	}
}

func (h *WebhookHandlers) applyPaymentEvent(r *http.Request, event payments.WebhookEvent) error {
	ctx := r.Context()
	actor := "webhook:" + webhookSourcePayments

	switch event.Kind {
	case payments.EventPaymentSucceeded:
		return h.orders.ConfirmPaymentCaptured(ctx, services.ConfirmPaymentCapturedCommand{
			OrderID:       event.OrderID,
			ChargeID:      event.ChargeID,
			CapturedCents: event.Amount,
			OccurredAt:    event.OccurredAt,
			Actor:         actor,
		})
	case payments.EventPaymentFailed:
		return h.orders.MarkPaymentFailed(ctx, services.MarkPaymentFailedCommand{
			OrderID:  event.OrderID,
			ChargeID: event.ChargeID,
			Reason:   event.Failure,
			Actor:    actor,
		})
	case payments.EventDisputeCreated:
		return h.orders.RecordDispute(ctx, services.RecordDisputeCommand{
			OrderID:     event.OrderID,
			ChargeID:    event.ChargeID,
			DisputeID:   event.DisputeID,
			AmountCents: event.Amount,
			Currency:    event.Currency,
			OccurredAt:  event.OccurredAt,
			Actor:       actor,
		})
	default:
		h.logger.Debug("webhooks.payments.ignored",
			zap.String("eventId", event.ID),
			zap.String("eventType", event.Type))
		return nil
	}
}

func (h *WebhookHandlers) shippingWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		observability.RecordWebhookEvent(webhookSourceShipping, "read_error")
		writeBadRequest(w, r, "failed to read request body")
		return
	}

	if err := h.verifier.Verify(payload, r.Header.Get(h.carrierSigHeader)); err != nil {
		observability.RecordWebhookEvent(webhookSourceShipping, "invalid_signature")
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	var req carrierWebhookRequest
	if err := unmarshalStrict(payload, &req); err != nil {
		observability.RecordWebhookEvent(webhookSourceShipping, "malformed")
		writeBadRequest(w, r, "request body is not a valid carrier event")
		return
	}
	if strings.TrimSpace(req.EventID) == "" || strings.TrimSpace(req.TrackingNumber) == "" || strings.TrimSpace(req.Status) == "" || req.OccurredAt.IsZero() {
		observability.RecordWebhookEvent(webhookSourceShipping, "malformed")
		writeValidationError(w, r, []httpx.FieldError{
			{Field: "event_id", Message: "event_id, tracking_number, status and occurred_at are required"},
		})
		return
	}

	// Resolve the shipment before touching the ledger so an unmatched
	// tracking number writes nothing and a later redelivery can still apply.
	shipment, err := h.orders.FindShipmentByTrackingNumber(r.Context(), req.TrackingNumber)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			observability.RecordWebhookEvent(webhookSourceShipping, "unmatched")
			httpx.WriteError(r.Context(), w, httpx.NewError("not_found", "no shipment matches the tracking number", http.StatusNotFound))
			return
		}
		observability.RecordWebhookEvent(webhookSourceShipping, "error")
		writeServiceError(w, r, err)
		return
	}

	fresh, err := h.ledger.Reserve(r.Context(), webhookSourceShipping, req.EventID, h.clock(), h.dedupTTL)
	if err != nil {
		observability.RecordWebhookEvent(webhookSourceShipping, "ledger_error")
		writeServiceError(w, r, err)
		return
	}
	if !fresh {
		observability.RecordWebhookEvent(webhookSourceShipping, "duplicate")
		h.ackWebhook(w)
		return
	}

	status := shipping.MapCarrierStatus(req.Status)
	if _, err := h.orders.UpdateShipmentTracking(r.Context(), services.TrackingUpdateCommand{
		ShipmentID:  shipment.ID,
		Status:      status,
		Description: req.Description,
		Location:    req.Location,
		OccurredAt:  req.OccurredAt,
		Metadata:    carrierEventMetadata(req),
		Actor:       "webhook:" + webhookSourceShipping,
	}); err != nil {
		h.release(r.Context(), webhookSourceShipping, req.EventID)
		observability.RecordWebhookEvent(webhookSourceShipping, "error")
		writeServiceError(w, r, err)
		return
	}

	observability.RecordWebhookEvent(webhookSourceShipping, "processed")
	h.ackWebhook(w)
}

func (h *WebhookHandlers) ackWebhook(w http.ResponseWriter) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}

func carrierEventMetadata(req carrierWebhookRequest) map[string]any {
	metadata := map[string]any{
		"carrierEventId": req.EventID,
		"carrierStatus":  req.Status,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	return metadata
}

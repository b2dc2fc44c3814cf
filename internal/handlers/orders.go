package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumenshop/orders-api/internal/domain"
	"github.com/lumenshop/orders-api/internal/platform/httpx"
	"github.com/lumenshop/orders-api/internal/platform/observability"
	"github.com/lumenshop/orders-api/internal/platform/requestctx"
	"github.com/lumenshop/orders-api/internal/repositories"
	"github.com/lumenshop/orders-api/internal/services"
)

const (
	defaultOrderPageSize = 20
	defaultAuditPageSize = 50
	maxOrderPageSize     = 100
)

type ingestOrderItemRequest struct {
	Name           string         `json:"name"`
	SKU            string         `json:"sku"`
	UnitPriceCents int64          `json:"unit_price_cents"`
	Quantity       int            `json:"quantity"`
	Metadata       map[string]any `json:"metadata"`
}

type ingestOrderRequest struct {
	CustomerID       *string                  `json:"customer_id"`
	GuestEmail       *string                  `json:"guest_email"`
	Currency         string                   `json:"currency"`
	SubtotalCents    int64                    `json:"subtotal_cents"`
	ShippingCents    int64                    `json:"shipping_cents"`
	TaxCents         int64                    `json:"tax_cents"`
	GrandTotalCents  int64                    `json:"grand_total_cents"`
	Items            []ingestOrderItemRequest `json:"items"`
	ProviderChargeID string                   `json:"provider_charge_id"`
	AuthorizedCents  int64                    `json:"authorized_cents"`
	Metadata         map[string]any           `json:"metadata"`
}

type fulfillmentItemRequest struct {
	OrderItemID string `json:"order_item_id"`
	Quantity    int    `json:"quantity"`
}

type createFulfillmentRequest struct {
	Items        []fulfillmentItemRequest `json:"items"`
	Carrier      string                   `json:"carrier"`
	ServiceLevel string                   `json:"service_level"`
	From         addressRequest           `json:"from"`
	To           addressRequest           `json:"to"`
}

type addressRequest struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address{
		Name:       a.Name,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	orders services.OrderService
	audit  services.AuditLogService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, audit services.AuditLogService) *OrderHandlers {
	return &OrderHandlers{orders: orders, audit: audit}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Post("/", h.ingestOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/fulfillments", h.createFulfillment)
	r.Get("/{orderID}/audit-logs", h.listAuditLogs)
}

func (h *OrderHandlers) ingestOrder(w http.ResponseWriter, r *http.Request) {
	var req ingestOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	var fieldErrors []httpx.FieldError
	if len(req.Currency) != 3 {
		fieldErrors = append(fieldErrors, httpx.FieldError{Field: "currency", Message: "must be a three-letter code"})
	}
	if len(req.Items) == 0 {
		fieldErrors = append(fieldErrors, httpx.FieldError{Field: "items", Message: "at least one item is required"})
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.Name) == "" {
			fieldErrors = append(fieldErrors, httpx.FieldError{Field: itemField(i, "name"), Message: "is required"})
		}
		if item.Quantity <= 0 {
			fieldErrors = append(fieldErrors, httpx.FieldError{Field: itemField(i, "quantity"), Message: "must be a positive integer"})
		}
	}
	if strings.TrimSpace(req.ProviderChargeID) == "" {
		fieldErrors = append(fieldErrors, httpx.FieldError{Field: "provider_charge_id", Message: "is required"})
	}
	if len(fieldErrors) > 0 {
		writeValidationError(w, r, fieldErrors)
		return
	}

	cmd := services.IngestOrderCommand{
		CustomerID:       req.CustomerID,
		GuestEmail:       req.GuestEmail,
		Currency:         req.Currency,
		SubtotalCents:    req.SubtotalCents,
		ShippingCents:    req.ShippingCents,
		TaxCents:         req.TaxCents,
		GrandTotalCents:  req.GrandTotalCents,
		ProviderChargeID: req.ProviderChargeID,
		AuthorizedCents:  req.AuthorizedCents,
		Metadata:         req.Metadata,
		Actor:            requestctx.Actor(r.Context()),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.IngestOrderItem{
			Name:           item.Name,
			SKU:            item.SKU,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			Metadata:       item.Metadata,
		})
	}

	order, err := h.orders.IngestOrder(r.Context(), cmd)
	if err != nil {
		observability.RecordOrderOperation("ingest_order", false)
		writeServiceError(w, r, err)
		return
	}
	observability.RecordOrderOperation("ingest_order", true)
	httpx.WriteJSON(w, http.StatusCreated, renderOrder(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repositories.OrderListFilter{Limit: defaultOrderPageSize}

	if raw := strings.TrimSpace(query.Get("payment_status")); raw != "" {
		status := domain.PaymentStatus(strings.ToUpper(raw))
		if !domain.ValidPaymentStatus(status) {
			writeBadRequest(w, r, "payment_status is not a known status")
			return
		}
		filter.PaymentStatus = &status
	}
	if raw := strings.TrimSpace(query.Get("fulfillment_status")); raw != "" {
		status := domain.FulfillmentStatus(strings.ToUpper(raw))
		if !domain.ValidFulfillmentStatus(status) {
			writeBadRequest(w, r, "fulfillment_status is not a known status")
			return
		}
		filter.FulfillmentStatus = &status
	}
	if raw := strings.TrimSpace(query.Get("customer_id")); raw != "" {
		filter.CustomerID = &raw
	}
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			writeBadRequest(w, r, "created_after must be a valid RFC3339 timestamp")
			return
		}
		filter.CreatedAt.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			writeBadRequest(w, r, "created_before must be a valid RFC3339 timestamp")
			return
		}
		filter.CreatedAt.To = &ts
	}
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 || size > maxOrderPageSize {
			writeBadRequest(w, r, "page_size must be an integer between 1 and 100")
			return
		}
		filter.Limit = size
	}

	orders, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		items = append(items, renderOrder(order))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"orders": items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if !validEntityID(orderID, "ord_") {
		writeBadRequest(w, r, "order id must look like ord_<ULID>")
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, renderOrder(order))
}

func (h *OrderHandlers) createFulfillment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if !validEntityID(orderID, "ord_") {
		writeBadRequest(w, r, "order id must look like ord_<ULID>")
		return
	}

	var req createFulfillmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	var fieldErrors []httpx.FieldError
	if len(req.Items) == 0 {
		fieldErrors = append(fieldErrors, httpx.FieldError{Field: "items", Message: "at least one item is required"})
	}
	for i, item := range req.Items {
		if !validEntityID(item.OrderItemID, "itm_") {
			fieldErrors = append(fieldErrors, httpx.FieldError{Field: itemField(i, "order_item_id"), Message: "must look like itm_<ULID>"})
		}
		if item.Quantity <= 0 {
			fieldErrors = append(fieldErrors, httpx.FieldError{Field: itemField(i, "quantity"), Message: "must be a positive integer"})
		}
	}
	if strings.TrimSpace(req.ServiceLevel) == "" {
		fieldErrors = append(fieldErrors, httpx.FieldError{Field: "service_level", Message: "is required"})
	}
	if len(fieldErrors) > 0 {
		writeValidationError(w, r, fieldErrors)
		return
	}

	cmd := services.CreateFulfillmentCommand{
		OrderID:      orderID,
		Carrier:      req.Carrier,
		ServiceLevel: req.ServiceLevel,
		From:         req.From.toDomain(),
		To:           req.To.toDomain(),
		Actor:        requestctx.Actor(r.Context()),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.FulfillmentItemInput{
			OrderItemID: item.OrderItemID,
			Quantity:    item.Quantity,
		})
	}

	shipment, err := h.orders.CreateFulfillment(r.Context(), cmd)
	if err != nil {
		observability.RecordOrderOperation("create_fulfillment", false)
		writeServiceError(w, r, err)
		return
	}
	observability.RecordOrderOperation("create_fulfillment", true)

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"fulfillment": renderShipment(shipment),
		"order":       renderOrder(order),
	})
}

func (h *OrderHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if !validEntityID(orderID, "ord_") {
		writeBadRequest(w, r, "order id must look like ord_<ULID>")
		return
	}

	query := r.URL.Query()
	filter := repositories.AuditLogFilter{
		EntityType: strings.TrimSpace(query.Get("entity_type")),
		Action:     strings.TrimSpace(query.Get("action")),
		Actor:      strings.TrimSpace(query.Get("actor")),
		Limit:      defaultAuditPageSize,
	}
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			writeBadRequest(w, r, "created_after must be a valid RFC3339 timestamp")
			return
		}
		filter.CreatedAt.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			writeBadRequest(w, r, "created_before must be a valid RFC3339 timestamp")
			return
		}
		filter.CreatedAt.To = &ts
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxOrderPageSize {
			writeBadRequest(w, r, "limit must be an integer between 1 and 100")
			return
		}
		filter.Limit = limit
	}

	entries, err := h.audit.List(r.Context(), orderID, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make([]auditLogResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, renderAuditLogEntry(entry))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": items})
}

func itemField(index int, name string) string {
	return "items[" + strconv.Itoa(index) + "]." + name
}

type orderItemResponse struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	SKU            string         `json:"sku"`
	UnitPriceCents int64          `json:"unit_price_cents"`
	Quantity       int            `json:"quantity"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type paymentResponse struct {
	ID               string     `json:"id"`
	ProviderChargeID string     `json:"provider_charge_id"`
	Status           string     `json:"status"`
	AmountCents      int64      `json:"amount_cents"`
	CapturedCents    int64      `json:"captured_cents"`
	CapturedAt       *time.Time `json:"captured_at,omitempty"`
}

type trackingEventResponse struct {
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	RecordedAt  time.Time `json:"recorded_at"`
}

type shipmentItemResponse struct {
	OrderItemID string `json:"order_item_id"`
	Quantity    int    `json:"quantity"`
}

type shipmentResponse struct {
	ID             string                  `json:"id"`
	OrderID        string                  `json:"order_id"`
	Carrier        string                  `json:"carrier"`
	ServiceLevel   string                  `json:"service_level"`
	TrackingNumber string                  `json:"tracking_number"`
	LabelRef       string                  `json:"label_ref,omitempty"`
	Status         string                  `json:"status"`
	Items          []shipmentItemResponse  `json:"items"`
	Events         []trackingEventResponse `json:"events,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

type orderResponse struct {
	ID                string              `json:"id"`
	Number            string              `json:"number"`
	CustomerID        *string             `json:"customer_id,omitempty"`
	GuestEmail        *string             `json:"guest_email,omitempty"`
	Currency          string              `json:"currency"`
	SubtotalCents     int64               `json:"subtotal_cents"`
	ShippingCents     int64               `json:"shipping_cents"`
	TaxCents          int64               `json:"tax_cents"`
	GrandTotalCents   int64               `json:"grand_total_cents"`
	PaymentStatus     string              `json:"payment_status"`
	FulfillmentStatus string              `json:"fulfillment_status"`
	Metadata          map[string]any      `json:"metadata,omitempty"`
	Items             []orderItemResponse `json:"items"`
	Payments          []paymentResponse   `json:"payments,omitempty"`
	Shipments         []shipmentResponse  `json:"shipments,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

type auditLogResponse struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	ActorType  string         `json:"actor_type"`
	Changes    map[string]any `json:"changes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func renderOrder(order domain.Order) orderResponse {
	out := orderResponse{
		ID:                order.ID,
		Number:            order.Number,
		CustomerID:        order.CustomerID,
		GuestEmail:        order.GuestEmail,
		Currency:          order.Currency,
		SubtotalCents:     order.SubtotalCents,
		ShippingCents:     order.ShippingCents,
		TaxCents:          order.TaxCents,
		GrandTotalCents:   order.GrandTotalCents,
		PaymentStatus:     string(order.PaymentStatus),
		FulfillmentStatus: string(order.FulfillmentStatus),
		Metadata:          order.Metadata,
		Items:             make([]orderItemResponse, 0, len(order.Items)),
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
	for _, item := range order.Items {
		out.Items = append(out.Items, orderItemResponse{
			ID:             item.ID,
			Name:           item.Name,
			SKU:            item.SKU,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			Metadata:       item.Metadata,
		})
	}
	for _, payment := range order.Payments {
		out.Payments = append(out.Payments, renderPayment(payment))
	}
	for _, shipment := range order.Shipments {
		out.Shipments = append(out.Shipments, renderShipment(shipment))
	}
	return out
}

func renderPayment(payment domain.Payment) paymentResponse {
	return paymentResponse{
		ID:               payment.ID,
		ProviderChargeID: payment.ProviderChargeID,
		Status:           string(payment.Status),
		AmountCents:      payment.AmountCents,
		CapturedCents:    payment.CapturedCents,
		CapturedAt:       payment.CapturedAt,
	}
}

func renderShipment(shipment domain.Shipment) shipmentResponse {
	out := shipmentResponse{
		ID:             shipment.ID,
		OrderID:        shipment.OrderID,
		Carrier:        shipment.Carrier,
		ServiceLevel:   shipment.ServiceLevel,
		TrackingNumber: shipment.TrackingNumber,
		LabelRef:       shipment.LabelRef,
		Status:         string(shipment.Status),
		Items:          make([]shipmentItemResponse, 0, len(shipment.Items)),
		CreatedAt:      shipment.CreatedAt,
		UpdatedAt:      shipment.UpdatedAt,
	}
	for _, item := range shipment.Items {
		out.Items = append(out.Items, shipmentItemResponse{
			OrderItemID: item.OrderItemID,
			Quantity:    item.Quantity,
		})
	}
	for _, event := range shipment.Events {
		out.Events = append(out.Events, trackingEventResponse{
			Status:      string(event.Status),
			Description: event.Description,
			Location:    event.Location,
			OccurredAt:  event.OccurredAt,
			RecordedAt:  event.RecordedAt,
		})
	}
	return out
}

func renderAuditLogEntry(entry domain.AuditLogEntry) auditLogResponse {
	return auditLogResponse{
		ID:         entry.ID,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Actor:      entry.Actor,
		ActorType:  entry.ActorType,
		Changes:    entry.Changes,
		CreatedAt:  entry.CreatedAt,
	}
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lumenshop/orders-api/internal/platform/httpx"
	"github.com/lumenshop/orders-api/internal/services"
	"github.com/lumenshop/orders-api/internal/shipping"
)

type parcelRequest struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	WeightG  int    `json:"weight_g"`
}

type quoteRatesRequest struct {
	From    addressRequest    `json:"from"`
	To      addressRequest    `json:"to"`
	Parcels []parcelRequest   `json:"parcels"`
	Options map[string]string `json:"options"`
}

type rateResponse struct {
	Carrier       string `json:"carrier"`
	ServiceLevel  string `json:"service_level"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	EstimatedDays int    `json:"estimated_days"`
}

// ShippingHandlers exposes the carrier rate quoting endpoint.
type ShippingHandlers struct {
	orders services.OrderService
}

// NewShippingHandlers constructs a new ShippingHandlers instance.
func NewShippingHandlers(orders services.OrderService) *ShippingHandlers {
	return &ShippingHandlers{orders: orders}
}

// Routes registers the /shipping endpoints.
func (h *ShippingHandlers) Routes(r chi.Router) {
	r.Post("/quote-rates", h.quoteRates)
}

func (h *ShippingHandlers) quoteRates(w http.ResponseWriter, r *http.Request) {
	var req quoteRatesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	var fieldErrors []httpx.FieldError
	if len(req.Parcels) == 0 {
		fieldErrors = append(fieldErrors, httpx.FieldError{Field: "parcels", Message: "at least one parcel is required"})
	}
	for i, parcel := range req.Parcels {
		if parcel.Quantity <= 0 {
			fieldErrors = append(fieldErrors, httpx.FieldError{Field: parcelField(i, "quantity"), Message: "must be a positive integer"})
		}
		if parcel.WeightG <= 0 {
			fieldErrors = append(fieldErrors, httpx.FieldError{Field: parcelField(i, "weight_g"), Message: "must be a positive integer"})
		}
	}
	if req.To.Country == "" {
		fieldErrors = append(fieldErrors, httpx.FieldError{Field: "to.country", Message: "is required"})
	}
	if len(fieldErrors) > 0 {
		writeValidationError(w, r, fieldErrors)
		return
	}

	cmd := services.QuoteRatesCommand{
		From:    req.From.toDomain(),
		To:      req.To.toDomain(),
		Options: req.Options,
	}
	for _, parcel := range req.Parcels {
		cmd.Parcels = append(cmd.Parcels, shipping.Parcel{
			SKU:      parcel.SKU,
			Name:     parcel.Name,
			Quantity: parcel.Quantity,
			WeightG:  parcel.WeightG,
		})
	}

	rates, err := h.orders.QuoteRates(r.Context(), cmd)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make([]rateResponse, 0, len(rates))
	for _, rate := range rates {
		items = append(items, rateResponse{
			Carrier:       rate.Carrier,
			ServiceLevel:  rate.ServiceLevel,
			AmountCents:   rate.AmountCents,
			Currency:      rate.Currency,
			EstimatedDays: rate.EstimatedDays,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"rates": items})
}

func parcelField(index int, name string) string {
	return "parcels[" + strconv.Itoa(index) + "]." + name
}

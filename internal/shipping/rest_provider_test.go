package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lumenshop/orders-api/internal/domain"
)

func TestRESTProviderQuoteRates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rates" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected authorization header %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if _, ok := body["from"]; !ok {
			t.Fatal("expected from address in request")
		}

		json.NewEncoder(w).Encode(map[string]any{
			"rates": []map[string]any{
				{"service_level": "standard", "amount_cents": 899, "currency": "usd", "estimated_days": 4},
				{"service_level": "express", "amount_cents": 2199, "currency": "usd", "estimated_days": 1},
			},
		})
	}))
	defer server.Close()

	provider, err := NewRESTProvider(RESTProviderConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Carrier: "acme",
	})
	if err != nil {
		t.Fatalf("NewRESTProvider: %v", err)
	}

	rates, err := provider.QuoteRates(context.Background(), RateRequest{
		From: domain.Address{Country: "US", PostalCode: "94107"},
		To:   domain.Address{Country: "US", PostalCode: "10001"},
		Parcels: []Parcel{
			{SKU: "SKU-1", Quantity: 2, WeightG: 500},
		},
	})
	if err != nil {
		t.Fatalf("QuoteRates: %v", err)
	}
	if len(rates) != 2 {
		t.Fatalf("expected 2 rates, got %d", len(rates))
	}
	if rates[0].Carrier != "acme" || rates[0].Currency != "USD" {
		t.Fatalf("unexpected rate normalisation: %+v", rates[0])
	}
}

func TestRESTProviderCreateLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/labels" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "ship-ord-1-1" {
			t.Fatalf("unexpected idempotency key %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"tracking_number": "TRK-0012345",
			"label_ref":       "lbl_9f",
			"service_level":   "standard",
		})
	}))
	defer server.Close()

	provider, err := NewRESTProvider(RESTProviderConfig{BaseURL: server.URL, Carrier: "acme"})
	if err != nil {
		t.Fatalf("NewRESTProvider: %v", err)
	}

	label, err := provider.CreateLabel(context.Background(), LabelRequest{
		To:             domain.Address{Country: "US"},
		ServiceLevel:   "standard",
		Reference:      "ord_01ABC",
		IdempotencyKey: "ship-ord-1-1",
	})
	if err != nil {
		t.Fatalf("CreateLabel: %v", err)
	}
	if label.TrackingNumber != "TRK-0012345" || label.LabelRef != "lbl_9f" {
		t.Fatalf("unexpected label: %+v", label)
	}
	if label.Carrier != "acme" {
		t.Fatalf("unexpected carrier %q", label.Carrier)
	}
}

func TestRESTProviderCreateLabelCarrierError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"address unserviceable"}`, http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	provider, err := NewRESTProvider(RESTProviderConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewRESTProvider: %v", err)
	}

	if _, err := provider.CreateLabel(context.Background(), LabelRequest{ServiceLevel: "standard"}); err == nil {
		t.Fatal("expected error for carrier failure response")
	}
}

func TestMapCarrierStatus(t *testing.T) {
	tests := []struct {
		carrier string
		want    domain.ShipmentStatus
	}{
		{"label_created", domain.ShipmentStatusLabelCreated},
		{"Picked_Up", domain.ShipmentStatusPickedUp},
		{"in_transit", domain.ShipmentStatusInTransit},
		{"out_for_delivery", domain.ShipmentStatusOutForDelivery},
		{"delivered", domain.ShipmentStatusDelivered},
		{"exception", domain.ShipmentStatusException},
		{"voided", domain.ShipmentStatusCancelled},
		{"weird_new_scan", domain.ShipmentStatusInTransit},
	}

	for _, tc := range tests {
		if got := MapCarrierStatus(tc.carrier); got != tc.want {
			t.Errorf("MapCarrierStatus(%q) = %q, want %q", tc.carrier, got, tc.want)
		}
	}
}

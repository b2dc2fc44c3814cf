package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumenshop/orders-api/internal/domain"
)

// Doer abstracts the HTTP client so tests can stub transport behaviour.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTLogger defines the logging contract for carrier API calls.
type RESTLogger func(ctx context.Context, event string, fields map[string]any)

// RESTProviderConfig configures the RESTProvider.
type RESTProviderConfig struct {
	BaseURL string
	APIKey  string
	Carrier string
	Client  Doer
	Logger  RESTLogger
	Clock   func() time.Time
}

// RESTProvider talks to a carrier aggregator over its JSON API.
type RESTProvider struct {
	baseURL string
	apiKey  string
	carrier string
	client  Doer
	logger  RESTLogger
	clock   func() time.Time
}

// NewRESTProvider constructs a carrier client.
func NewRESTProvider(cfg RESTProviderConfig) (*RESTProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("shipping: base url is required")
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	carrier := strings.TrimSpace(cfg.Carrier)
	if carrier == "" {
		carrier = "carrier"
	}

	return &RESTProvider{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		carrier: carrier,
		client:  client,
		logger:  logger,
		clock:   func() time.Time { return clock().UTC() },
	}, nil
}

type rateResponse struct {
	Rates []struct {
		ServiceLevel  string `json:"service_level"`
		AmountCents   int64  `json:"amount_cents"`
		Currency      string `json:"currency"`
		EstimatedDays int    `json:"estimated_days"`
	} `json:"rates"`
}

// QuoteRates asks the carrier for available service levels.
func (p *RESTProvider) QuoteRates(ctx context.Context, req RateRequest) ([]Rate, error) {
	body := map[string]any{
		"from":    addressPayload(req.From),
		"to":      addressPayload(req.To),
		"parcels": parcelPayload(req.Parcels),
	}
	if len(req.Options) > 0 {
		body["options"] = req.Options
	}

	var decoded rateResponse
	if err := p.post(ctx, "/v1/rates", "", body, &decoded); err != nil {
		return nil, err
	}

	rates := make([]Rate, 0, len(decoded.Rates))
	for _, r := range decoded.Rates {
		rates = append(rates, Rate{
			Carrier:       p.carrier,
			ServiceLevel:  r.ServiceLevel,
			AmountCents:   r.AmountCents,
			Currency:      strings.ToUpper(r.Currency),
			EstimatedDays: r.EstimatedDays,
		})
	}

	p.logger(ctx, "shipping.rates.quoted", map[string]any{
		"carrier": p.carrier,
		"rates":   len(rates),
	})
	return rates, nil
}

type labelResponse struct {
	TrackingNumber string `json:"tracking_number"`
	LabelRef       string `json:"label_ref"`
	ServiceLevel   string `json:"service_level"`
}

// CreateLabel asks the carrier to create a shipping label.
func (p *RESTProvider) CreateLabel(ctx context.Context, req LabelRequest) (Label, error) {
	if req.ServiceLevel == "" {
		return Label{}, errors.New("shipping: service level is required")
	}

	body := map[string]any{
		"from":          addressPayload(req.From),
		"to":            addressPayload(req.To),
		"parcels":       parcelPayload(req.Parcels),
		"service_level": req.ServiceLevel,
		"reference":     req.Reference,
	}

	var decoded labelResponse
	if err := p.post(ctx, "/v1/labels", req.IdempotencyKey, body, &decoded); err != nil {
		return Label{}, err
	}
	if decoded.TrackingNumber == "" {
		return Label{}, errors.New("shipping: carrier returned no tracking number")
	}

	serviceLevel := decoded.ServiceLevel
	if serviceLevel == "" {
		serviceLevel = req.ServiceLevel
	}

	p.logger(ctx, "shipping.label.created", map[string]any{
		"carrier":        p.carrier,
		"trackingNumber": decoded.TrackingNumber,
	})
	return Label{
		Carrier:        p.carrier,
		TrackingNumber: decoded.TrackingNumber,
		LabelRef:       decoded.LabelRef,
		ServiceLevel:   serviceLevel,
		CreatedAt:      p.clock(),
	}, nil
}

func (p *RESTProvider) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("shipping: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("shipping: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("shipping: carrier request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("shipping: carrier responded %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("shipping: decode response: %w", err)
	}
	return nil
}

func addressPayload(a domain.Address) map[string]any {
	return map[string]any{
		"name":        a.Name,
		"line1":       a.Line1,
		"line2":       a.Line2,
		"city":        a.City,
		"state":       a.State,
		"postal_code": a.PostalCode,
		"country":     a.Country,
		"phone":       a.Phone,
	}
}

func parcelPayload(parcels []Parcel) []map[string]any {
	out := make([]map[string]any, 0, len(parcels))
	for _, p := range parcels {
		out = append(out, map[string]any{
			"sku":      p.SKU,
			"name":     p.Name,
			"quantity": p.Quantity,
			"weight_g": p.WeightG,
		})
	}
	return out
}

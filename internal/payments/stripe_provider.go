package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrInvalidSignature reports a webhook payload whose signature does not
// verify against the endpoint secret.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clients       *stripeClients
}

// StripeProvider implements the Provider interface using Stripe Payment
// Intents. Charge identifiers throughout the module are intent ids.
type StripeProvider struct {
	api           stripeClients
	webhookSecret string
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe-backed provider.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}
	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		logger:        logger,
	}, nil
}

// Capture captures the authorised intent, optionally for a partial amount.
func (p *StripeProvider) Capture(ctx context.Context, req CaptureRequest) (ChargeDetails, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if req.Amount != nil {
		params.AmountToCapture = stripe.Int64(*req.Amount)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	intent, err := p.api.intents.Capture(req.ChargeID, params)
	if err != nil {
		return ChargeDetails{}, fmt.Errorf("stripe: capture payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.captured", map[string]any{
		"paymentIntent": req.ChargeID,
	})
	return stripeChargeDetails(intent), nil
}

// Refund reverses previously captured funds on the intent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (ChargeDetails, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ChargeID),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	if _, err := p.api.refunds.New(params); err != nil {
		return ChargeDetails{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": req.ChargeID,
		"amount":        req.Amount,
	})
	return p.LookupCharge(ctx, req.ChargeID)
}

// LookupCharge retrieves the current provider view of the intent.
func (p *StripeProvider) LookupCharge(ctx context.Context, chargeID string) (ChargeDetails, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.api.intents.Get(chargeID, params)
	if err != nil {
		return ChargeDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	return stripeChargeDetails(intent), nil
}

// VerifyWebhook authenticates the payload against the Stripe-Signature header
// and normalises the event.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return normaliseStripeEvent(event)
}

func normaliseStripeEvent(event stripe.Event) (WebhookEvent, error) {
	out := WebhookEvent{
		ID:         event.ID,
		Type:       string(event.Type),
		Kind:       EventUnhandled,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent event: %w", err)
		}
		out.ChargeID = intent.ID
		out.OrderID = intent.Metadata["orderId"]
		out.Currency = strings.ToUpper(string(intent.Currency))
		if event.Type == "payment_intent.succeeded" {
			out.Kind = EventPaymentSucceeded
			out.Amount = intent.AmountReceived
		} else {
			out.Kind = EventPaymentFailed
			out.Amount = intent.Amount
			if intent.LastPaymentError != nil {
				out.Failure = intent.LastPaymentError.Msg
			}
		}
	case "charge.dispute.created":
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode dispute event: %w", err)
		}
		out.Kind = EventDisputeCreated
		out.DisputeID = dispute.ID
		out.Amount = dispute.Amount
		out.Currency = strings.ToUpper(string(dispute.Currency))
		if dispute.PaymentIntent != nil {
			out.ChargeID = dispute.PaymentIntent.ID
		}
	}
	return out, nil
}

func stripeChargeDetails(intent *stripe.PaymentIntent) ChargeDetails {
	if intent == nil {
		return ChargeDetails{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	var capturedAt *time.Time
	if charge := intent.LatestCharge; charge != nil {
		if charge.Paid || charge.Captured {
			t := time.Unix(charge.Created, 0).UTC()
			capturedAt = &t
		}
		if charge.Refunded && charge.Amount > 0 {
			status = StatusRefunded
		}
	}

	return ChargeDetails{
		Provider:      "stripe",
		ChargeID:      intent.ID,
		Status:        status,
		AmountCents:   intent.Amount,
		CapturedCents: intent.AmountReceived,
		Currency:      strings.ToUpper(string(intent.Currency)),
		CapturedAt:    capturedAt,
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}

package payments

import (
	"context"
	"time"
)

// Status enumerates the normalised charge states reported by providers.
type Status string

const (
	// StatusPending indicates the charge is awaiting capture or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the charge as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the charge has been fully refunded.
	StatusRefunded Status = "refunded"
)

// CaptureRequest defines a capture attempt, optionally for a partial amount.
type CaptureRequest struct {
	ChargeID       string
	Amount         *int64
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundRequest defines a refund of previously captured funds.
type RefundRequest struct {
	ChargeID       string
	Amount         int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// ChargeDetails is the provider's view of a charge after an operation.
type ChargeDetails struct {
	Provider      string
	ChargeID      string
	Status        Status
	AmountCents   int64
	CapturedCents int64
	Currency      string
	CapturedAt    *time.Time
	Raw           map[string]any
}

// EventKind discriminates the webhook event union.
type EventKind string

const (
	// EventPaymentSucceeded reports a capture confirmed by the provider.
	EventPaymentSucceeded EventKind = "payment_succeeded"
	// EventPaymentFailed reports a charge that can no longer succeed.
	EventPaymentFailed EventKind = "payment_failed"
	// EventDisputeCreated reports a chargeback opened against a charge.
	EventDisputeCreated EventKind = "dispute_created"
	// EventUnhandled covers provider event types the back office ignores.
	EventUnhandled EventKind = "unhandled"
)

// WebhookEvent is the verified, normalised form of a provider notification.
// Kind selects which of the optional fields are meaningful.
type WebhookEvent struct {
	ID         string
	Kind       EventKind
	Type       string
	ChargeID   string
	OrderID    string
	Amount     int64
	Currency   string
	Failure    string
	DisputeID  string
	OccurredAt time.Time
}

// Provider is the payment service provider contract the order service depends
// on. Implementations are responsible for their own idempotency handling via
// the request idempotency keys.
type Provider interface {
	Capture(ctx context.Context, req CaptureRequest) (ChargeDetails, error)
	Refund(ctx context.Context, req RefundRequest) (ChargeDetails, error)
	LookupCharge(ctx context.Context, chargeID string) (ChargeDetails, error)
	// VerifyWebhook authenticates the raw payload against the provider
	// signature and returns the normalised event.
	VerifyWebhook(payload []byte, signature string) (WebhookEvent, error)
}

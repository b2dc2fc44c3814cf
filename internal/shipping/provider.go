package shipping

import (
	"context"
	"time"

	"github.com/lumenshop/orders-api/internal/domain"
)

// Parcel describes a line being shipped, for rating and label purposes.
type Parcel struct {
	SKU      string
	Name     string
	Quantity int
	WeightG  int
}

// RateRequest asks the carrier for available service levels between two
// addresses.
type RateRequest struct {
	From    domain.Address
	To      domain.Address
	Parcels []Parcel
	Options map[string]string
}

// Rate is a single quoted service level.
type Rate struct {
	Carrier       string
	ServiceLevel  string
	AmountCents   int64
	Currency      string
	EstimatedDays int
}

// LabelRequest asks the carrier to create a shipping label.
type LabelRequest struct {
	From           domain.Address
	To             domain.Address
	Parcels        []Parcel
	ServiceLevel   string
	Reference      string
	IdempotencyKey string
}

// Label is the carrier's response to a label creation.
type Label struct {
	Carrier        string
	TrackingNumber string
	LabelRef       string
	ServiceLevel   string
	CreatedAt      time.Time
}

// Provider is the carrier contract the order service depends on.
type Provider interface {
	QuoteRates(ctx context.Context, req RateRequest) ([]Rate, error)
	CreateLabel(ctx context.Context, req LabelRequest) (Label, error)
}

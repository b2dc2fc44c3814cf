package shipping

import (
	"strings"

	"github.com/lumenshop/orders-api/internal/domain"
)

// carrierStatuses maps the carrier's status vocabulary onto the internal
// shipment statuses. Everything unrecognised is treated as movement.
var carrierStatuses = map[string]domain.ShipmentStatus{
	"label_created":      domain.ShipmentStatusLabelCreated,
	"pre_transit":        domain.ShipmentStatusLabelCreated,
	"picked_up":          domain.ShipmentStatusPickedUp,
	"accepted":           domain.ShipmentStatusPickedUp,
	"in_transit":         domain.ShipmentStatusInTransit,
	"departed_facility":  domain.ShipmentStatusInTransit,
	"arrived_facility":   domain.ShipmentStatusInTransit,
	"customs_cleared":    domain.ShipmentStatusInTransit,
	"out_for_delivery":   domain.ShipmentStatusOutForDelivery,
	"delivered":          domain.ShipmentStatusDelivered,
	"delivery_failed":    domain.ShipmentStatusException,
	"exception":          domain.ShipmentStatusException,
	"damaged":            domain.ShipmentStatusException,
	"returned_to_sender": domain.ShipmentStatusException,
	"cancelled":          domain.ShipmentStatusCancelled,
	"voided":             domain.ShipmentStatusCancelled,
}

// MapCarrierStatus normalises a carrier status string. Unknown statuses fall
// back to IN_TRANSIT so an unrecognised scan never stalls a shipment.
func MapCarrierStatus(status string) domain.ShipmentStatus {
	if mapped, ok := carrierStatuses[strings.ToLower(strings.TrimSpace(status))]; ok {
		return mapped
	}
	return domain.ShipmentStatusInTransit
}

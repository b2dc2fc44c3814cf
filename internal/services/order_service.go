package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lumenshop/orders-api/internal/domain"
	"github.com/lumenshop/orders-api/internal/payments"
	"github.com/lumenshop/orders-api/internal/repositories"
	"github.com/lumenshop/orders-api/internal/shipping"
)

const (
	NotificationPaymentCaptured    = "payment_captured"
	NotificationRefundProcessed    = "refund_processed"
	NotificationFulfillmentCreated = "fulfillment_created"
	NotificationShipmentDelivered  = "shipment_delivered"

	auditActionOrderIngested      = "order_ingested"
	auditActionPaymentCaptured    = "payment_captured"
	auditActionPaymentFailed      = "payment_failed"
	auditActionDisputeRecorded    = "dispute_recorded"
	auditActionRefundProcessed    = "refund_processed"
	auditActionFulfillmentCreated = "fulfillment_created"
	auditActionTrackingUpdated    = "shipment_tracking_updated"

	orderIDPrefix    = "ord_"
	itemIDPrefix     = "itm_"
	paymentIDPrefix  = "pay_"
	refundIDPrefix   = "ref_"
	shipmentIDPrefix = "shp_"
	trackingIDPrefix = "trk_"

	actorTypeUser   = "user"
	actorTypeSystem = "system"

	orderNumberCounter = "orders"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders           repositories.OrderRepository
	Payments         repositories.PaymentRepository
	Refunds          repositories.RefundRepository
	Shipments        repositories.ShipmentRepository
	Counters         repositories.CounterRepository
	Audit            AuditLogService
	UnitOfWork       repositories.UnitOfWork
	PaymentProvider  payments.Provider
	ShippingProvider shipping.Provider
	Notifications    NotificationEnqueuer
	Clock            func() time.Time
	IDGenerator      func() string
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders           repositories.OrderRepository
	payments         repositories.PaymentRepository
	refunds          repositories.RefundRepository
	shipments        repositories.ShipmentRepository
	counters         repositories.CounterRepository
	audit            AuditLogService
	unitOfWork       repositories.UnitOfWork
	paymentProvider  payments.Provider
	shippingProvider shipping.Provider
	notifications    NotificationEnqueuer
	clock            func() time.Time
	newID            func() string
	logger           func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment repository is required")
	}
	if deps.Refunds == nil {
		return nil, errors.New("order service: refund repository is required")
	}
	if deps.Shipments == nil {
		return nil, errors.New("order service: shipment repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Audit == nil {
		return nil, errors.New("order service: audit log service is required")
	}
	if deps.PaymentProvider == nil {
		return nil, errors.New("order service: payment provider is required")
	}
	if deps.ShippingProvider == nil {
		return nil, errors.New("order service: shipping provider is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:           deps.Orders,
		payments:         deps.Payments,
		refunds:          deps.Refunds,
		shipments:        deps.Shipments,
		counters:         deps.Counters,
		audit:            deps.Audit,
		unitOfWork:       unit,
		paymentProvider:  deps.PaymentProvider,
		shippingProvider: deps.ShippingProvider,
		notifications:    deps.Notifications,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) IngestOrder(ctx context.Context, cmd IngestOrderCommand) (domain.Order, error) {
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if len(currency) != 3 {
		return domain.Order{}, fmt.Errorf("%w: currency must be a three-letter code", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.Name) == "" {
			return domain.Order{}, fmt.Errorf("%w: item %d name is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("%w: item %d quantity must be positive", ErrOrderInvalidInput, i)
		}
		if item.UnitPriceCents < 0 {
			return domain.Order{}, fmt.Errorf("%w: item %d unit price must not be negative", ErrOrderInvalidInput, i)
		}
	}
	if cmd.SubtotalCents < 0 || cmd.ShippingCents < 0 || cmd.TaxCents < 0 {
		return domain.Order{}, fmt.Errorf("%w: totals must not be negative", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.ProviderChargeID) == "" {
		return domain.Order{}, fmt.Errorf("%w: provider charge id is required", ErrOrderInvalidInput)
	}

	now := s.now()

	order := domain.Order{
		ID:                orderIDPrefix + s.newID(),
		CustomerID:        cmd.CustomerID,
		GuestEmail:        cmd.GuestEmail,
		Currency:          currency,
		SubtotalCents:     cmd.SubtotalCents,
		ShippingCents:     cmd.ShippingCents,
		TaxCents:          cmd.TaxCents,
		GrandTotalCents:   cmd.GrandTotalCents,
		PaymentStatus:     domain.PaymentStatusPending,
		FulfillmentStatus: domain.FulfillmentStatusUnfulfilled,
		Metadata:          maps.Clone(cmd.Metadata),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if !order.TotalsConsistent() {
		return domain.Order{}, fmt.Errorf("%w: grand total must equal subtotal + shipping + tax", ErrOrderInvalidInput)
	}

	for _, item := range cmd.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:             itemIDPrefix + s.newID(),
			OrderID:        order.ID,
			Name:           strings.TrimSpace(item.Name),
			SKU:            strings.TrimSpace(item.SKU),
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			Metadata:       maps.Clone(item.Metadata),
			CreatedAt:      now,
		})
	}

	amountAuthorized := cmd.AuthorizedCents
	if amountAuthorized <= 0 {
		amountAuthorized = order.GrandTotalCents
	}
	payment := domain.Payment{
		ID:               paymentIDPrefix + s.newID(),
		OrderID:          order.ID,
		ProviderChargeID: strings.TrimSpace(cmd.ProviderChargeID),
		Status:           domain.PaymentStatusAuthorized,
		AmountCents:      amountAuthorized,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	order.Payments = []domain.Payment{payment}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		number, err := s.generateOrderNumber(txCtx, now)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		order.Number = number

		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.payments.Insert(txCtx, payment); err != nil {
			return s.mapRepositoryError(err)
		}
		_, err = s.audit.Record(txCtx, AuditRecordCommand{
			OrderID:    order.ID,
			EntityType: "order",
			EntityID:   order.ID,
			Action:     auditActionOrderIngested,
			Actor:      s.actor(cmd.Actor),
			ActorType:  actorType(cmd.Actor),
			Changes: map[string]any{
				"number":     order.Number,
				"grandTotal": order.GrandTotalCents,
				"currency":   order.Currency,
				"items":      len(order.Items),
			},
		})
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "order.ingested", map[string]any{
		"orderId": order.ID,
		"number":  order.Number,
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 100
	}
	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// CapturePayment captures the authorised charge for the order. Re-capturing an
// already captured charge is a no-op success. A provider rejection marks the
// payment FAILED and is not retried.
func (s *orderService) CapturePayment(ctx context.Context, cmd CapturePaymentCommand) (domain.Payment, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Payment{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.AmountCents != nil && *cmd.AmountCents <= 0 {
		return domain.Payment{}, fmt.Errorf("%w: capture amount must be positive", ErrOrderInvalidInput)
	}

	var (
		result   domain.Payment
		notified *Notification
		provErr  error
	)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		payment, err := capturablePayment(order.Payments)
		if err != nil {
			return err
		}
		if payment.Status == domain.PaymentStatusCaptured {
			result = payment
			return nil
		}

		now := s.now()
		details, captureErr := s.paymentProvider.Capture(txCtx, payments.CaptureRequest{
			ChargeID:       payment.ProviderChargeID,
			Amount:         cmd.AmountCents,
			IdempotencyKey: "capture-" + payment.ID,
			Metadata:       map[string]string{"orderId": order.ID},
		})
		if captureErr != nil {
			provErr = captureErr
			if err := s.failPayment(txCtx, order, payment, captureErr.Error(), cmd.Actor, now); err != nil {
				return err
			}
			return nil
		}

		payment.Status = domain.PaymentStatusCaptured
		payment.CapturedCents = details.CapturedCents
		if payment.CapturedCents == 0 {
			payment.CapturedCents = payment.AmountCents
		}
		capturedAt := details.CapturedAt
		if capturedAt == nil {
			capturedAt = &now
		}
		payment.CapturedAt = capturedAt
		payment.UpdatedAt = now

		if err := s.payments.Update(txCtx, payment); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.transitionOrderPayment(txCtx, order, domain.PaymentStatusCaptured, now); err != nil {
			return err
		}
		if _, err := s.audit.Record(txCtx, AuditRecordCommand{
			OrderID:    order.ID,
			EntityType: "payment",
			EntityID:   payment.ID,
			Action:     auditActionPaymentCaptured,
			Actor:      s.actor(cmd.Actor),
			ActorType:  actorType(cmd.Actor),
			Changes: map[string]any{
				"providerChargeId": payment.ProviderChargeID,
				"capturedCents":    payment.CapturedCents,
			},
		}); err != nil {
			return err
		}

		result = payment
		notified = &Notification{
			Type:        NotificationPaymentCaptured,
			OrderID:     order.ID,
			OrderNumber: order.Number,
			Email:       orderEmail(order),
			OccurredAt:  now,
			Payload: map[string]any{
				"capturedCents": payment.CapturedCents,
				"currency":      order.Currency,
			},
		}
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if provErr != nil {
		return domain.Payment{}, fmt.Errorf("%w: %v", ErrOrderProviderFailure, provErr)
	}

	s.notify(ctx, notified)
	return result, nil
}

// ConfirmPaymentCaptured applies a provider-confirmed capture reported over a
// webhook. Confirming an already captured charge is a no-op.
func (s *orderService) ConfirmPaymentCaptured(ctx context.Context, cmd ConfirmPaymentCapturedCommand) error {
	chargeID := strings.TrimSpace(cmd.ChargeID)
	if chargeID == "" {
		return fmt.Errorf("%w: charge id is required", ErrOrderInvalidInput)
	}

	var notified *Notification

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		payment, err := s.payments.FindByProviderChargeID(txCtx, chargeID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if payment.Status == domain.PaymentStatusCaptured ||
			payment.Status == domain.PaymentStatusPartiallyRefunded ||
			payment.Status == domain.PaymentStatusRefunded {
			return nil
		}
		if !domain.CanTransitionPayment(payment.Status, domain.PaymentStatusCaptured) {
			return fmt.Errorf("%w: payment %s cannot move from %s to %s",
				ErrOrderInvalidState, payment.ID, payment.Status, domain.PaymentStatusCaptured)
		}

		order, err := s.orders.FindByID(txCtx, payment.OrderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		now := s.now()
		capturedAt := cmd.OccurredAt
		if capturedAt.IsZero() {
			capturedAt = now
		}

		payment.Status = domain.PaymentStatusCaptured
		payment.CapturedCents = cmd.CapturedCents
		if payment.CapturedCents == 0 {
			payment.CapturedCents = payment.AmountCents
		}
		payment.CapturedAt = &capturedAt
		payment.UpdatedAt = now

		if err := s.payments.Update(txCtx, payment); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.transitionOrderPayment(txCtx, order, domain.PaymentStatusCaptured, now); err != nil {
			return err
		}
		if _, err := s.audit.Record(txCtx, AuditRecordCommand{
			OrderID:    order.ID,
			EntityType: "payment",
			EntityID:   payment.ID,
			Action:     auditActionPaymentCaptured,
			Actor:      s.actor(cmd.Actor),
			ActorType:  actorTypeSystem,
			Changes: map[string]any{
				"providerChargeId": payment.ProviderChargeID,
				"capturedCents":    payment.CapturedCents,
				"source":           "webhook",
			},
		}); err != nil {
			return err
		}

		notified = &Notification{
			Type:        NotificationPaymentCaptured,
			OrderID:     order.ID,
			OrderNumber: order.Number,
			Email:       orderEmail(order),
			OccurredAt:  now,
			Payload: map[string]any{
				"capturedCents": payment.CapturedCents,
				"currency":      order.Currency,
			},
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(ctx, notified)
	return nil
}

// MarkPaymentFailed records a provider-reported failure. Charges already past
// the point of failure (captured, refunded) are left untouched.
func (s *orderService) MarkPaymentFailed(ctx context.Context, cmd MarkPaymentFailedCommand) error {
	chargeID := strings.TrimSpace(cmd.ChargeID)
	if chargeID == "" {
		return fmt.Errorf("%w: charge id is required", ErrOrderInvalidInput)
	}

	return s.runInTx(ctx, func(txCtx context.Context) error {
		payment, err := s.payments.FindByProviderChargeID(txCtx, chargeID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !domain.CanTransitionPayment(payment.Status, domain.PaymentStatusFailed) {
			s.logger(txCtx, "order.payment.failure.ignored", map[string]any{
				"paymentId": payment.ID,
				"status":    string(payment.Status),
			})
			return nil
		}

		order, err := s.orders.FindByID(txCtx, payment.OrderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		return s.failPayment(txCtx, order, payment, cmd.Reason, cmd.Actor, s.now())
	})
}

// RecordDispute stores an opened chargeback in the order metadata and audit
// trail. Payment status is never regressed by a dispute.
func (s *orderService) RecordDispute(ctx context.Context, cmd RecordDisputeCommand) error {
	chargeID := strings.TrimSpace(cmd.ChargeID)
	if chargeID == "" {
		return fmt.Errorf("%w: charge id is required", ErrOrderInvalidInput)
	}
	disputeID := strings.TrimSpace(cmd.DisputeID)
	if disputeID == "" {
		return fmt.Errorf("%w: dispute id is required", ErrOrderInvalidInput)
	}

	return s.runInTx(ctx, func(txCtx context.Context) error {
		payment, err := s.payments.FindByProviderChargeID(txCtx, chargeID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		order, err := s.orders.FindByID(txCtx, payment.OrderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		now := s.now()
		occurredAt := cmd.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = now
		}

		metadata := maps.Clone(order.Metadata)
		if metadata == nil {
			metadata = make(map[string]any)
		}
		disputes, _ := metadata["disputes"].([]any)
		for _, existing := range disputes {
			if entry, ok := existing.(map[string]any); ok && entry["id"] == disputeID {
				return nil
			}
		}
		metadata["disputes"] = append(disputes, map[string]any{
			"id":          disputeID,
			"chargeId":    chargeID,
			"amountCents": cmd.AmountCents,
			"currency":    cmd.Currency,
			"openedAt":    occurredAt.Format(time.RFC3339),
		})

		if err := s.orders.UpdateMetadata(txCtx, order.ID, metadata, now); err != nil {
			return s.mapRepositoryError(err)
		}
		_, err = s.audit.Record(txCtx, AuditRecordCommand{
			OrderID:    order.ID,
			EntityType: "payment",
			EntityID:   payment.ID,
			Action:     auditActionDisputeRecorded,
			Actor:      s.actor(cmd.Actor),
			ActorType:  actorTypeSystem,
			Changes: map[string]any{
				"disputeId":   disputeID,
				"amountCents": cmd.AmountCents,
			},
		})
		return err
	})
}

// ProcessRefund reverses captured funds. The refund amount may never exceed
// what remains refundable on the charge.
func (s *orderService) ProcessRefund(ctx context.Context, cmd ProcessRefundCommand) (domain.Refund, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Refund{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.AmountCents <= 0 {
		return domain.Refund{}, fmt.Errorf("%w: refund amount must be positive", ErrOrderInvalidRefundAmount)
	}

	var (
		refund   domain.Refund
		notified *Notification
	)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		payment, ok := refundablePayment(order.Payments)
		if !ok {
			return fmt.Errorf("%w: order has no captured payment", ErrOrderInvalidState)
		}

		if err := validateRefundItems(order.Items, cmd.Items); err != nil {
			return err
		}

		refunded, err := s.refunds.TotalRefundedForPayment(txCtx, payment.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		remaining := payment.CapturedCents - refunded
		if cmd.AmountCents > remaining {
			return fmt.Errorf("%w: %d exceeds refundable balance %d", ErrOrderInvalidRefundAmount, cmd.AmountCents, remaining)
		}

		now := s.now()
		refund = domain.Refund{
			ID:          refundIDPrefix + s.newID(),
			OrderID:     order.ID,
			PaymentID:   payment.ID,
			AmountCents: cmd.AmountCents,
			Reason:      strings.TrimSpace(cmd.Reason),
			CreatedAt:   now,
		}
		for _, item := range cmd.Items {
			refund.Items = append(refund.Items, domain.RefundItem{
				OrderItemID: item.OrderItemID,
				Quantity:    item.Quantity,
			})
		}

		if _, err := s.paymentProvider.Refund(txCtx, payments.RefundRequest{
			ChargeID:       payment.ProviderChargeID,
			Amount:         cmd.AmountCents,
			Reason:         refund.Reason,
			IdempotencyKey: "refund-" + refund.ID,
			Metadata:       map[string]string{"orderId": order.ID},
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrOrderProviderFailure, err)
		}

		if err := s.refunds.Insert(txCtx, refund); err != nil {
			return s.mapRepositoryError(err)
		}

		target := domain.PaymentStatusPartiallyRefunded
		if refunded+cmd.AmountCents >= payment.CapturedCents {
			target = domain.PaymentStatusRefunded
		}
		if !domain.CanTransitionPayment(payment.Status, target) {
			return fmt.Errorf("%w: payment %s cannot move from %s to %s",
				ErrOrderInvalidState, payment.ID, payment.Status, target)
		}
		payment.Status = target
		payment.UpdatedAt = now
		if err := s.payments.Update(txCtx, payment); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.transitionOrderPayment(txCtx, order, target, now); err != nil {
			return err
		}

		if _, err := s.audit.Record(txCtx, AuditRecordCommand{
			OrderID:    order.ID,
			EntityType: "refund",
			EntityID:   refund.ID,
			Action:     auditActionRefundProcessed,
			Actor:      s.actor(cmd.Actor),
			ActorType:  actorType(cmd.Actor),
			Changes: map[string]any{
				"amountCents": refund.AmountCents,
				"reason":      refund.Reason,
				"paymentId":   payment.ID,
			},
		}); err != nil {
			return err
		}

		notified = &Notification{
			Type:        NotificationRefundProcessed,
			OrderID:     order.ID,
			OrderNumber: order.Number,
			Email:       orderEmail(order),
			OccurredAt:  now,
			Payload: map[string]any{
				"amountCents": refund.AmountCents,
				"currency":    order.Currency,
				"reason":      refund.Reason,
			},
		}
		return nil
	})
	if err != nil {
		return domain.Refund{}, err
	}

	s.notify(ctx, notified)
	return refund, nil
}

// CreateFulfillment validates requested quantities against what remains
// unfulfilled, creates a carrier label and records the shipment.
func (s *orderService) CreateFulfillment(ctx context.Context, cmd CreateFulfillmentCommand) (domain.Shipment, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Shipment{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return domain.Shipment{}, fmt.Errorf("%w: fulfillment must contain at least one item", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.ServiceLevel) == "" {
		return domain.Shipment{}, fmt.Errorf("%w: service level is required", ErrOrderInvalidInput)
	}

	var (
		shipment domain.Shipment
		notified *Notification
	)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		shipped, err := s.shipments.ShippedQuantities(txCtx, order.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := validateFulfillmentItems(order.Items, shipped, cmd.Items); err != nil {
			return err
		}

		now := s.now()
		shipmentID := shipmentIDPrefix + s.newID()

		label, err := s.shippingProvider.CreateLabel(txCtx, shipping.LabelRequest{
			From:           cmd.From,
			To:             cmd.To,
			Parcels:        fulfillmentParcels(order.Items, cmd.Items),
			ServiceLevel:   strings.TrimSpace(cmd.ServiceLevel),
			Reference:      order.ID,
			IdempotencyKey: "label-" + shipmentID,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOrderProviderFailure, err)
		}

		carrier := strings.TrimSpace(cmd.Carrier)
		if carrier == "" {
			carrier = label.Carrier
		}

		shipment = domain.Shipment{
			ID:             shipmentID,
			OrderID:        order.ID,
			Carrier:        carrier,
			ServiceLevel:   label.ServiceLevel,
			TrackingNumber: label.TrackingNumber,
			LabelRef:       label.LabelRef,
			Status:         domain.ShipmentStatusLabelCreated,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		for _, item := range cmd.Items {
			shipment.Items = append(shipment.Items, domain.ShipmentItem{
				ShipmentID:  shipmentID,
				OrderItemID: item.OrderItemID,
				Quantity:    item.Quantity,
			})
		}

		if err := s.shipments.Insert(txCtx, shipment); err != nil {
			return s.mapRepositoryError(err)
		}

		target := domain.FulfillmentStatusPartiallyFulfilled
		if coversRemaining(order.Items, shipped, cmd.Items) {
			target = domain.FulfillmentStatusFulfilled
		}
		if err := s.transitionOrderFulfillment(txCtx, order, target, now); err != nil {
			return err
		}

		if _, err := s.audit.Record(txCtx, AuditRecordCommand{
			OrderID:    order.ID,
			EntityType: "shipment",
			EntityID:   shipment.ID,
			Action:     auditActionFulfillmentCreated,
			Actor:      s.actor(cmd.Actor),
			ActorType:  actorType(cmd.Actor),
			Changes: map[string]any{
				"carrier":        shipment.Carrier,
				"serviceLevel":   shipment.ServiceLevel,
				"trackingNumber": shipment.TrackingNumber,
				"items":          len(shipment.Items),
			},
		}); err != nil {
			return err
		}

		notified = &Notification{
			Type:        NotificationFulfillmentCreated,
			OrderID:     order.ID,
			OrderNumber: order.Number,
			Email:       orderEmail(order),
			OccurredAt:  now,
			Payload: map[string]any{
				"carrier":        shipment.Carrier,
				"trackingNumber": shipment.TrackingNumber,
			},
		}
		return nil
	})
	if err != nil {
		return domain.Shipment{}, err
	}

	s.notify(ctx, notified)
	return shipment, nil
}

// UpdateShipmentTracking appends a carrier event. Duplicate deliveries of the
// same event are no-ops; events arriving late are stored without regressing
// the shipment status.
func (s *orderService) UpdateShipmentTracking(ctx context.Context, cmd TrackingUpdateCommand) (domain.Shipment, error) {
	shipmentID := strings.TrimSpace(cmd.ShipmentID)
	if shipmentID == "" {
		return domain.Shipment{}, fmt.Errorf("%w: shipment id is required", ErrOrderInvalidInput)
	}
	if !domain.ValidShipmentStatus(cmd.Status) {
		return domain.Shipment{}, fmt.Errorf("%w: unknown shipment status %q", ErrOrderInvalidInput, cmd.Status)
	}
	if cmd.OccurredAt.IsZero() {
		return domain.Shipment{}, fmt.Errorf("%w: event timestamp is required", ErrOrderInvalidInput)
	}

	var (
		result   domain.Shipment
		notified *Notification
	)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		shipment, err := s.shipments.FindByID(txCtx, shipmentID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		occurredAt := cmd.OccurredAt.UTC()
		for _, existing := range shipment.Events {
			if existing.Status == cmd.Status && existing.OccurredAt.Equal(occurredAt) {
				result = shipment
				return nil
			}
		}

		now := s.now()
		event := domain.TrackingEvent{
			ID:          trackingIDPrefix + s.newID(),
			ShipmentID:  shipment.ID,
			Status:      cmd.Status,
			Description: strings.TrimSpace(cmd.Description),
			Location:    strings.TrimSpace(cmd.Location),
			OccurredAt:  occurredAt,
			Metadata:    maps.Clone(cmd.Metadata),
			RecordedAt:  now,
		}
		if err := s.shipments.AppendTrackingEvent(txCtx, event); err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsConflict() {
				result = shipment
				return nil
			}
			return s.mapRepositoryError(err)
		}

		next, changed := nextShipmentStatus(shipment, event)
		if changed {
			if err := s.shipments.UpdateStatus(txCtx, shipment.ID, next, now); err != nil {
				return s.mapRepositoryError(err)
			}
			shipment.Status = next
		}
		shipment.Events = append(shipment.Events, event)
		shipment.UpdatedAt = now

		order, err := s.orders.FindByID(txCtx, shipment.OrderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		if changed && next == domain.ShipmentStatusDelivered {
			target := domain.FulfillmentStatusPartiallyDelivered
			if allShipmentsDelivered(order.Shipments, shipment) && coversAllItems(order.Items, order.Shipments, shipment) {
				target = domain.FulfillmentStatusDelivered
			}
			if err := s.transitionOrderFulfillment(txCtx, order, target, now); err != nil {
				return err
			}
			notified = &Notification{
				Type:        NotificationShipmentDelivered,
				OrderID:     order.ID,
				OrderNumber: order.Number,
				Email:       orderEmail(order),
				OccurredAt:  now,
				Payload: map[string]any{
					"trackingNumber": shipment.TrackingNumber,
					"deliveredAt":    occurredAt.Format(time.RFC3339),
				},
			}
		}

		if _, err := s.audit.Record(txCtx, AuditRecordCommand{
			OrderID:    shipment.OrderID,
			EntityType: "shipment",
			EntityID:   shipment.ID,
			Action:     auditActionTrackingUpdated,
			Actor:      s.actor(cmd.Actor),
			ActorType:  actorTypeSystem,
			Changes: map[string]any{
				"status":     string(event.Status),
				"occurredAt": occurredAt.Format(time.RFC3339),
				"advanced":   changed,
			},
		}); err != nil {
			return err
		}

		result = shipment
		return nil
	})
	if err != nil {
		return domain.Shipment{}, err
	}

	s.notify(ctx, notified)
	return result, nil
}

func (s *orderService) FindShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Shipment, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return domain.Shipment{}, fmt.Errorf("%w: tracking number is required", ErrOrderInvalidInput)
	}
	shipment, err := s.shipments.FindByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return domain.Shipment{}, s.mapRepositoryError(err)
	}
	return shipment, nil
}

// QuoteRates is a pass-through to the carrier; nothing is persisted.
func (s *orderService) QuoteRates(ctx context.Context, cmd QuoteRatesCommand) ([]shipping.Rate, error) {
	if len(cmd.Parcels) == 0 {
		return nil, fmt.Errorf("%w: at least one parcel is required", ErrOrderInvalidInput)
	}
	rates, err := s.shippingProvider.QuoteRates(ctx, shipping.RateRequest{
		From:    cmd.From,
		To:      cmd.To,
		Parcels: cmd.Parcels,
		Options: cmd.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderProviderFailure, err)
	}
	return rates, nil
}

func (s *orderService) failPayment(ctx context.Context, order domain.Order, payment domain.Payment, reason, actor string, now time.Time) error {
	if !domain.CanTransitionPayment(payment.Status, domain.PaymentStatusFailed) {
		return fmt.Errorf("%w: payment %s cannot move from %s to %s",
			ErrOrderInvalidState, payment.ID, payment.Status, domain.PaymentStatusFailed)
	}
	payment.Status = domain.PaymentStatusFailed
	payment.UpdatedAt = now
	if err := s.payments.Update(ctx, payment); err != nil {
		return s.mapRepositoryError(err)
	}
	if err := s.transitionOrderPayment(ctx, order, domain.PaymentStatusFailed, now); err != nil {
		return err
	}
	_, err := s.audit.Record(ctx, AuditRecordCommand{
		OrderID:    order.ID,
		EntityType: "payment",
		EntityID:   payment.ID,
		Action:     auditActionPaymentFailed,
		Actor:      s.actor(actor),
		ActorType:  actorType(actor),
		Changes: map[string]any{
			"providerChargeId": payment.ProviderChargeID,
			"reason":           reason,
		},
	})
	return err
}

func (s *orderService) transitionOrderPayment(ctx context.Context, order domain.Order, target domain.PaymentStatus, now time.Time) error {
	if order.PaymentStatus == target {
		return nil
	}
	if !domain.CanTransitionPayment(order.PaymentStatus, target) {
		return fmt.Errorf("%w: order %s cannot move from %s to %s",
			ErrOrderInvalidState, order.ID, order.PaymentStatus, target)
	}
	if err := s.orders.UpdatePaymentStatus(ctx, order.ID, target, now); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *orderService) transitionOrderFulfillment(ctx context.Context, order domain.Order, target domain.FulfillmentStatus, now time.Time) error {
	if order.FulfillmentStatus == target {
		return nil
	}
	if !domain.CanTransitionFulfillment(order.FulfillmentStatus, target) {
		return fmt.Errorf("%w: order %s cannot move from %s to %s",
			ErrOrderInvalidState, order.ID, order.FulfillmentStatus, target)
	}
	if err := s.orders.UpdateFulfillmentStatus(ctx, order.ID, target, now); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("LU-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) notify(ctx context.Context, notification *Notification) {
	if notification == nil || s.notifications == nil {
		return
	}
	s.notifications.Enqueue(*notification)
	s.logger(ctx, "order.notification.enqueued", map[string]any{
		"type":    notification.Type,
		"orderId": notification.OrderID,
	})
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) actor(actor string) string {
	if trimmed := strings.TrimSpace(actor); trimmed != "" {
		return trimmed
	}
	return "system"
}

func actorType(actor string) string {
	if strings.TrimSpace(actor) == "" || strings.TrimSpace(actor) == "system" {
		return actorTypeSystem
	}
	return actorTypeUser
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func capturablePayment(list []domain.Payment) (domain.Payment, error) {
	var captured *domain.Payment
	for i := range list {
		switch list[i].Status {
		case domain.PaymentStatusPending, domain.PaymentStatusAuthorized:
			return list[i], nil
		case domain.PaymentStatusCaptured:
			captured = &list[i]
		}
	}
	if captured != nil {
		return *captured, nil
	}
	return domain.Payment{}, fmt.Errorf("%w: order has no capturable payment", ErrOrderInvalidState)
}

// refundablePayment picks the payment a refund applies to. Fully refunded
// payments still qualify so an over-refund fails on the balance check rather
// than as a state error.
func refundablePayment(list []domain.Payment) (domain.Payment, bool) {
	for i := range list {
		if list[i].Refundable() {
			return list[i], true
		}
	}
	for i := range list {
		if list[i].Status == domain.PaymentStatusRefunded {
			return list[i], true
		}
	}
	return domain.Payment{}, false
}

func validateRefundItems(ordered []domain.OrderItem, requested []RefundItemInput) error {
	quantities := make(map[string]int, len(ordered))
	for _, item := range ordered {
		quantities[item.ID] = item.Quantity
	}
	for _, item := range requested {
		max, ok := quantities[item.OrderItemID]
		if !ok {
			return fmt.Errorf("%w: unknown order item %s", ErrOrderInvalidInput, item.OrderItemID)
		}
		if item.Quantity <= 0 || item.Quantity > max {
			return fmt.Errorf("%w: invalid quantity %d for order item %s", ErrOrderInvalidInput, item.Quantity, item.OrderItemID)
		}
	}
	return nil
}

func validateFulfillmentItems(ordered []domain.OrderItem, shipped map[string]int, requested []FulfillmentItemInput) error {
	remaining := make(map[string]int, len(ordered))
	for _, item := range ordered {
		remaining[item.ID] = item.Quantity - shipped[item.ID]
	}
	seen := make(map[string]bool, len(requested))
	for _, item := range requested {
		left, ok := remaining[item.OrderItemID]
		if !ok {
			return fmt.Errorf("%w: unknown order item %s", ErrOrderInvalidInput, item.OrderItemID)
		}
		if seen[item.OrderItemID] {
			return fmt.Errorf("%w: duplicate order item %s", ErrOrderInvalidInput, item.OrderItemID)
		}
		seen[item.OrderItemID] = true
		if item.Quantity <= 0 || item.Quantity > left {
			return fmt.Errorf("%w: quantity %d for order item %s exceeds remaining %d",
				ErrOrderInvalidInput, item.Quantity, item.OrderItemID, left)
		}
	}
	return nil
}

func coversRemaining(ordered []domain.OrderItem, shipped map[string]int, requested []FulfillmentItemInput) bool {
	requestedQty := make(map[string]int, len(requested))
	for _, item := range requested {
		requestedQty[item.OrderItemID] += item.Quantity
	}
	for _, item := range ordered {
		if shipped[item.ID]+requestedQty[item.ID] < item.Quantity {
			return false
		}
	}
	return true
}

func fulfillmentParcels(ordered []domain.OrderItem, requested []FulfillmentItemInput) []shipping.Parcel {
	byID := make(map[string]domain.OrderItem, len(ordered))
	for _, item := range ordered {
		byID[item.ID] = item
	}
	parcels := make([]shipping.Parcel, 0, len(requested))
	for _, item := range requested {
		line := byID[item.OrderItemID]
		parcels = append(parcels, shipping.Parcel{
			SKU:      line.SKU,
			Name:     line.Name,
			Quantity: item.Quantity,
		})
	}
	return parcels
}

// nextShipmentStatus decides whether an appended event advances the shipment.
// Terminal statuses are sinks; non-terminal statuses only move forward in the
// carrier ordering so late events cannot regress.
func nextShipmentStatus(shipment domain.Shipment, event domain.TrackingEvent) (domain.ShipmentStatus, bool) {
	if domain.ShipmentStatusTerminal(shipment.Status) {
		return shipment.Status, false
	}
	if event.Status == domain.ShipmentStatusException || event.Status == domain.ShipmentStatusCancelled {
		return event.Status, true
	}
	currentRank, ok := domain.ShipmentStatusRank(shipment.Status)
	if !ok {
		return event.Status, true
	}
	eventRank, ok := domain.ShipmentStatusRank(event.Status)
	if !ok {
		return shipment.Status, false
	}
	if eventRank > currentRank {
		return event.Status, true
	}
	return shipment.Status, false
}

func allShipmentsDelivered(shipments []domain.Shipment, updated domain.Shipment) bool {
	for _, shipment := range shipments {
		if shipment.ID == updated.ID {
			continue
		}
		if shipment.Status == domain.ShipmentStatusCancelled {
			continue
		}
		if shipment.Status != domain.ShipmentStatusDelivered {
			return false
		}
	}
	return true
}

func coversAllItems(ordered []domain.OrderItem, shipments []domain.Shipment, updated domain.Shipment) bool {
	covered := make(map[string]int, len(ordered))
	add := func(shipment domain.Shipment) {
		if shipment.Status == domain.ShipmentStatusCancelled {
			return
		}
		for _, item := range shipment.Items {
			covered[item.OrderItemID] += item.Quantity
		}
	}
	seen := false
	for _, shipment := range shipments {
		if shipment.ID == updated.ID {
			add(updated)
			seen = true
			continue
		}
		add(shipment)
	}
	if !seen {
		add(updated)
	}
	for _, item := range ordered {
		if covered[item.ID] < item.Quantity {
			return false
		}
	}
	return true
}

func orderEmail(order domain.Order) string {
	if order.GuestEmail != nil {
		return *order.GuestEmail
	}
	return ""
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lumenshop/orders-api/internal/domain"
	"github.com/lumenshop/orders-api/internal/payments"
	"github.com/lumenshop/orders-api/internal/repositories"
	"github.com/lumenshop/orders-api/internal/shipping"
)

type stubOrderRepo struct {
	insertFn            func(ctx context.Context, order domain.Order) error
	findFn              func(ctx context.Context, orderID string) (domain.Order, error)
	listFn              func(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error)
	updatePaymentFn     func(ctx context.Context, orderID string, status domain.PaymentStatus, updatedAt time.Time) error
	updateFulfillmentFn func(ctx context.Context, orderID string, status domain.FulfillmentStatus, updatedAt time.Time) error
	updateMetadataFn    func(ctx context.Context, orderID string, metadata map[string]any, updatedAt time.Time) error
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, order)
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn == nil {
		return domain.Order{}, errors.New("find not stubbed")
	}
	return s.findFn(ctx, orderID)
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filter)
}

func (s *stubOrderRepo) UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus, updatedAt time.Time) error {
	if s.updatePaymentFn == nil {
		return nil
	}
	return s.updatePaymentFn(ctx, orderID, status, updatedAt)
}

func (s *stubOrderRepo) UpdateFulfillmentStatus(ctx context.Context, orderID string, status domain.FulfillmentStatus, updatedAt time.Time) error {
	if s.updateFulfillmentFn == nil {
		return nil
	}
	return s.updateFulfillmentFn(ctx, orderID, status, updatedAt)
}

func (s *stubOrderRepo) UpdateMetadata(ctx context.Context, orderID string, metadata map[string]any, updatedAt time.Time) error {
	if s.updateMetadataFn == nil {
		return nil
	}
	return s.updateMetadataFn(ctx, orderID, metadata, updatedAt)
}

type stubPaymentRepo struct {
	insertFn       func(ctx context.Context, payment domain.Payment) error
	findFn         func(ctx context.Context, paymentID string) (domain.Payment, error)
	findByChargeFn func(ctx context.Context, providerChargeID string) (domain.Payment, error)
	listFn         func(ctx context.Context, orderID string) ([]domain.Payment, error)
	updateFn       func(ctx context.Context, payment domain.Payment) error
}

func (s *stubPaymentRepo) Insert(ctx context.Context, payment domain.Payment) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, payment)
}

func (s *stubPaymentRepo) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	if s.findFn == nil {
		return domain.Payment{}, errors.New("find not stubbed")
	}
	return s.findFn(ctx, paymentID)
}

func (s *stubPaymentRepo) FindByProviderChargeID(ctx context.Context, providerChargeID string) (domain.Payment, error) {
	if s.findByChargeFn == nil {
		return domain.Payment{}, errors.New("find by charge not stubbed")
	}
	return s.findByChargeFn(ctx, providerChargeID)
}

func (s *stubPaymentRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, orderID)
}

func (s *stubPaymentRepo) Update(ctx context.Context, payment domain.Payment) error {
	if s.updateFn == nil {
		return nil
	}
	return s.updateFn(ctx, payment)
}

type stubRefundRepo struct {
	insertFn func(ctx context.Context, refund domain.Refund) error
	listFn   func(ctx context.Context, orderID string) ([]domain.Refund, error)
	totalFn  func(ctx context.Context, paymentID string) (int64, error)
}

func (s *stubRefundRepo) Insert(ctx context.Context, refund domain.Refund) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, refund)
}

func (s *stubRefundRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, orderID)
}

func (s *stubRefundRepo) TotalRefundedForPayment(ctx context.Context, paymentID string) (int64, error) {
	if s.totalFn == nil {
		return 0, nil
	}
	return s.totalFn(ctx, paymentID)
}

type stubShipmentRepo struct {
	insertFn       func(ctx context.Context, shipment domain.Shipment) error
	findFn         func(ctx context.Context, shipmentID string) (domain.Shipment, error)
	findTrackingFn func(ctx context.Context, trackingNumber string) (domain.Shipment, error)
	listFn         func(ctx context.Context, orderID string) ([]domain.Shipment, error)
	updateStatusFn func(ctx context.Context, shipmentID string, status domain.ShipmentStatus, updatedAt time.Time) error
	appendEventFn  func(ctx context.Context, event domain.TrackingEvent) error
	shippedFn      func(ctx context.Context, orderID string) (map[string]int, error)
}

func (s *stubShipmentRepo) Insert(ctx context.Context, shipment domain.Shipment) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, shipment)
}

func (s *stubShipmentRepo) FindByID(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	if s.findFn == nil {
		return domain.Shipment{}, errors.New("find not stubbed")
	}
	return s.findFn(ctx, shipmentID)
}

func (s *stubShipmentRepo) FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Shipment, error) {
	if s.findTrackingFn == nil {
		return domain.Shipment{}, errors.New("find by tracking not stubbed")
	}
	return s.findTrackingFn(ctx, trackingNumber)
}

func (s *stubShipmentRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, orderID)
}

func (s *stubShipmentRepo) UpdateStatus(ctx context.Context, shipmentID string, status domain.ShipmentStatus, updatedAt time.Time) error {
	if s.updateStatusFn == nil {
		return nil
	}
	return s.updateStatusFn(ctx, shipmentID, status, updatedAt)
}

func (s *stubShipmentRepo) AppendTrackingEvent(ctx context.Context, event domain.TrackingEvent) error {
	if s.appendEventFn == nil {
		return nil
	}
	return s.appendEventFn(ctx, event)
}

func (s *stubShipmentRepo) ShippedQuantities(ctx context.Context, orderID string) (map[string]int, error) {
	if s.shippedFn == nil {
		return map[string]int{}, nil
	}
	return s.shippedFn(ctx, orderID)
}

type stubCounterRepo struct {
	next int64
}

func (s *stubCounterRepo) Next(ctx context.Context, name string) (int64, error) {
	s.next++
	return s.next, nil
}

type recordingAuditRepo struct {
	entries []domain.AuditLogEntry
}

func (r *recordingAuditRepo) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAuditRepo) ListByOrder(ctx context.Context, orderID string, filter repositories.AuditLogFilter) ([]domain.AuditLogEntry, error) {
	return r.entries, nil
}

func (r *recordingAuditRepo) actions() []string {
	out := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.Action)
	}
	return out
}

type stubPaymentProvider struct {
	captureFn func(ctx context.Context, req payments.CaptureRequest) (payments.ChargeDetails, error)
	refundFn  func(ctx context.Context, req payments.RefundRequest) (payments.ChargeDetails, error)
	lookupFn  func(ctx context.Context, chargeID string) (payments.ChargeDetails, error)
	verifyFn  func(payload []byte, signature string) (payments.WebhookEvent, error)
}

func (s *stubPaymentProvider) Capture(ctx context.Context, req payments.CaptureRequest) (payments.ChargeDetails, error) {
	if s.captureFn == nil {
		return payments.ChargeDetails{}, errors.New("capture not stubbed")
	}
	return s.captureFn(ctx, req)
}

func (s *stubPaymentProvider) Refund(ctx context.Context, req payments.RefundRequest) (payments.ChargeDetails, error) {
	if s.refundFn == nil {
		return payments.ChargeDetails{}, errors.New("refund not stubbed")
	}
	return s.refundFn(ctx, req)
}

func (s *stubPaymentProvider) LookupCharge(ctx context.Context, chargeID string) (payments.ChargeDetails, error) {
	if s.lookupFn == nil {
		return payments.ChargeDetails{}, errors.New("lookup not stubbed")
	}
	return s.lookupFn(ctx, chargeID)
}

func (s *stubPaymentProvider) VerifyWebhook(payload []byte, signature string) (payments.WebhookEvent, error) {
	if s.verifyFn == nil {
		return payments.WebhookEvent{}, errors.New("verify not stubbed")
	}
	return s.verifyFn(payload, signature)
}

type stubShippingProvider struct {
	quoteFn func(ctx context.Context, req shipping.RateRequest) ([]shipping.Rate, error)
	labelFn func(ctx context.Context, req shipping.LabelRequest) (shipping.Label, error)
}

func (s *stubShippingProvider) QuoteRates(ctx context.Context, req shipping.RateRequest) ([]shipping.Rate, error) {
	if s.quoteFn == nil {
		return nil, errors.New("quote not stubbed")
	}
	return s.quoteFn(ctx, req)
}

func (s *stubShippingProvider) CreateLabel(ctx context.Context, req shipping.LabelRequest) (shipping.Label, error) {
	if s.labelFn == nil {
		return shipping.Label{}, errors.New("label not stubbed")
	}
	return s.labelFn(ctx, req)
}

type recordingEnqueuer struct {
	notifications []Notification
}

func (r *recordingEnqueuer) Enqueue(notification Notification) {
	r.notifications = append(r.notifications, notification)
}

type serviceFixture struct {
	orders        *stubOrderRepo
	payments      *stubPaymentRepo
	refunds       *stubRefundRepo
	shipments     *stubShipmentRepo
	auditRepo     *recordingAuditRepo
	paymentProv   *stubPaymentProvider
	shippingProv  *stubShippingProvider
	notifications *recordingEnqueuer
	service       OrderService
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		orders:        &stubOrderRepo{},
		payments:      &stubPaymentRepo{},
		refunds:       &stubRefundRepo{},
		shipments:     &stubShipmentRepo{},
		auditRepo:     &recordingAuditRepo{},
		paymentProv:   &stubPaymentProvider{},
		shippingProv:  &stubShippingProvider{},
		notifications: &recordingEnqueuer{},
	}

	audit, err := NewAuditLogService(AuditLogServiceDeps{
		AuditLogs: f.auditRepo,
		Clock:     fixedClock,
	})
	if err != nil {
		t.Fatalf("NewAuditLogService: %v", err)
	}

	counter := int64(0)
	service, err := NewOrderService(OrderServiceDeps{
		Orders:           f.orders,
		Payments:         f.payments,
		Refunds:          f.refunds,
		Shipments:        f.shipments,
		Counters:         &stubCounterRepo{},
		Audit:            audit,
		PaymentProvider:  f.paymentProv,
		ShippingProvider: f.shippingProv,
		Notifications:    f.notifications,
		Clock:            fixedClock,
		IDGenerator: func() string {
			counter++
			return fmt.Sprintf("TESTID%04d", counter)
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	f.service = service
	return f
}

func testOrder() domain.Order {
	now := fixedClock().Add(-time.Hour)
	return domain.Order{
		ID:                "ord_1",
		Number:            "LU-2026-000001",
		GuestEmail:        strPtr("guest@example.com"),
		Currency:          "USD",
		SubtotalCents:     4000,
		ShippingCents:     800,
		TaxCents:          200,
		GrandTotalCents:   5000,
		PaymentStatus:     domain.PaymentStatusAuthorized,
		FulfillmentStatus: domain.FulfillmentStatusUnfulfilled,
		Items: []domain.OrderItem{
			{ID: "itm_1", OrderID: "ord_1", Name: "Mug", SKU: "MUG-1", UnitPriceCents: 2000, Quantity: 2},
		},
		Payments: []domain.Payment{
			{ID: "pay_1", OrderID: "ord_1", ProviderChargeID: "pi_1", Status: domain.PaymentStatusAuthorized, AmountCents: 5000},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func strPtr(s string) *string { return &s }

func TestIngestOrderRejectsInconsistentTotals(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.IngestOrder(context.Background(), IngestOrderCommand{
		Currency:         "USD",
		SubtotalCents:    4000,
		ShippingCents:    800,
		TaxCents:         200,
		GrandTotalCents:  9999,
		Items:            []IngestOrderItem{{Name: "Mug", Quantity: 1, UnitPriceCents: 4000}},
		ProviderChargeID: "pi_1",
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestIngestOrderCreatesOrderPaymentAndAudit(t *testing.T) {
	f := newServiceFixture(t)

	var insertedOrder domain.Order
	var insertedPayment domain.Payment
	f.orders.insertFn = func(_ context.Context, order domain.Order) error {
		insertedOrder = order
		return nil
	}
	f.payments.insertFn = func(_ context.Context, payment domain.Payment) error {
		insertedPayment = payment
		return nil
	}

	order, err := f.service.IngestOrder(context.Background(), IngestOrderCommand{
		GuestEmail:       strPtr("guest@example.com"),
		Currency:         "usd",
		SubtotalCents:    4000,
		ShippingCents:    800,
		TaxCents:         200,
		GrandTotalCents:  5000,
		Items:            []IngestOrderItem{{Name: "Mug", SKU: "MUG-1", Quantity: 2, UnitPriceCents: 2000}},
		ProviderChargeID: "pi_1",
		Actor:            "ops@lumenshop.dev",
	})
	if err != nil {
		t.Fatalf("IngestOrder: %v", err)
	}

	if !strings.HasPrefix(order.ID, "ord_") {
		t.Fatalf("unexpected order id %q", order.ID)
	}
	if order.Number != "LU-2026-000001" {
		t.Fatalf("unexpected order number %q", order.Number)
	}
	if order.Currency != "USD" {
		t.Fatalf("currency not normalised: %q", order.Currency)
	}
	if insertedOrder.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("unexpected initial payment status %q", insertedOrder.PaymentStatus)
	}
	if insertedPayment.Status != domain.PaymentStatusAuthorized || insertedPayment.AmountCents != 5000 {
		t.Fatalf("unexpected payment: %+v", insertedPayment)
	}
	if got := f.auditRepo.actions(); len(got) != 1 || got[0] != "order_ingested" {
		t.Fatalf("unexpected audit actions: %v", got)
	}
}

func TestCapturePaymentSuccess(t *testing.T) {
	f := newServiceFixture(t)

	order := testOrder()
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return order, nil }

	var updated domain.Payment
	f.payments.updateFn = func(_ context.Context, payment domain.Payment) error {
		updated = payment
		return nil
	}
	var orderStatus domain.PaymentStatus
	f.orders.updatePaymentFn = func(_ context.Context, _ string, status domain.PaymentStatus, _ time.Time) error {
		orderStatus = status
		return nil
	}
	f.paymentProv.captureFn = func(_ context.Context, req payments.CaptureRequest) (payments.ChargeDetails, error) {
		if req.ChargeID != "pi_1" {
			t.Fatalf("unexpected charge id %q", req.ChargeID)
		}
		if req.IdempotencyKey == "" {
			t.Fatal("expected idempotency key")
		}
		return payments.ChargeDetails{Status: payments.StatusSucceeded, CapturedCents: 5000}, nil
	}

	payment, err := f.service.CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord_1", Actor: "ops"})
	if err != nil {
		t.Fatalf("CapturePayment: %v", err)
	}
	if payment.Status != domain.PaymentStatusCaptured || payment.CapturedCents != 5000 {
		t.Fatalf("unexpected payment: %+v", payment)
	}
	if updated.CapturedAt == nil {
		t.Fatal("expected captured timestamp")
	}
	if orderStatus != domain.PaymentStatusCaptured {
		t.Fatalf("unexpected order status %q", orderStatus)
	}
	if got := f.auditRepo.actions(); len(got) != 1 || got[0] != "payment_captured" {
		t.Fatalf("unexpected audit actions: %v", got)
	}
	if len(f.notifications.notifications) != 1 || f.notifications.notifications[0].Type != NotificationPaymentCaptured {
		t.Fatalf("unexpected notifications: %+v", f.notifications.notifications)
	}
}

func TestCapturePaymentAlreadyCapturedIsNoOp(t *testing.T) {
	f := newServiceFixture(t)

	order := testOrder()
	capturedAt := fixedClock().Add(-30 * time.Minute)
	order.PaymentStatus = domain.PaymentStatusCaptured
	order.Payments[0].Status = domain.PaymentStatusCaptured
	order.Payments[0].CapturedCents = 5000
	order.Payments[0].CapturedAt = &capturedAt
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return order, nil }

	providerCalled := false
	f.paymentProv.captureFn = func(_ context.Context, _ payments.CaptureRequest) (payments.ChargeDetails, error) {
		providerCalled = true
		return payments.ChargeDetails{}, nil
	}

	payment, err := f.service.CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("CapturePayment: %v", err)
	}
	if providerCalled {
		t.Fatal("provider must not be called for an already captured charge")
	}
	if payment.CapturedCents != 5000 {
		t.Fatalf("unexpected payment: %+v", payment)
	}
	if len(f.auditRepo.entries) != 0 {
		t.Fatalf("no audit rows expected, got %v", f.auditRepo.actions())
	}
}

func TestCapturePaymentProviderFailureMarksFailed(t *testing.T) {
	f := newServiceFixture(t)

	order := testOrder()
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return order, nil }

	var updated domain.Payment
	f.payments.updateFn = func(_ context.Context, payment domain.Payment) error {
		updated = payment
		return nil
	}
	f.paymentProv.captureFn = func(_ context.Context, _ payments.CaptureRequest) (payments.ChargeDetails, error) {
		return payments.ChargeDetails{}, errors.New("card_declined")
	}

	_, err := f.service.CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderProviderFailure) {
		t.Fatalf("expected ErrOrderProviderFailure, got %v", err)
	}
	if updated.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected payment FAILED, got %q", updated.Status)
	}
	if got := f.auditRepo.actions(); len(got) != 1 || got[0] != "payment_failed" {
		t.Fatalf("unexpected audit actions: %v", got)
	}
	if len(f.notifications.notifications) != 0 {
		t.Fatal("no notification expected on failed capture")
	}
}

func TestProcessRefundRejectsExcessAmount(t *testing.T) {
	f := newServiceFixture(t)

	order := testOrder()
	order.PaymentStatus = domain.PaymentStatusCaptured
	order.Payments[0].Status = domain.PaymentStatusCaptured
	order.Payments[0].CapturedCents = 5000
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return order, nil }
	f.refunds.totalFn = func(_ context.Context, _ string) (int64, error) { return 4000, nil }

	_, err := f.service.ProcessRefund(context.Background(), ProcessRefundCommand{
		OrderID:     "ord_1",
		AmountCents: 1500,
	})
	if !errors.Is(err, ErrOrderInvalidRefundAmount) {
		t.Fatalf("expected ErrOrderInvalidRefundAmount, got %v", err)
	}
}

func TestProcessRefundFullyRefundedOrderRejectsAmount(t *testing.T) {
	f := newServiceFixture(t)

	order := testOrder()
	order.PaymentStatus = domain.PaymentStatusRefunded
	order.Payments[0].Status = domain.PaymentStatusRefunded
	order.Payments[0].CapturedCents = 5000
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return order, nil }
	f.refunds.totalFn = func(_ context.Context, _ string) (int64, error) { return 5000, nil }

	_, err := f.service.ProcessRefund(context.Background(), ProcessRefundCommand{
		OrderID:     "ord_1",
		AmountCents: 100,
	})
	if !errors.Is(err, ErrOrderInvalidRefundAmount) {
		t.Fatalf("expected ErrOrderInvalidRefundAmount, got %v", err)
	}
}

func TestProcessRefundFullRefundMarksRefunded(t *testing.T) {
	f := newServiceFixture(t)

	order := testOrder()
	order.PaymentStatus = domain.PaymentStatusCaptured
	order.Payments[0].Status = domain.PaymentStatusCaptured
	order.Payments[0].CapturedCents = 5000
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return order, nil }
	f.refunds.totalFn = func(_ context.Context, _ string) (int64, error) { return 3000, nil }

	var insertedRefund domain.Refund
	f.refunds.insertFn = func(_ context.Context, refund domain.Refund) error {
		insertedRefund = refund
		return nil
	}
	var paymentStatus domain.PaymentStatus
	f.payments.updateFn = func(_ context.Context, payment domain.Payment) error {
		paymentStatus = payment.Status
		return nil
	}
	f.paymentProv.refundFn = func(_ context.Context, req payments.RefundRequest) (payments.ChargeDetails, error) {
		if req.Amount != 2000 {
			t.Fatalf("unexpected refund amount %d", req.Amount)
		}
		return payments.ChargeDetails{}, nil
	}

	refund, err := f.service.ProcessRefund(context.Background(), ProcessRefundCommand{
		OrderID:     "ord_1",
		AmountCents: 2000,
		Reason:      "requested_by_customer",
		Actor:       "ops",
	})
	if err != nil {
		t.Fatalf("ProcessRefund: %v", err)
	}
	if !strings.HasPrefix(refund.ID, "ref_") {
		t.Fatalf("unexpected refund id %q", refund.ID)
	}
	if insertedRefund.AmountCents != 2000 {
		t.Fatalf("unexpected stored refund: %+v", insertedRefund)
	}
	if paymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected payment REFUNDED, got %q", paymentStatus)
	}
	if got := f.auditRepo.actions(); len(got) != 1 || got[0] != "refund_processed" {
		t.Fatalf("unexpected audit actions: %v", got)
	}
	if len(f.notifications.notifications) != 1 || f.notifications.notifications[0].Type != NotificationRefundProcessed {
		t.Fatalf("unexpected notifications: %+v", f.notifications.notifications)
	}
}

func TestProcessRefundPartialMarksPartiallyRefunded(t *testing.T) {
	f := newServiceFixture(t)

	order := testOrder()
	order.PaymentStatus = domain.PaymentStatusCaptured
	order.Payments[0].Status = domain.PaymentStatusCaptured
	order.Payments[0].CapturedCents = 5000
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return order, nil }
	f.paymentProv.refundFn = func(_ context.Context, _ payments.RefundRequest) (payments.ChargeDetails, error) {
		return payments.ChargeDetails{}, nil
	}

	var paymentStatus domain.PaymentStatus
	f.payments.updateFn = func(_ context.Context, payment domain.Payment) error {
		paymentStatus = payment.Status
		return nil
	}

	if _, err := f.service.ProcessRefund(context.Background(), ProcessRefundCommand{
		OrderID:     "ord_1",
		AmountCents: 1000,
	}); err != nil {
		t.Fatalf("ProcessRefund: %v", err)
	}
	if paymentStatus != domain.PaymentStatusPartiallyRefunded {
		t.Fatalf("expected PARTIALLY_REFUNDED, got %q", paymentStatus)
	}
}

func TestCreateFulfillmentRejectsExcessQuantity(t *testing.T) {
	f := newServiceFixture(t)

	order := testOrder()
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return order, nil }
	f.shipments.shippedFn = func(_ context.Context, _ string) (map[string]int, error) {
		return map[string]int{"itm_1": 1}, nil
	}

	_, err := f.service.CreateFulfillment(context.Background(), CreateFulfillmentCommand{
		OrderID:      "ord_1",
		ServiceLevel: "standard",
		Items:        []FulfillmentItemInput{{OrderItemID: "itm_1", Quantity: 2}},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestCreateFulfillmentCompletesOrder(t *testing.T) {
	f := newServiceFixture(t)

	order := testOrder()
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return order, nil }

	var inserted domain.Shipment
	f.shipments.insertFn = func(_ context.Context, shipment domain.Shipment) error {
		inserted = shipment
		return nil
	}
	var fulfillment domain.FulfillmentStatus
	f.orders.updateFulfillmentFn = func(_ context.Context, _ string, status domain.FulfillmentStatus, _ time.Time) error {
		fulfillment = status
		return nil
	}
	f.shippingProv.labelFn = func(_ context.Context, req shipping.LabelRequest) (shipping.Label, error) {
		if req.Reference != "ord_1" {
			t.Fatalf("unexpected label reference %q", req.Reference)
		}
		return shipping.Label{
			Carrier:        "acme",
			TrackingNumber: "TRK-1",
			LabelRef:       "lbl_1",
			ServiceLevel:   req.ServiceLevel,
		}, nil
	}

	shipment, err := f.service.CreateFulfillment(context.Background(), CreateFulfillmentCommand{
		OrderID:      "ord_1",
		ServiceLevel: "standard",
		Items:        []FulfillmentItemInput{{OrderItemID: "itm_1", Quantity: 2}},
		Actor:        "ops",
	})
	if err != nil {
		t.Fatalf("CreateFulfillment: %v", err)
	}
	if shipment.Status != domain.ShipmentStatusLabelCreated {
		t.Fatalf("unexpected status %q", shipment.Status)
	}
	if inserted.TrackingNumber != "TRK-1" || len(inserted.Items) != 1 {
		t.Fatalf("unexpected stored shipment: %+v", inserted)
	}
	if fulfillment != domain.FulfillmentStatusFulfilled {
		t.Fatalf("expected FULFILLED, got %q", fulfillment)
	}
	if got := f.auditRepo.actions(); len(got) != 1 || got[0] != "fulfillment_created" {
		t.Fatalf("unexpected audit actions: %v", got)
	}
}

func TestCreateFulfillmentPartialCoverage(t *testing.T) {
	f := newServiceFixture(t)

	order := testOrder()
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return order, nil }
	f.shippingProv.labelFn = func(_ context.Context, req shipping.LabelRequest) (shipping.Label, error) {
		return shipping.Label{Carrier: "acme", TrackingNumber: "TRK-2", ServiceLevel: req.ServiceLevel}, nil
	}

	var fulfillment domain.FulfillmentStatus
	f.orders.updateFulfillmentFn = func(_ context.Context, _ string, status domain.FulfillmentStatus, _ time.Time) error {
		fulfillment = status
		return nil
	}

	if _, err := f.service.CreateFulfillment(context.Background(), CreateFulfillmentCommand{
		OrderID:      "ord_1",
		ServiceLevel: "standard",
		Items:        []FulfillmentItemInput{{OrderItemID: "itm_1", Quantity: 1}},
	}); err != nil {
		t.Fatalf("CreateFulfillment: %v", err)
	}
	if fulfillment != domain.FulfillmentStatusPartiallyFulfilled {
		t.Fatalf("expected PARTIALLY_FULFILLED, got %q", fulfillment)
	}
}

func testShipment() domain.Shipment {
	base := fixedClock().Add(-2 * time.Hour)
	return domain.Shipment{
		ID:             "shp_1",
		OrderID:        "ord_1",
		Carrier:        "acme",
		TrackingNumber: "TRK-1",
		Status:         domain.ShipmentStatusInTransit,
		Items:          []domain.ShipmentItem{{ShipmentID: "shp_1", OrderItemID: "itm_1", Quantity: 2}},
		Events: []domain.TrackingEvent{
			{ID: "trk_a", ShipmentID: "shp_1", Status: domain.ShipmentStatusPickedUp, OccurredAt: base},
			{ID: "trk_b", ShipmentID: "shp_1", Status: domain.ShipmentStatusInTransit, OccurredAt: base.Add(30 * time.Minute)},
		},
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func TestUpdateShipmentTrackingDuplicateEventIsNoOp(t *testing.T) {
	f := newServiceFixture(t)

	shipment := testShipment()
	f.shipments.findFn = func(_ context.Context, _ string) (domain.Shipment, error) { return shipment, nil }
	f.shipments.appendEventFn = func(_ context.Context, _ domain.TrackingEvent) error {
		t.Fatal("append must not be called for a duplicate event")
		return nil
	}

	result, err := f.service.UpdateShipmentTracking(context.Background(), TrackingUpdateCommand{
		ShipmentID: "shp_1",
		Status:     domain.ShipmentStatusInTransit,
		OccurredAt: shipment.Events[1].OccurredAt,
	})
	if err != nil {
		t.Fatalf("UpdateShipmentTracking: %v", err)
	}
	if result.Status != domain.ShipmentStatusInTransit {
		t.Fatalf("unexpected status %q", result.Status)
	}
	if len(f.auditRepo.entries) != 0 {
		t.Fatalf("no audit expected, got %v", f.auditRepo.actions())
	}
}

func TestUpdateShipmentTrackingLateEventDoesNotRegress(t *testing.T) {
	f := newServiceFixture(t)

	shipment := testShipment()
	f.shipments.findFn = func(_ context.Context, _ string) (domain.Shipment, error) { return shipment, nil }
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return testOrder(), nil }

	appended := false
	f.shipments.appendEventFn = func(_ context.Context, event domain.TrackingEvent) error {
		appended = true
		if event.Status != domain.ShipmentStatusLabelCreated {
			t.Fatalf("unexpected appended status %q", event.Status)
		}
		return nil
	}
	f.shipments.updateStatusFn = func(_ context.Context, _ string, status domain.ShipmentStatus, _ time.Time) error {
		t.Fatalf("status must not change, attempted %q", status)
		return nil
	}

	result, err := f.service.UpdateShipmentTracking(context.Background(), TrackingUpdateCommand{
		ShipmentID: "shp_1",
		Status:     domain.ShipmentStatusLabelCreated,
		OccurredAt: fixedClock().Add(-3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("UpdateShipmentTracking: %v", err)
	}
	if !appended {
		t.Fatal("late event must still be stored")
	}
	if result.Status != domain.ShipmentStatusInTransit {
		t.Fatalf("status regressed to %q", result.Status)
	}
	if got := f.auditRepo.actions(); len(got) != 1 || got[0] != "shipment_tracking_updated" {
		t.Fatalf("unexpected audit actions: %v", got)
	}
}

func TestUpdateShipmentTrackingDeliveryCompletesOrder(t *testing.T) {
	f := newServiceFixture(t)

	shipment := testShipment()
	f.shipments.findFn = func(_ context.Context, _ string) (domain.Shipment, error) { return shipment, nil }

	order := testOrder()
	order.FulfillmentStatus = domain.FulfillmentStatusFulfilled
	order.Shipments = []domain.Shipment{shipment}
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return order, nil }

	var shipmentStatus domain.ShipmentStatus
	f.shipments.updateStatusFn = func(_ context.Context, _ string, status domain.ShipmentStatus, _ time.Time) error {
		shipmentStatus = status
		return nil
	}
	var fulfillment domain.FulfillmentStatus
	f.orders.updateFulfillmentFn = func(_ context.Context, _ string, status domain.FulfillmentStatus, _ time.Time) error {
		fulfillment = status
		return nil
	}

	result, err := f.service.UpdateShipmentTracking(context.Background(), TrackingUpdateCommand{
		ShipmentID: "shp_1",
		Status:     domain.ShipmentStatusDelivered,
		OccurredAt: fixedClock().Add(-5 * time.Minute),
	})
	if err != nil {
		t.Fatalf("UpdateShipmentTracking: %v", err)
	}
	if shipmentStatus != domain.ShipmentStatusDelivered || result.Status != domain.ShipmentStatusDelivered {
		t.Fatalf("expected DELIVERED, got %q", shipmentStatus)
	}
	if fulfillment != domain.FulfillmentStatusDelivered {
		t.Fatalf("expected order DELIVERED, got %q", fulfillment)
	}
	if len(f.notifications.notifications) != 1 || f.notifications.notifications[0].Type != NotificationShipmentDelivered {
		t.Fatalf("unexpected notifications: %+v", f.notifications.notifications)
	}
}

func TestUpdateShipmentTrackingTerminalStatusIsSink(t *testing.T) {
	f := newServiceFixture(t)

	shipment := testShipment()
	shipment.Status = domain.ShipmentStatusDelivered
	f.shipments.findFn = func(_ context.Context, _ string) (domain.Shipment, error) { return shipment, nil }
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return testOrder(), nil }
	f.shipments.updateStatusFn = func(_ context.Context, _ string, status domain.ShipmentStatus, _ time.Time) error {
		t.Fatalf("terminal status must not change, attempted %q", status)
		return nil
	}

	result, err := f.service.UpdateShipmentTracking(context.Background(), TrackingUpdateCommand{
		ShipmentID: "shp_1",
		Status:     domain.ShipmentStatusInTransit,
		OccurredAt: fixedClock(),
	})
	if err != nil {
		t.Fatalf("UpdateShipmentTracking: %v", err)
	}
	if result.Status != domain.ShipmentStatusDelivered {
		t.Fatalf("unexpected status %q", result.Status)
	}
}

func TestMarkPaymentFailedIgnoredAfterCapture(t *testing.T) {
	f := newServiceFixture(t)

	f.payments.findByChargeFn = func(_ context.Context, _ string) (domain.Payment, error) {
		return domain.Payment{ID: "pay_1", OrderID: "ord_1", Status: domain.PaymentStatusCaptured}, nil
	}
	f.payments.updateFn = func(_ context.Context, payment domain.Payment) error {
		t.Fatalf("captured payment must not change, attempted %q", payment.Status)
		return nil
	}

	if err := f.service.MarkPaymentFailed(context.Background(), MarkPaymentFailedCommand{
		ChargeID: "pi_1",
		Reason:   "card_declined",
	}); err != nil {
		t.Fatalf("MarkPaymentFailed: %v", err)
	}
}

func TestRecordDisputeIsIdempotentPerDispute(t *testing.T) {
	f := newServiceFixture(t)

	f.payments.findByChargeFn = func(_ context.Context, _ string) (domain.Payment, error) {
		return domain.Payment{ID: "pay_1", OrderID: "ord_1", Status: domain.PaymentStatusCaptured}, nil
	}
	order := testOrder()
	order.Metadata = map[string]any{
		"disputes": []any{map[string]any{"id": "dp_1"}},
	}
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return order, nil }
	f.orders.updateMetadataFn = func(_ context.Context, _ string, _ map[string]any, _ time.Time) error {
		t.Fatal("metadata must not be rewritten for a repeated dispute")
		return nil
	}

	if err := f.service.RecordDispute(context.Background(), RecordDisputeCommand{
		ChargeID:  "pi_1",
		DisputeID: "dp_1",
	}); err != nil {
		t.Fatalf("RecordDispute: %v", err)
	}
	if len(f.auditRepo.entries) != 0 {
		t.Fatalf("no audit expected, got %v", f.auditRepo.actions())
	}
}

func TestRecordDisputeAppendsMetadataAndAudit(t *testing.T) {
	f := newServiceFixture(t)

	f.payments.findByChargeFn = func(_ context.Context, _ string) (domain.Payment, error) {
		return domain.Payment{ID: "pay_1", OrderID: "ord_1", Status: domain.PaymentStatusCaptured}, nil
	}
	f.orders.findFn = func(_ context.Context, _ string) (domain.Order, error) { return testOrder(), nil }

	var metadata map[string]any
	f.orders.updateMetadataFn = func(_ context.Context, _ string, m map[string]any, _ time.Time) error {
		metadata = m
		return nil
	}

	if err := f.service.RecordDispute(context.Background(), RecordDisputeCommand{
		ChargeID:    "pi_1",
		DisputeID:   "dp_9",
		AmountCents: 5000,
		Currency:    "USD",
	}); err != nil {
		t.Fatalf("RecordDispute: %v", err)
	}

	disputes, _ := metadata["disputes"].([]any)
	if len(disputes) != 1 {
		t.Fatalf("expected one dispute, got %v", metadata)
	}
	if got := f.auditRepo.actions(); len(got) != 1 || got[0] != "dispute_recorded" {
		t.Fatalf("unexpected audit actions: %v", got)
	}
}

func TestQuoteRatesPassThrough(t *testing.T) {
	f := newServiceFixture(t)

	f.shippingProv.quoteFn = func(_ context.Context, req shipping.RateRequest) ([]shipping.Rate, error) {
		return []shipping.Rate{{Carrier: "acme", ServiceLevel: "standard", AmountCents: 899, Currency: "USD"}}, nil
	}

	rates, err := f.service.QuoteRates(context.Background(), QuoteRatesCommand{
		Parcels: []shipping.Parcel{{SKU: "MUG-1", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("QuoteRates: %v", err)
	}
	if len(rates) != 1 || rates[0].ServiceLevel != "standard" {
		t.Fatalf("unexpected rates: %+v", rates)
	}
	if len(f.auditRepo.entries) != 0 {
		t.Fatal("quote must not write audit rows")
	}
}

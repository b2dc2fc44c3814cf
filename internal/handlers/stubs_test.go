package handlers

import (
	"context"

	"github.com/lumenshop/orders-api/internal/domain"
	"github.com/lumenshop/orders-api/internal/payments"
	"github.com/lumenshop/orders-api/internal/repositories"
	"github.com/lumenshop/orders-api/internal/services"
	"github.com/lumenshop/orders-api/internal/shipping"
)

type stubOrderService struct {
	ingestOrderFn            func(ctx context.Context, cmd services.IngestOrderCommand) (domain.Order, error)
	getOrderFn               func(ctx context.Context, orderID string) (domain.Order, error)
	listOrdersFn             func(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error)
	capturePaymentFn         func(ctx context.Context, cmd services.CapturePaymentCommand) (domain.Payment, error)
	confirmPaymentCapturedFn func(ctx context.Context, cmd services.ConfirmPaymentCapturedCommand) error
	markPaymentFailedFn      func(ctx context.Context, cmd services.MarkPaymentFailedCommand) error
	recordDisputeFn          func(ctx context.Context, cmd services.RecordDisputeCommand) error
	processRefundFn          func(ctx context.Context, cmd services.ProcessRefundCommand) (domain.Refund, error)
	createFulfillmentFn      func(ctx context.Context, cmd services.CreateFulfillmentCommand) (domain.Shipment, error)
	updateTrackingFn         func(ctx context.Context, cmd services.TrackingUpdateCommand) (domain.Shipment, error)
	findByTrackingFn         func(ctx context.Context, trackingNumber string) (domain.Shipment, error)
	quoteRatesFn             func(ctx context.Context, cmd services.QuoteRatesCommand) ([]shipping.Rate, error)
}

func (s *stubOrderService) IngestOrder(ctx context.Context, cmd services.IngestOrderCommand) (domain.Order, error) {
	return s.ingestOrderFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.getOrderFn(ctx, orderID)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	return s.listOrdersFn(ctx, filter)
}

func (s *stubOrderService) CapturePayment(ctx context.Context, cmd services.CapturePaymentCommand) (domain.Payment, error) {
	return s.capturePaymentFn(ctx, cmd)
}

func (s *stubOrderService) ConfirmPaymentCaptured(ctx context.Context, cmd services.ConfirmPaymentCapturedCommand) error {
	return s.confirmPaymentCapturedFn(ctx, cmd)
}

func (s *stubOrderService) MarkPaymentFailed(ctx context.Context, cmd services.MarkPaymentFailedCommand) error {
	return s.markPaymentFailedFn(ctx, cmd)
}

func (s *stubOrderService) RecordDispute(ctx context.Context, cmd services.RecordDisputeCommand) error {
	return s.recordDisputeFn(ctx, cmd)
}

func (s *stubOrderService) ProcessRefund(ctx context.Context, cmd services.ProcessRefundCommand) (domain.Refund, error) {
	return s.processRefundFn(ctx, cmd)
}

func (s *stubOrderService) CreateFulfillment(ctx context.Context, cmd services.CreateFulfillmentCommand) (domain.Shipment, error) {
	return s.createFulfillmentFn(ctx, cmd)
}

func (s *stubOrderService) UpdateShipmentTracking(ctx context.Context, cmd services.TrackingUpdateCommand) (domain.Shipment, error) {
	return s.updateTrackingFn(ctx, cmd)
}

func (s *stubOrderService) FindShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Shipment, error) {
	return s.findByTrackingFn(ctx, trackingNumber)
}

func (s *stubOrderService) QuoteRates(ctx context.Context, cmd services.QuoteRatesCommand) ([]shipping.Rate, error) {
	return s.quoteRatesFn(ctx, cmd)
}

type stubAuditService struct {
	recordFn func(ctx context.Context, cmd services.AuditRecordCommand) (domain.AuditLogEntry, error)
	listFn   func(ctx context.Context, orderID string, filter repositories.AuditLogFilter) ([]domain.AuditLogEntry, error)
}

func (s *stubAuditService) Record(ctx context.Context, cmd services.AuditRecordCommand) (domain.AuditLogEntry, error) {
	return s.recordFn(ctx, cmd)
}

func (s *stubAuditService) List(ctx context.Context, orderID string, filter repositories.AuditLogFilter) ([]domain.AuditLogEntry, error) {
	return s.listFn(ctx, orderID, filter)
}

type stubWebhookProvider struct {
	capturefn     func(ctx context.Context, req payments.CaptureRequest) (payments.ChargeDetails, error)
	refundFn      func(ctx context.Context, req payments.RefundRequest) (payments.ChargeDetails, error)
	lookupFn      func(ctx context.Context, chargeID string) (payments.ChargeDetails, error)
	verifyWebhook func(payload []byte, signature string) (payments.WebhookEvent, error)
}

func (s *stubWebhookProvider) Capture(ctx context.Context, req payments.CaptureRequest) (payments.ChargeDetails, error) {
	return s.capturefn(ctx, req)
}

func (s *stubWebhookProvider) Refund(ctx context.Context, req payments.RefundRequest) (payments.ChargeDetails, error) {
	return s.refundFn(ctx, req)
}

func (s *stubWebhookProvider) LookupCharge(ctx context.Context, chargeID string) (payments.ChargeDetails, error) {
	return s.lookupFn(ctx, chargeID)
}

func (s *stubWebhookProvider) VerifyWebhook(payload []byte, signature string) (payments.WebhookEvent, error) {
	return s.verifyWebhook(payload, signature)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lumenshop/orders-api/internal/repositories"
)

const defaultNotificationQueueSize = 256

var notificationTypes = map[string]bool{
	NotificationPaymentCaptured:    true,
	NotificationRefundProcessed:    true,
	NotificationFulfillmentCreated: true,
	NotificationShipmentDelivered:  true,
}

// NotificationDispatcherDeps bundles collaborators for the dispatcher.
type NotificationDispatcherDeps struct {
	Publisher NotificationPublisher
	Orders    repositories.OrderRepository
	QueueSize int
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
	// OnPublishFailure is invoked with the notification type whenever a
	// publish attempt fails. Used for counters.
	OnPublishFailure func(notificationType string)
}

// NotificationDispatcher decouples transactional mutations from message
// delivery: callers enqueue after commit, a single worker publishes. Delivery
// failures are logged and counted, never surfaced to the mutating request.
type NotificationDispatcher struct {
	publisher NotificationPublisher
	orders    repositories.OrderRepository
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	onFailure func(string)

	queue chan Notification

	closeOnce sync.Once
	done      chan struct{}
}

// NewNotificationDispatcher constructs the dispatcher. Run must be called for
// queued notifications to be delivered.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (*NotificationDispatcher, error) {
	if deps.Publisher == nil {
		return nil, errors.New("notification dispatcher: publisher is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("notification dispatcher: order repository is required")
	}

	size := deps.QueueSize
	if size <= 0 {
		size = defaultNotificationQueueSize
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	onFailure := deps.OnPublishFailure
	if onFailure == nil {
		onFailure = func(string) {}
	}

	return &NotificationDispatcher{
		publisher: deps.Publisher,
		orders:    deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:    logger,
		onFailure: onFailure,
		queue:     make(chan Notification, size),
		done:      make(chan struct{}),
	}, nil
}

// Enqueue implements NotificationEnqueuer. It never blocks; when the queue is
// full the notification is dropped and the drop is logged.
func (d *NotificationDispatcher) Enqueue(notification Notification) {
	select {
	case d.queue <- notification:
	default:
		d.onFailure(notification.Type)
		d.logger(context.Background(), "notifications.queue.full", map[string]any{
			"type":    notification.Type,
			"orderId": notification.OrderID,
		})
	}
}

// Run drains the queue until Close is called. Call it from its own goroutine.
func (d *NotificationDispatcher) Run() {
	defer close(d.done)
	for notification := range d.queue {
		d.deliver(notification)
	}
}

// Close stops intake and waits for in-flight deliveries to finish.
func (d *NotificationDispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	<-d.done
}

// Resend re-enqueues a previously sent notification type for an order.
func (d *NotificationDispatcher) Resend(ctx context.Context, orderID, notificationType string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrNotificationInvalidInput)
	}
	notificationType = strings.TrimSpace(notificationType)
	if !notificationTypes[notificationType] {
		return fmt.Errorf("%w: unknown notification type %q", ErrNotificationInvalidInput, notificationType)
	}

	order, err := d.orders.FindByID(ctx, orderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		}
		return err
	}

	email := orderEmail(order)
	if email == "" && order.CustomerID == nil {
		return fmt.Errorf("%w: order %s has no notification recipient", ErrNotificationInvalidInput, orderID)
	}

	d.Enqueue(Notification{
		Type:        notificationType,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Email:       email,
		OccurredAt:  d.clock(),
		Payload:     map[string]any{"resend": true},
	})
	return nil
}

func (d *NotificationDispatcher) deliver(notification Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.publisher.PublishNotification(ctx, notification); err != nil {
		d.onFailure(notification.Type)
		d.logger(ctx, "notifications.publish.failed", map[string]any{
			"type":    notification.Type,
			"orderId": notification.OrderID,
			"error":   err.Error(),
		})
		return
	}
	d.logger(ctx, "notifications.published", map[string]any{
		"type":    notification.Type,
		"orderId": notification.OrderID,
	})
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lumenshop/orders-api/internal/services"
)

// amqpChannel is the subset of *amqp.Channel the publisher needs.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitNotificationPublisher publishes order notifications to a RabbitMQ
// topic exchange, routed by notification type.
type RabbitNotificationPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	marshal  func(any) ([]byte, error)
}

// NewRabbitNotificationPublisher dials the broker and declares the exchange.
func NewRabbitNotificationPublisher(url, exchange string) (*RabbitNotificationPublisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("rabbit notification publisher: url is required")
	}
	if strings.TrimSpace(exchange) == "" {
		return nil, errors.New("rabbit notification publisher: exchange is required")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit notification publisher: dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbit notification publisher: open channel: %w", err)
	}

	publisher, err := newRabbitNotificationPublisher(channel, exchange)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}
	publisher.conn = conn
	return publisher, nil
}

func newRabbitNotificationPublisher(channel amqpChannel, exchange string) (*RabbitNotificationPublisher, error) {
	if err := channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("rabbit notification publisher: declare exchange: %w", err)
	}

	return &RabbitNotificationPublisher{
		channel:  channel,
		exchange: exchange,
		marshal:  json.Marshal,
	}, nil
}

// PublishNotification implements services.NotificationPublisher.
func (p *RabbitNotificationPublisher) PublishNotification(ctx context.Context, notification services.Notification) (err error) {
	if p == nil || p.channel == nil {
		return errors.New("rabbit notification publisher: not initialised")
	}

	body, err := p.marshal(map[string]any{
		"type":        notification.Type,
		"orderId":     notification.OrderID,
		"orderNumber": notification.OrderNumber,
		"email":       notification.Email,
		"occurredAt":  notification.OccurredAt,
		"payload":     notification.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := p.channel.PublishWithContext(ctx,
		p.exchange,
		"notifications."+notification.Type,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    notification.OccurredAt,
			Body:         body,
		},
	); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *RabbitNotificationPublisher) Close() error {
	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

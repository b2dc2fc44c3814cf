package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orders_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	orderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_api_order_operations_total",
			Help: "Total number of order lifecycle operations",
		},
		[]string{"operation", "status"},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_api_webhook_events_total",
			Help: "Webhook deliveries by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	notificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_api_notification_failures_total",
			Help: "Notification tasks that could not be published",
		},
	)
)

// RecordOrderOperation counts an order service operation outcome.
func RecordOrderOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	orderOperations.WithLabelValues(operation, status).Inc()
}

// RecordWebhookEvent counts a webhook delivery outcome. Outcome is one of
// applied, duplicate, ignored, rejected.
func RecordWebhookEvent(source, outcome string) {
	webhookEvents.WithLabelValues(source, outcome).Inc()
}

// RecordNotificationFailure counts a dropped or failed notification task.
func RecordNotificationFailure() {
	notificationFailures.Inc()
}

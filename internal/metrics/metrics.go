package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesConsumedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_messages_consumed_total",
			Help: "Total number of messages consumed from the push queue",
		},
	)

	notificationsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_notifications_sent_total",
			Help: "Total number of notifications delivered to FCM",
		},
	)

	notificationsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_notifications_failed_total",
			Help: "Total number of notifications that failed processing",
		},
		[]string{"error_code"},
	)

	dlqMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_dlq_messages_total",
			Help: "Total number of messages published to the DLQ",
		},
		[]string{"reason"},
	)

	idempotencyHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_idempotency_hits_total",
			Help: "Total number of duplicate notifications skipped",
		},
	)

	idempotencyMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_idempotency_misses_total",
			Help: "Total number of new notifications processed",
		},
	)

	processingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "push_message_processing_duration_seconds",
			Help:    "End-to-end processing duration per message",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	inflightMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "push_inflight_messages",
			Help: "Number of messages currently being processed",
		},
	)
)

func RecordMessageConsumed() { messagesConsumedTotal.Inc() }

func RecordNotificationSent() { notificationsSentTotal.Inc() }

func RecordNotificationFailed(code string) {
	notificationsFailedTotal.WithLabelValues(code).Inc()
}

func RecordDLQMessage(reason string) { dlqMessagesTotal.WithLabelValues(reason).Inc() }

func RecordIdempotencyHit() { idempotencyHitsTotal.Inc() }

func RecordIdempotencyMiss() { idempotencyMissesTotal.Inc() }

func RecordProcessingDuration(d time.Duration) {
	processingDuration.Observe(d.Seconds())
}

func IncInflight() { inflightMessages.Inc() }

func DecInflight() { inflightMessages.Dec() }

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

package billing

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ManuelReschke/ForumFox/internal/pkg/metrics"
)

var (
	operationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "billing",
			Name:      "operations_total",
			Help:      "Reconciler operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	prunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "billing",
			Name:      "pruned_records_total",
			Help:      "Duplicate subscription records deleted.",
		},
	)

	processorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "billing",
			Name:      "processor_request_duration_seconds",
			Help:      "Latency of payment processor calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 9), // 50ms to ~13s
		},
		[]string{"call", "outcome"},
	)

	webhookTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Processor webhook deliveries by result.",
		},
		[]string{"event_type", "result"},
	)
)

func init() {
	metrics.MustRegister(operationTotal, prunedTotal, processorDuration, webhookTotal)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNoSubscriptionFound), errors.Is(err, ErrNoActiveSubscription):
		return "not_found"
	case errors.Is(err, ErrSessionIncomplete):
		return "incomplete"
	case IsRetryable(err):
		return "retryable"
	case errors.Is(err, ErrStore):
		return "store_error"
	default:
		return "error"
	}
}

func observeOperation(op string, err error) {
	operationTotal.WithLabelValues(op, outcome(err)).Inc()
}

func observeProcessorCall(call string, start time.Time, err error) {
	processorDuration.WithLabelValues(call, outcome(err)).Observe(time.Since(start).Seconds())
}

// ObserveWebhook counts a webhook delivery.
func ObserveWebhook(eventType, result string) {
	webhookTotal.WithLabelValues(eventType, result).Inc()
}

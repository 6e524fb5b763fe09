package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed The total number of processed messages (counter)
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messages",
			Name:      "processed_total",
			Help:      "The total number of processed messages",
		},
		[]string{"topic", "handler"},
	)

	// MessagesProcessingFailed total number of message processing failures (counter)
	MessagesProcessingFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messages",
			Name:      "processing_failed_total",
			Help:      "The total number of message processing failures",
		},
		[]string{"topic", "handler"},
	)

	// MessagesProcessingDuration The total time spent processing messages (summary with quantiles 0.5, 0.9, and 0.99)
	MessagesProcessingDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace:  "messages",
			Name:       "processing_duration_seconds",
			Help:       "The total time spent processing messages",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"topic", "handler"},
	)

	AuditRecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterclass",
			Name:      "audit_records_emitted_total",
			Help:      "Audit records published, by record type",
		},
		[]string{"type"},
	)

	AuditEmitFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "masterclass",
			Name:      "audit_emit_failures_total",
			Help:      "Audit records that could not be published",
		},
	)

	PaymentWebhooks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterclass",
			Name:      "payment_webhooks_total",
			Help:      "Payment provider webhook events, by result",
		},
		[]string{"result"},
	)

	PaymentProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "masterclass",
			Name:      "payment_provider_duration_seconds",
			Help:      "Latency of payment provider calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterclass",
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by route",
		},
		[]string{"route"},
	)
)

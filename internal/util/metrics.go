package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutSessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_created_total",
		Help: "Total number of checkout sessions opened with the payment provider",
	})

	CheckoutSessionsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_failed_total",
		Help: "Total number of rejected or failed checkout session requests",
	}, []string{"reason"})

	CheckoutProviderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_provider_latency_seconds",
		Help:    "Latency of checkout session creation at the payment provider",
		Buckets: prometheus.DefBuckets,
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of payment webhook deliveries by outcome",
	}, []string{"outcome"})

	WebhookProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_processing_latency_seconds",
		Help:    "Latency of payment webhook processing",
		Buckets: prometheus.DefBuckets,
	})

	TransactionsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transactions_recorded_total",
		Help: "Total number of paid transactions recorded",
	})

	PaymentConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_conflicts_total",
		Help: "Total number of confirmed payments for designs that were already sold",
	})

	LicenseDocumentsGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_documents_generated_total",
		Help: "Total number of license documents generated",
	})

	LicenseDocumentsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_documents_failed_total",
		Help: "Total number of failed license document generations",
	}, []string{"reason"})

	DesignUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "design_uploads_total",
		Help: "Total number of design uploads by outcome",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evp_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	ProviderAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evp_provider_attempts_total",
			Help: "Total outbound provider call attempts",
		},
		[]string{"provider"},
	)

	ProviderRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evp_provider_retries_total",
			Help: "Total outbound provider call retries",
		},
		[]string{"provider"},
	)

	ProviderFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evp_provider_failures_total",
			Help: "Total provider calls that failed after all attempts",
		},
		[]string{"provider", "kind"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evp_webhook_events_total",
			Help: "Total webhook events by type and outcome",
		},
		[]string{"event", "outcome"},
	)

	WebhookSignatureRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evp_webhook_signature_rejections_total",
			Help: "Total webhook requests rejected for a bad signature",
		},
	)

	PaymentTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evp_payment_transitions_total",
			Help: "Total payment status transitions applied",
		},
		[]string{"from", "to"},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evp_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chat outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeProviderErr  = "provider_error"
	OutcomeTimeout      = "timeout"
	OutcomeInvalid      = "invalid"
	OutcomeUnconfigured = "unconfigured"
	OutcomeRateLimited  = "rate_limited"
)

// Provider attempt results.
const (
	AttemptSuccess     = "success"
	AttemptTimeout     = "timeout"
	AttemptNetwork     = "network"
	AttemptUnavailable = "unavailable"
	AttemptRejected    = "rejected"
	AttemptBreakerOpen = "breaker_open"
)

var (
	ChatRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anubhav_chat_requests_total",
			Help: "Chat requests answered, by outcome",
		},
		[]string{"outcome"},
	)

	ChatRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anubhav_chat_request_duration_seconds",
			Help:    "Wall-clock time to answer a chat request",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 12, 15, 20},
		},
		[]string{"outcome"},
	)

	ProviderAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anubhav_provider_attempts_total",
			Help: "generateContent attempts, by model and result",
		},
		[]string{"model", "result"},
	)

	ProviderAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anubhav_provider_attempt_duration_seconds",
			Help:    "Duration of a single generateContent attempt",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 12},
		},
		[]string{"model"},
	)

	DeliveryRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anubhav_delivery_rounds",
			Help:    "Rounds used by a delivery before it returned",
			Buckets: []float64{1, 2, 3},
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "anubhav_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"model"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anubhav_rate_limit_hits_total",
			Help: "Chat requests refused by the rate limiter",
		},
	)

	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anubhav_active_chat_requests",
			Help: "Chat requests currently being served",
		},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anubhav_alerts_total",
			Help: "Operator alerts, by type and whether they were published or suppressed",
		},
		[]string{"type", "status"},
	)

	QueueMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anubhav_queue_messages_total",
			Help: "Asynchronous chat messages handled by the queue worker",
		},
		[]string{"result"},
	)

	InstanceInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "anubhav_instance_info",
			Help: "Instance information (always 1)",
		},
		[]string{"version", "primary_model"},
	)
)

func RecordChat(outcome string, durationSec float64) {
	ChatRequestsTotal.WithLabelValues(outcome).Inc()
	ChatRequestDuration.WithLabelValues(outcome).Observe(durationSec)
}

func RecordAttempt(model, result string, durationSec float64) {
	ProviderAttemptsTotal.WithLabelValues(model, result).Inc()
	ProviderAttemptDuration.WithLabelValues(model).Observe(durationSec)
}

func RecordRounds(rounds int) {
	DeliveryRounds.Observe(float64(rounds))
}

func RecordRateLimitHit() {
	RateLimitHits.Inc()
}

func RecordAlert(alertType, status string) {
	AlertsTotal.WithLabelValues(alertType, status).Inc()
}

func RecordQueueMessage(result string) {
	QueueMessagesTotal.WithLabelValues(result).Inc()
}

func SetCircuitBreakerState(model string, state int) {
	CircuitBreakerState.WithLabelValues(model).Set(float64(state))
}

func InitInstanceMetrics(version, primaryModel string) {
	InstanceInfo.WithLabelValues(version, primaryModel).Set(1)
}

func IncrementActiveRequests() {
	ActiveRequests.Inc()
}

func DecrementActiveRequests() {
	ActiveRequests.Dec()
}

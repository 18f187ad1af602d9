package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the checkout server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Checkout session metrics
	SessionsTotal        *prometheus.CounterVec
	CompletionsTotal     *prometheus.CounterVec
	OrderAmountTotal     *prometheus.CounterVec
	OperationDuration    *prometheus.HistogramVec
	ChargeDuration       *prometheus.HistogramVec
	SessionsExpiredTotal prometheus.Counter

	// Vault metrics
	TokensIssuedTotal  prometheus.Counter
	TokenConsumeTotal  *prometheus.CounterVec
	TokensCleanedTotal prometheus.Counter

	// Idempotency metrics
	IdempotencyOutcomesTotal *prometheus.CounterVec

	// Webhook metrics
	WebhooksTotal       *prometheus.CounterVec
	WebhookRetriesTotal *prometheus.CounterVec
	WebhookDLQTotal     *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec
	WebhookQueueDepth   prometheus.Gauge

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_sessions_total",
				Help: "Checkout session operations by resulting status",
			},
			[]string{"operation", "status"},
		),
		CompletionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_completions_total",
				Help: "Completion attempts by result and payment reference kind",
			},
			[]string{"result", "payment"},
		),
		OrderAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_order_amount_total",
				Help: "Sum of completed order totals in minor units",
			},
			[]string{"currency"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_operation_duration_seconds",
				Help:    "Checkout operation latency",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		ChargeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_charge_duration_seconds",
				Help:    "Payment processor charge latency",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"processor", "result"},
		),
		SessionsExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "checkout_sessions_expired_total",
				Help: "Sessions canceled on access after their expiry",
			},
		),

		TokensIssuedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vault_tokens_issued_total",
				Help: "Delegated payment tokens issued",
			},
		),
		TokenConsumeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_consume_total",
				Help: "Delegated token validate-and-consume attempts by result",
			},
			[]string{"result"},
		),
		TokensCleanedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vault_tokens_cleaned_total",
				Help: "Expired delegated tokens removed by the sweeper",
			},
		),

		IdempotencyOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idempotency_outcomes_total",
				Help: "Idempotency guard observations by scope and outcome",
			},
			[]string{"scope", "outcome"},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhooks_total",
				Help: "Webhook deliveries by event type and status",
			},
			[]string{"event_type", "status"},
		),
		WebhookRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_retries_total",
				Help: "Webhook delivery retries by attempt number",
			},
			[]string{"event_type", "attempt"},
		),
		WebhookDLQTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_dlq_total",
				Help: "Webhooks moved to the dead letter queue",
			},
			[]string{"event_type"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_duration_seconds",
				Help:    "Webhook delivery latency including retries",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"event_type"},
		),
		WebhookQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webhook_queue_depth",
				Help: "Events waiting for a delivery worker",
			},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_hits_total",
				Help: "Requests rejected by a rate limiter",
			},
			[]string{"limit_type"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Database query latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveSessionOperation records a session operation and the status it left the session in.
func (m *Metrics) ObserveSessionOperation(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveCompletion records a completion attempt. amount is only counted on success.
func (m *Metrics) ObserveCompletion(result, paymentKind, currency string, amount int64) {
	if m == nil {
		return
	}
	m.CompletionsTotal.WithLabelValues(result, paymentKind).Inc()
	if result == "success" {
		m.OrderAmountTotal.WithLabelValues(currency).Add(float64(amount))
	}
}

// ObserveCharge records a processor charge call.
func (m *Metrics) ObserveCharge(processor string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failed"
	}
	m.ChargeDuration.WithLabelValues(processor, result).Observe(duration.Seconds())
}

// ObserveSessionExpired records a session canceled because its expiry passed.
func (m *Metrics) ObserveSessionExpired() {
	if m == nil {
		return
	}
	m.SessionsExpiredTotal.Inc()
}

// ObserveTokenIssued records a delegated token issuance.
func (m *Metrics) ObserveTokenIssued() {
	if m == nil {
		return
	}
	m.TokensIssuedTotal.Inc()
}

// ObserveTokenConsume records a validate-and-consume result ("success" or an error code).
func (m *Metrics) ObserveTokenConsume(result string) {
	if m == nil {
		return
	}
	m.TokenConsumeTotal.WithLabelValues(result).Inc()
}

// ObserveTokenCleanup records tokens removed by a sweep.
func (m *Metrics) ObserveTokenCleanup(removed int64) {
	if m == nil {
		return
	}
	m.TokensCleanedTotal.Add(float64(removed))
}

// ObserveIdempotency records an idempotency guard outcome (new, replay, conflict, in_progress).
func (m *Metrics) ObserveIdempotency(scope, outcome string) {
	if m == nil {
		return
	}
	m.IdempotencyOutcomesTotal.WithLabelValues(scope, outcome).Inc()
}

// ObserveWebhook records webhook delivery.
func (m *Metrics) ObserveWebhook(eventType, status string, duration time.Duration, attempt int, sentToDLQ bool) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())

	if attempt > 1 {
		m.WebhookRetriesTotal.WithLabelValues(eventType, formatAttempt(attempt)).Inc()
	}

	if sentToDLQ {
		m.WebhookDLQTotal.WithLabelValues(eventType).Inc()
	}
}

// SetWebhookQueueDepth reports the number of queued events.
func (m *Metrics) SetWebhookQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.WebhookQueueDepth.Set(float64(depth))
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return strconv.Itoa(attempt)
	}
	return "5+"
}

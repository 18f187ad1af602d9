package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}
	if m.SessionsTotal == nil {
		t.Error("SessionsTotal should be initialized")
	}
	if m.TokenConsumeTotal == nil {
		t.Error("TokenConsumeTotal should be initialized")
	}
	if m.IdempotencyOutcomesTotal == nil {
		t.Error("IdempotencyOutcomesTotal should be initialized")
	}
	if m.WebhookQueueDepth == nil {
		t.Error("WebhookQueueDepth should be initialized")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	// None of these may panic.
	m.ObserveSessionOperation("create", "ready_for_payment", time.Millisecond)
	m.ObserveCompletion("success", "delegated", "usd", 430)
	m.ObserveTokenConsume("success")
	m.ObserveIdempotency("create", "new")
	m.ObserveWebhook("order_created", "success", time.Second, 1, false)
	m.SetWebhookQueueDepth(3)
	MeasureDBQuery(m, "get_session", "postgres")()
}

func TestObserveCompletion(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCompletion("success", "delegated", "usd", 430)
	m.ObserveCompletion("failed", "direct", "usd", 999)

	if got := promtest.ToFloat64(m.CompletionsTotal.WithLabelValues("success", "delegated")); got != 1 {
		t.Errorf("expected 1 successful completion, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.OrderAmountTotal.WithLabelValues("usd")); got != 430 {
		t.Errorf("expected order amount 430, got %.0f", got)
	}
}

func TestObserveTokenConsume(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveTokenIssued()
	m.ObserveTokenConsume("success")
	m.ObserveTokenConsume("token_already_used")
	m.ObserveTokenConsume("token_already_used")
	m.ObserveTokenCleanup(7)

	if got := promtest.ToFloat64(m.TokensIssuedTotal); got != 1 {
		t.Errorf("expected 1 issued token, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.TokenConsumeTotal.WithLabelValues("token_already_used")); got != 2 {
		t.Errorf("expected 2 already-used results, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.TokensCleanedTotal); got != 7 {
		t.Errorf("expected 7 cleaned tokens, got %.0f", got)
	}
}

func TestObserveWebhook(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveWebhook("order_created", "success", 500*time.Millisecond, 1, false)
	if got := promtest.ToFloat64(m.WebhooksTotal.WithLabelValues("order_created", "success")); got != 1 {
		t.Errorf("expected 1 webhook delivery, got %.0f", got)
	}

	m.ObserveWebhook("order_created", "failed", 2*time.Second, 5, true)
	if got := promtest.ToFloat64(m.WebhookRetriesTotal.WithLabelValues("order_created", "5")); got != 1 {
		t.Errorf("expected 1 webhook retry record, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.WebhookDLQTotal.WithLabelValues("order_created")); got != 1 {
		t.Errorf("expected 1 webhook in DLQ, got %.0f", got)
	}

	m.SetWebhookQueueDepth(12)
	if got := promtest.ToFloat64(m.WebhookQueueDepth); got != 12 {
		t.Errorf("expected queue depth 12, got %.0f", got)
	}
}

func TestObserveIdempotencyAndRateLimit(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveIdempotency("complete", "replay")
	m.ObserveRateLimit("per_key")

	if got := promtest.ToFloat64(m.IdempotencyOutcomesTotal.WithLabelValues("complete", "replay")); got != 1 {
		t.Errorf("expected 1 replay, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("per_key")); got != 1 {
		t.Errorf("expected 1 rate limit hit, got %.0f", got)
	}
}

func TestObserveCharge(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveCharge("stripe", 200*time.Millisecond, errors.New("card_declined"))

	if n := promtest.CollectAndCount(m.ChargeDuration); n != 1 {
		t.Errorf("expected 1 charge histogram series, got %d", n)
	}
}

func TestFormatAttempt(t *testing.T) {
	if got := formatAttempt(3); got != "3" {
		t.Errorf("formatAttempt(3) = %q", got)
	}
	if got := formatAttempt(9); got != "5+" {
		t.Errorf("formatAttempt(9) = %q", got)
	}
}

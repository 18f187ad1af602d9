package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDisabledManagerPassesThrough(t *testing.T) {
	m := NewManager(Config{Enabled: false}, zerolog.Nop())
	calls := 0
	for i := 0; i < 10; i++ {
		m.Execute(ServiceStripe, func() (interface{}, error) {
			calls++
			return nil, errors.New("boom")
		})
	}
	if calls != 10 {
		t.Errorf("calls = %d, want 10", calls)
	}
	if m.State(ServiceStripe) != "disabled" {
		t.Errorf("State() = %s, want disabled", m.State(ServiceStripe))
	}

	var nilManager *Manager
	if _, err := nilManager.Execute(ServiceWebhook, func() (interface{}, error) { return "ok", nil }); err != nil {
		t.Errorf("nil manager Execute() error = %v", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(Config{
		Enabled:   true,
		StripeAPI: BreakerConfig{MaxRequests: 1, Timeout: time.Minute, ConsecutiveFailures: 3},
		Webhook:   BreakerConfig{MaxRequests: 1, Timeout: time.Minute, ConsecutiveFailures: 3},
	}, zerolog.Nop())

	fail := func() (interface{}, error) { return nil, errors.New("processor down") }
	for i := 0; i < 3; i++ {
		m.Execute(ServiceStripe, fail)
	}

	_, err := m.Execute(ServiceStripe, func() (interface{}, error) { return "ok", nil })
	if !IsOpen(err) {
		t.Fatalf("Execute() error = %v, want open breaker", err)
	}
	if m.State(ServiceStripe) != "open" {
		t.Errorf("State() = %s, want open", m.State(ServiceStripe))
	}

	// Webhook breaker is isolated.
	if _, err := m.Execute(ServiceWebhook, func() (interface{}, error) { return "ok", nil }); err != nil {
		t.Errorf("webhook breaker affected by stripe failures: %v", err)
	}
}

package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	stripeapi "github.com/stripe/stripe-go/v72"

	"github.com/CedrosPay/checkout/internal/checkout"
	"github.com/CedrosPay/checkout/internal/circuitbreaker"
	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/vault"
)

func TestMockTokenizeDeterministic(t *testing.T) {
	p := NewMockProcessor()
	ctx := context.Background()
	card := vault.Card{Number: "4242424242424242", ExpMonth: "12", ExpYear: "2030"}

	a, err := p.Tokenize(ctx, card)
	if err != nil {
		t.Fatalf("Tokenize() error = %v", err)
	}
	b, _ := p.Tokenize(ctx, card)
	if a.Ref != b.Ref {
		t.Errorf("refs differ: %s vs %s", a.Ref, b.Ref)
	}
	if a.Brand != "visa" || a.Last4 != "4242" || a.Funding != "credit" {
		t.Errorf("credential = %+v", a)
	}
	other, _ := p.Tokenize(ctx, vault.Card{Number: "5555555555554444"})
	if other.Ref == a.Ref || other.Brand != "mastercard" {
		t.Errorf("second card = %+v", other)
	}
	if _, err := p.Tokenize(ctx, vault.Card{Number: "42"}); !errors.Is(err, ErrDeclined) {
		t.Errorf("short card error = %v", err)
	}
}

func TestMockChargeIdempotentAndDeclines(t *testing.T) {
	p := NewMockProcessor()
	ctx := context.Background()

	good, _ := p.Tokenize(ctx, vault.Card{Number: "4242424242424242"})
	req := checkout.ChargeRequest{CredentialRef: good.Ref, Amount: 430, Currency: "usd", SessionID: "cs_1", IdempotencyKey: "complete_vt_1"}
	first, err := p.Charge(ctx, req)
	if err != nil {
		t.Fatalf("Charge() error = %v", err)
	}
	again, _ := p.Charge(ctx, req)
	if first != again || first.Processor != "mock" {
		t.Errorf("replayed charge = %+v, want %+v", again, first)
	}

	bad, _ := p.Tokenize(ctx, vault.Card{Number: "4000000000000002"})
	if _, err := p.Charge(ctx, checkout.ChargeRequest{CredentialRef: bad.Ref, Amount: 430, Currency: "usd"}); !errors.Is(err, ErrDeclined) {
		t.Errorf("decline card error = %v", err)
	}
	if _, err := p.Charge(ctx, checkout.ChargeRequest{CredentialRef: DeclinedCredential, Amount: 1, Currency: "usd"}); !errors.Is(err, ErrDeclined) {
		t.Errorf("declined credential error = %v", err)
	}
	if n := len(p.Requests()); n != 4 {
		t.Errorf("requests = %d, want 4", n)
	}
}

func TestNewSelectsProcessor(t *testing.T) {
	mock, err := New(config.PaymentsConfig{Processor: "mock"}, nil, nil)
	if err != nil || mock.Name() != "mock" {
		t.Fatalf("New(mock) = %v, %v", mock, err)
	}
	if _, err := New(config.PaymentsConfig{Processor: "stripe"}, nil, nil); err == nil {
		t.Error("New(stripe) without key error = nil")
	}
	if _, err := New(config.PaymentsConfig{Processor: "paypal"}, nil, nil); err == nil {
		t.Error("New(paypal) error = nil")
	}
}

// useStripeBackend points stripe-go at handler for the duration of the test.
func useStripeBackend(t *testing.T, handler http.Handler) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
		URL:               stripeapi.String(srv.URL),
		MaxNetworkRetries: stripeapi.Int64(0),
	})
	stripeapi.SetBackend(stripeapi.APIBackend, backend)
	t.Cleanup(func() { stripeapi.SetBackend(stripeapi.APIBackend, nil) })
}

func TestStripeTokenizeAndCharge(t *testing.T) {
	var idemKey, amount, confirm, cardNumber atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payment_methods", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		cardNumber.Store(r.PostForm.Get("card[number]"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pm_123","object":"payment_method","type":"card","card":{"brand":"visa","last4":"4242","funding":"debit"}}`))
	})
	mux.HandleFunc("/v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		idemKey.Store(r.Header.Get("Idempotency-Key"))
		amount.Store(r.PostForm.Get("amount"))
		confirm.Store(r.PostForm.Get("confirm"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","status":"succeeded","amount":430,"currency":"usd"}`))
	})
	useStripeBackend(t, mux)

	p := NewStripeProcessor(config.StripeConfig{SecretKey: "sk_test_123"}, nil, nil)
	ctx := context.Background()

	cred, err := p.Tokenize(ctx, vault.Card{Number: "4242424242424242", ExpMonth: "12", ExpYear: "2030", CVC: "123"})
	if err != nil {
		t.Fatalf("Tokenize() error = %v", err)
	}
	if cred.Ref != "pm_123" || cred.Brand != "visa" || cred.Last4 != "4242" || cred.Funding != "debit" {
		t.Errorf("credential = %+v", cred)
	}
	if got := cardNumber.Load(); got != "4242424242424242" {
		t.Errorf("card[number] = %v", got)
	}

	result, err := p.Charge(ctx, checkout.ChargeRequest{
		CredentialRef: "pm_123", Amount: 430, Currency: "USD", SessionID: "cs_1", IdempotencyKey: "complete_vt_abc",
	})
	if err != nil {
		t.Fatalf("Charge() error = %v", err)
	}
	if result.ID != "pi_123" || result.Processor != "stripe" {
		t.Errorf("result = %+v", result)
	}
	if idemKey.Load() != "complete_vt_abc" || amount.Load() != "430" || confirm.Load() != "true" {
		t.Errorf("request idempotency=%v amount=%v confirm=%v", idemKey.Load(), amount.Load(), confirm.Load())
	}
}

func TestStripeChargeOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantDecline bool
	}{
		{"card declined", http.StatusPaymentRequired, `{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`, true},
		{"requires action", http.StatusOK, `{"id":"pi_1","object":"payment_intent","status":"requires_action"}`, true},
		{"api error", http.StatusInternalServerError, `{"error":{"type":"api_error","message":"boom"}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useStripeBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			p := NewStripeProcessor(config.StripeConfig{SecretKey: "sk_test_123"}, nil, nil)
			_, err := p.Charge(context.Background(), checkout.ChargeRequest{CredentialRef: "pm_1", Amount: 100, Currency: "usd"})
			if err == nil {
				t.Fatal("Charge() error = nil")
			}
			if got := errors.Is(err, ErrDeclined); got != tt.wantDecline {
				t.Errorf("declined = %v, want %v (err %v)", got, tt.wantDecline, err)
			}
		})
	}
}

func TestStripeBreakerOpensOnServerErrorsNotDeclines(t *testing.T) {
	var calls atomic.Int32
	var decline atomic.Bool
	useStripeBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if decline.Load() {
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"declined"}}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
	}))

	breaker := circuitbreaker.NewManager(circuitbreaker.Config{
		Enabled:   true,
		StripeAPI: circuitbreaker.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 2},
	}, zerolog.Nop())
	p := NewStripeProcessor(config.StripeConfig{SecretKey: "sk_test_123"}, breaker, nil)
	req := checkout.ChargeRequest{CredentialRef: "pm_1", Amount: 100, Currency: "usd"}
	ctx := context.Background()

	decline.Store(true)
	for i := 0; i < 3; i++ {
		if _, err := p.Charge(ctx, req); !errors.Is(err, ErrDeclined) {
			t.Fatalf("decline %d error = %v", i, err)
		}
	}
	if state := breaker.State(circuitbreaker.ServiceStripe); state != "closed" {
		t.Fatalf("state after declines = %s, want closed", state)
	}

	decline.Store(false)
	for i := 0; i < 2; i++ {
		_, _ = p.Charge(ctx, req)
	}
	before := calls.Load()
	_, err := p.Charge(ctx, req)
	if !circuitbreaker.IsOpen(err) {
		t.Fatalf("Charge() error = %v, want open breaker", err)
	}
	if calls.Load() != before {
		t.Error("open breaker still reached Stripe")
	}
}

package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CedrosPay/checkout/internal/apikey"
	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func request(remote, bearer string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/checkout_sessions", nil)
	req.RemoteAddr = remote
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.GlobalEnabled || cfg.GlobalLimit != 1000 {
		t.Errorf("global = %v/%d", cfg.GlobalEnabled, cfg.GlobalLimit)
	}
	if !cfg.PerKeyEnabled || cfg.PerKeyLimit != 120 {
		t.Errorf("per key = %v/%d", cfg.PerKeyEnabled, cfg.PerKeyLimit)
	}
	if !cfg.PerIPEnabled {
		t.Error("per IP disabled by default")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RateLimitConfig{
		GlobalEnabled: true,
		GlobalLimit:   5,
		GlobalWindow:  config.Duration{Duration: time.Second},
		PerKeyEnabled: true,
		PerKeyLimit:   2,
		PerKeyWindow:  config.Duration{Duration: time.Minute},
	}, nil)
	if cfg.GlobalLimit != 5 || cfg.GlobalWindow != time.Second || cfg.PerKeyLimit != 2 || cfg.PerIPEnabled {
		t.Errorf("FromConfig() = %+v", cfg)
	}
}

func TestDisabledLimitersPassThrough(t *testing.T) {
	h := GlobalLimiter(Config{})(KeyLimiter(Config{})(IPLimiter(Config{})(okHandler)))
	for i := 0; i < 50; i++ {
		if rec := do(h, request("10.0.0.1:1234", "")); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
}

func TestGlobalLimiterRejectsWithErrorBody(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := GlobalLimiter(Config{GlobalEnabled: true, GlobalLimit: 2, GlobalWindow: time.Minute, Metrics: m})(okHandler)

	for i := 0; i < 2; i++ {
		if rec := do(h, request("10.0.0.1:1", "")); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := do(h, request("10.0.0.2:1", ""))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "rate_limit_exceeded" || body["type"] != "invalid_request" {
		t.Errorf("body = %v", body)
	}
	if got := testutil.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("global")); got != 1 {
		t.Errorf("rate limit hits = %v, want 1", got)
	}
}

func TestKeyLimiterSeparatesKeys(t *testing.T) {
	cfg := Config{PerKeyEnabled: true, PerKeyLimit: 1, PerKeyWindow: time.Minute}
	auth := apikey.Middleware(apikey.Config{})
	h := auth(KeyLimiter(cfg)(okHandler))

	if rec := do(h, request("10.0.0.1:1", "agent_a")); rec.Code != http.StatusOK {
		t.Fatalf("first key a: %d", rec.Code)
	}
	if rec := do(h, request("10.0.0.1:1", "agent_b")); rec.Code != http.StatusOK {
		t.Fatalf("first key b: %d", rec.Code)
	}
	if rec := do(h, request("10.0.0.9:1", "agent_a")); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second key a from another IP: %d, want 429", rec.Code)
	}
}

func TestExemptTiersBypassLimits(t *testing.T) {
	keys := apikey.Config{Enabled: true, APIKeys: map[string]apikey.Tier{
		"free":    apikey.TierFree,
		"ent":     apikey.TierEnterprise,
		"partner": apikey.TierPartner,
	}}
	cfg := Config{
		GlobalEnabled: true, GlobalLimit: 1, GlobalWindow: time.Minute,
		PerIPEnabled: true, PerIPLimit: 1, PerIPWindow: time.Minute,
	}

	t.Run("enterprise skips per IP", func(t *testing.T) {
		h := apikey.Middleware(keys)(IPLimiter(cfg)(okHandler))
		for i := 0; i < 5; i++ {
			if rec := do(h, request("10.0.0.1:1", "ent")); rec.Code != http.StatusOK {
				t.Fatalf("request %d: %d", i, rec.Code)
			}
		}
	})

	t.Run("free is limited per IP", func(t *testing.T) {
		h := apikey.Middleware(keys)(IPLimiter(cfg)(okHandler))
		do(h, request("10.0.0.2:1", "free"))
		if rec := do(h, request("10.0.0.2:1", "free")); rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429", rec.Code)
		}
	})

	t.Run("partner skips global", func(t *testing.T) {
		h := apikey.Middleware(keys)(GlobalLimiter(cfg)(okHandler))
		for i := 0; i < 5; i++ {
			if rec := do(h, request("10.0.0.3:1", "partner")); rec.Code != http.StatusOK {
				t.Fatalf("request %d: %d", i, rec.Code)
			}
		}
	})
}

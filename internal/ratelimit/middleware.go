package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/CedrosPay/checkout/internal/apikey"
	"github.com/CedrosPay/checkout/internal/config"
	apierrors "github.com/CedrosPay/checkout/internal/errors"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/go-chi/httprate"
)

// Config holds rate limiting configuration.
type Config struct {
	// Global rate limiting (across all callers)
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	// Per-API-key rate limiting (identified by the bearer key)
	PerKeyEnabled bool
	PerKeyLimit   int
	PerKeyWindow  time.Duration

	// Per-IP rate limiting
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	// Metrics collector (optional)
	Metrics *metrics.Metrics
}

// DefaultConfig returns generous limits that stop runaway agents without
// getting in the way of a normal checkout flow.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  time.Minute,

		PerKeyEnabled: true,
		PerKeyLimit:   120,
		PerKeyWindow:  time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   120,
		PerIPWindow:  time.Minute,
	}
}

// FromConfig converts the rate_limit section of the server config.
func FromConfig(cfg config.RateLimitConfig, m *metrics.Metrics) Config {
	return Config{
		GlobalEnabled: cfg.GlobalEnabled,
		GlobalLimit:   cfg.GlobalLimit,
		GlobalWindow:  cfg.GlobalWindow.Duration,
		PerKeyEnabled: cfg.PerKeyEnabled,
		PerKeyLimit:   cfg.PerKeyLimit,
		PerKeyWindow:  cfg.PerKeyWindow.Duration,
		PerIPEnabled:  cfg.PerIPEnabled,
		PerIPLimit:    cfg.PerIPLimit,
		PerIPWindow:   cfg.PerIPWindow.Duration,
		Metrics:       m,
	}
}

func limitHandler(limitType string, window time.Duration, m *metrics.Metrics) http.HandlerFunc {
	retryAfter := int(window.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	message := "Rate limit exceeded. Please try again later."
	if limitType == "global" {
		message = "Global rate limit exceeded. Please try again later."
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.ObserveRateLimit(limitType)
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		apierrors.WriteSimpleError(w, apierrors.ErrCodeRateLimitExceeded, message)
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// exempt skips limiter for requests matching bypass.
func exempt(limiter func(http.Handler) http.Handler, bypass func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// GlobalLimiter creates a global rate limiter middleware. Partner keys bypass it.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled || cfg.GlobalLimit <= 0 {
		return passthrough
	}
	limiter := httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithKeyFuncs(func(*http.Request) (string, error) { return "global", nil }),
		httprate.WithLimitHandler(limitHandler("global", cfg.GlobalWindow, cfg.Metrics)),
	)
	return exempt(limiter, apikey.ShouldBypassGlobalLimit)
}

// KeyLimiter limits per API key. Requests without a key are counted by IP.
// Must run after apikey.Middleware.
func KeyLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerKeyEnabled || cfg.PerKeyLimit <= 0 {
		return passthrough
	}
	limiter := httprate.Limit(
		cfg.PerKeyLimit,
		cfg.PerKeyWindow,
		httprate.WithKeyFuncs(keyOrIP),
		httprate.WithLimitHandler(limitHandler("per_key", cfg.PerKeyWindow, cfg.Metrics)),
	)
	return exempt(limiter, apikey.IsExemptFromRateLimits)
}

// IPLimiter creates a per-IP rate limiter middleware.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled || cfg.PerIPLimit <= 0 {
		return passthrough
	}
	limiter := httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler("per_ip", cfg.PerIPWindow, cfg.Metrics)),
	)
	return exempt(limiter, apikey.IsExemptFromRateLimits)
}

func keyOrIP(r *http.Request) (string, error) {
	if id := apikey.Identity(r); id != "" {
		return id, nil
	}
	return httprate.KeyByIP(r)
}

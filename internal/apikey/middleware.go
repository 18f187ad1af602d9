package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/CedrosPay/checkout/internal/config"
	apierrors "github.com/CedrosPay/checkout/internal/errors"
)

// Tier represents the API key tier level.
type Tier string

const (
	TierFree       Tier = "free"       // Default tier with standard rate limits
	TierPro        Tier = "pro"        // Pro tier with higher limits
	TierEnterprise Tier = "enterprise" // Enterprise tier, exempt from per-key and per-IP limits
	TierPartner    Tier = "partner"    // Trusted agent platform, exempt from all limits
)

type contextKey string

const (
	contextKeyTier  contextKey = "api_key_tier"
	contextKeyIdent contextKey = "api_key_ident"
)

// Config holds API key configuration.
type Config struct {
	// APIKeys maps bearer key to tier.
	APIKeys map[string]Tier

	// Enabled rejects requests without a known bearer key.
	Enabled bool
}

// FromConfig converts the auth section of the server config.
func FromConfig(cfg config.AuthConfig) Config {
	keys := make(map[string]Tier, len(cfg.APIKeys))
	for key, tier := range cfg.APIKeys {
		t := Tier(strings.ToLower(strings.TrimSpace(tier)))
		if t == "" {
			t = TierFree
		}
		keys[key] = t
	}
	return Config{APIKeys: keys, Enabled: cfg.Enabled}
}

// Middleware authenticates "Authorization: Bearer <key>" and stores the
// key's tier and a stable identity in the request context. When disabled,
// every request is free tier and any presented key is still used as the
// rate limiting identity.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := bearerToken(r)
			tier := TierFree

			if cfg.Enabled {
				matched, ok := lookup(cfg.APIKeys, key)
				if !ok {
					w.Header().Set("WWW-Authenticate", `Bearer realm="checkout"`)
					apierrors.WriteError(w, apierrors.ErrCodeUnauthorized, "missing or invalid API key", "Authorization")
					return
				}
				tier = matched
			}

			ctx := context.WithValue(r.Context(), contextKeyTier, tier)
			if key != "" {
				ctx = context.WithValue(ctx, contextKeyIdent, identity(key))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// lookup compares in constant time against every configured key.
func lookup(keys map[string]Tier, presented string) (Tier, bool) {
	if presented == "" {
		return "", false
	}
	var (
		found Tier
		ok    bool
	)
	for key, tier := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
			found, ok = tier, true
		}
	}
	return found, ok
}

// identity is a short digest so raw keys never reach limiter maps or logs.
func identity(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "key_" + hex.EncodeToString(sum[:8])
}

// GetTier extracts the API key tier from request context.
// Returns TierFree if no tier is set (default).
func GetTier(r *http.Request) Tier {
	if tier, ok := r.Context().Value(contextKeyTier).(Tier); ok {
		return tier
	}
	return TierFree
}

// Identity returns the hashed identity of the presented key, or "".
func Identity(r *http.Request) string {
	id, _ := r.Context().Value(contextKeyIdent).(string)
	return id
}

// IsExemptFromRateLimits returns true if the request's API key tier is exempt from rate limits.
// Enterprise and Partner tiers are exempt from per-key and per-IP limits.
func IsExemptFromRateLimits(r *http.Request) bool {
	tier := GetTier(r)
	return tier == TierEnterprise || tier == TierPartner
}

// ShouldBypassGlobalLimit returns true if the request should bypass global rate limits.
// Only Partner tier bypasses global limits.
func ShouldBypassGlobalLimit(r *http.Request) bool {
	return GetTier(r) == TierPartner
}

package httpserver

import (
	"crypto/subtle"
	"net/http"

	apierrors "github.com/CedrosPay/checkout/internal/errors"
)

// adminAuth protects operator endpoints with "Authorization: Bearer {key}".
// With no key configured the endpoint is open.
func adminAuth(apiKey string) func(http.Handler) http.Handler {
	expected := []byte("Bearer " + apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), expected) != 1 {
				apierrors.WriteError(w, apierrors.ErrCodeUnauthorized, "invalid or missing admin API key", "Authorization")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

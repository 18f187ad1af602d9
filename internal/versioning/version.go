// Package versioning enforces the dated API-Version header agents send on
// every request.
package versioning

import (
	"context"
	"net/http"
	"strings"

	apierrors "github.com/CedrosPay/checkout/internal/errors"
)

// Header carries the dated protocol version, e.g. 2025-09-29.
const Header = "API-Version"

type contextKey string

const versionContextKey contextKey = "api-version"

// FromContext retrieves the negotiated API version, or "" outside Require.
func FromContext(ctx context.Context) string {
	v, _ := ctx.Value(versionContextKey).(string)
	return v
}

// WithVersion adds the API version to the context.
func WithVersion(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, versionContextKey, version)
}

// Require rejects requests whose API-Version is missing or not one of
// supported. The accepted version is echoed on the response.
func Require(supported ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(supported))
	for _, v := range supported {
		if v = strings.TrimSpace(v); v != "" {
			allowed[v] = struct{}{}
		}
	}
	listed := strings.Join(supported, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			version := strings.TrimSpace(r.Header.Get(Header))
			if version == "" {
				apierrors.WriteError(w, apierrors.ErrCodeInvalidVersion, "API-Version header is required", Header)
				return
			}
			if _, ok := allowed[version]; !ok {
				apierrors.WriteError(w, apierrors.ErrCodeInvalidVersion,
					"unsupported API-Version "+version+"; supported: "+listed, Header)
				return
			}

			w.Header().Set(Header, version)
			next.ServeHTTP(w, r.WithContext(WithVersion(r.Context(), version)))
		})
	}
}

// DeprecationWarning adds RFC 8594 headers to responses for a version that
// is still accepted but scheduled for removal.
type DeprecationWarning struct {
	deprecatedVersion string
	sunsetDate        string // HTTP date when the version will be removed
	message           string
}

// NewDeprecationWarning creates a deprecation warning for a specific API version.
func NewDeprecationWarning(version, sunsetDate, message string) *DeprecationWarning {
	return &DeprecationWarning{
		deprecatedVersion: version,
		sunsetDate:        sunsetDate,
		message:           message,
	}
}

// Middleware must run inside Require.
func (d *DeprecationWarning) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == d.deprecatedVersion {
			w.Header().Set("Deprecation", "true")
			if d.sunsetDate != "" {
				w.Header().Set("Sunset", d.sunsetDate)
			}
			if d.message != "" {
				w.Header().Set("Warning", `299 - "Deprecated API Version: `+d.message+`"`)
			}
		}
		next.ServeHTTP(w, r)
	})
}

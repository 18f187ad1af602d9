package versioning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()); got != "" {
		t.Errorf("FromContext(empty) = %q", got)
	}
	if got := FromContext(WithVersion(context.Background(), "2025-09-29")); got != "2025-09-29" {
		t.Errorf("FromContext() = %q", got)
	}
}

func TestRequire(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"current", "2025-09-29", http.StatusOK},
		{"older accepted", "2025-06-01", http.StatusOK},
		{"surrounding space", " 2025-09-29 ", http.StatusOK},
		{"missing", "", http.StatusBadRequest},
		{"unsupported", "2024-01-01", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := Require("2025-09-29", "2025-06-01")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = FromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/checkout_sessions/cs_1", nil)
			if tt.header != "" {
				req.Header.Set(Header, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				var body map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if body["type"] != "invalid_request" || body["param"] != "API-Version" {
					t.Errorf("body = %v", body)
				}
				return
			}
			if rec.Header().Get(Header) != seen || seen == "" {
				t.Errorf("echoed %q, context %q", rec.Header().Get(Header), seen)
			}
		})
	}
}

func TestDeprecationWarning(t *testing.T) {
	warn := NewDeprecationWarning("2025-06-01", "Tue, 31 Mar 2026 00:00:00 GMT", "upgrade to 2025-09-29")
	h := Require("2025-09-29", "2025-06-01")(warn.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	for version, deprecated := range map[string]bool{"2025-06-01": true, "2025-09-29": false} {
		req := httptest.NewRequest(http.MethodPost, "/checkout_sessions", nil)
		req.Header.Set(Header, version)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if got := rec.Header().Get("Deprecation") == "true"; got != deprecated {
			t.Errorf("%s: Deprecation header present = %v", version, got)
		}
		if deprecated && rec.Header().Get("Sunset") == "" {
			t.Errorf("%s: missing Sunset", version)
		}
	}
}

package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestVerifier(now time.Time) *SignatureVerifier {
	sv := NewSignatureVerifier("whsec_test", time.Minute)
	sv.now = func() time.Time { return now }
	return sv
}

func TestVerify(t *testing.T) {
	now := time.Date(2025, 9, 29, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"items":[{"id":"item_123","quantity":1}]}`)
	ts := now.Format(time.RFC3339)
	sig := Sign([]byte("whsec_test"), ts, body)

	tests := []struct {
		name      string
		signature string
		timestamp string
		body      []byte
		wantErr   error
	}{
		{"valid", sig, ts, body, nil},
		{"missing signature", "", ts, body, ErrMissingSignature},
		{"missing timestamp", sig, "", body, ErrMissingSignature},
		{"tampered body", sig, ts, []byte(`{"items":[]}`), ErrInvalidSignature},
		{"wrong timestamp", sig, now.Add(time.Second).Format(time.RFC3339), body, ErrInvalidSignature},
		{"stale", Sign([]byte("whsec_test"), now.Add(-2*time.Minute).Format(time.RFC3339), body), now.Add(-2 * time.Minute).Format(time.RFC3339), body, ErrStaleTimestamp},
		{"future", Sign([]byte("whsec_test"), now.Add(2*time.Minute).Format(time.RFC3339), body), now.Add(2 * time.Minute).Format(time.RFC3339), body, ErrStaleTimestamp},
		{"garbage timestamp", sig, "yesterday", body, ErrStaleTimestamp},
	}

	sv := newTestVerifier(now)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sv.Verify(tt.signature, tt.timestamp, tt.body)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Verify() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr.Error()) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	now := time.Date(2025, 9, 29, 12, 0, 0, 0, time.UTC)
	sv := newTestVerifier(now)

	var seen string
	handler := sv.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"fulfillment_option_id":"standard"}`
	ts := now.Format(time.RFC3339)

	req := httptest.NewRequest(http.MethodPost, "/checkout_sessions/cs_1", strings.NewReader(body))
	req.Header.Set(TimestampHeader, ts)
	req.Header.Set(SignatureHeader, Sign([]byte("whsec_test"), ts, []byte(body)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if seen != body {
		t.Errorf("downstream body = %q, want %q", seen, body)
	}

	req = httptest.NewRequest(http.MethodPost, "/checkout_sessions/cs_1", strings.NewReader(body))
	req.Header.Set(TimestampHeader, ts)
	req.Header.Set(SignatureHeader, "deadbeef")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"param":"Signature"`) {
		t.Errorf("body = %s, want param Signature", rec.Body.String())
	}
}

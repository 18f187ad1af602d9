package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apierrors "github.com/CedrosPay/checkout/internal/errors"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of "<timestamp>.<body>".
	SignatureHeader = "Signature"
	// TimestampHeader carries the RFC 3339 time the request was signed.
	TimestampHeader = "Timestamp"

	maxSignedBody = 1 << 20
)

var (
	ErrMissingSignature = errors.New("auth: signature required")
	ErrInvalidSignature = errors.New("auth: signature mismatch")
	ErrStaleTimestamp   = errors.New("auth: timestamp outside allowed skew")
)

// Sign computes the signature for body signed at timestamp.
// Outbound webhooks and inbound request verification share this scheme.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureVerifier checks Signature/Timestamp headers against a shared secret.
type SignatureVerifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// NewSignatureVerifier creates a verifier. A non-positive maxSkew defaults to five minutes.
func NewSignatureVerifier(secret string, maxSkew time.Duration) *SignatureVerifier {
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	return &SignatureVerifier{secret: []byte(secret), maxSkew: maxSkew, now: time.Now}
}

// Verify checks a signature over body. The timestamp must be within maxSkew
// of the current time in either direction.
func (sv *SignatureVerifier) Verify(signature, timestamp string, body []byte) error {
	if signature == "" || timestamp == "" {
		return ErrMissingSignature
	}
	signedAt, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("%w: unparseable timestamp", ErrStaleTimestamp)
	}
	skew := sv.now().Sub(signedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > sv.maxSkew {
		return ErrStaleTimestamp
	}

	expected := Sign(sv.secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// Middleware rejects requests whose signature does not verify. The body is
// buffered and restored for downstream handlers.
func (sv *SignatureVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			var err error
			body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				apierrors.WriteError(w, apierrors.ErrCodeInvalidRequest, "unable to read request body", "")
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		err := sv.Verify(r.Header.Get(SignatureHeader), r.Header.Get(TimestampHeader), body)
		switch {
		case err == nil:
			next.ServeHTTP(w, r)
		case errors.Is(err, ErrStaleTimestamp):
			apierrors.WriteError(w, apierrors.ErrCodeInvalidSig, "request timestamp is missing or outside the allowed window", TimestampHeader)
		default:
			apierrors.WriteError(w, apierrors.ErrCodeInvalidSig, "request signature is missing or invalid", SignatureHeader)
		}
	})
}

package vault

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TokenPrefix marks identifiers issued by the vault.
const TokenPrefix = "vt_"

// ReasonOneTime is the only allowance reason the vault accepts.
const ReasonOneTime = "one_time"

// Consumption failures, in the order ValidateAndConsume checks them.
var (
	ErrInvalidToken           = errors.New("vault: token not found")
	ErrTokenAlreadyUsed       = errors.New("vault: token already used")
	ErrTokenExpired           = errors.New("vault: token expired")
	ErrInvalidSession         = errors.New("vault: token bound to a different checkout session")
	ErrAmountExceedsAllowance = errors.New("vault: amount exceeds allowance")
	ErrCurrencyMismatch       = errors.New("vault: currency does not match allowance")
)

// ErrInvalidAllowance wraps every issuance validation failure.
var ErrInvalidAllowance = errors.New("vault: invalid allowance")

// AllowanceError reports which allowance field failed validation.
type AllowanceError struct {
	Field   string
	Message string
}

func (e *AllowanceError) Error() string {
	return fmt.Sprintf("allowance.%s: %s", e.Field, e.Message)
}

func (e *AllowanceError) Unwrap() error { return ErrInvalidAllowance }

// Allowance constrains how a delegated token may be spent. It never changes
// after issuance.
type Allowance struct {
	Reason            string    `json:"reason"`
	MaxAmount         int64     `json:"max_amount"`
	Currency          string    `json:"currency"`
	CheckoutSessionID string    `json:"checkout_session_id"`
	MerchantID        string    `json:"merchant_id,omitempty"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// PaymentMethod holds the display-only card attributes kept with a token.
type PaymentMethod struct {
	Type    string `json:"type"`
	Brand   string `json:"brand,omitempty"`
	Last4   string `json:"last4,omitempty"`
	Funding string `json:"funding,omitempty"`
}

// RiskSignal is a fraud assessment supplied by the agent at issuance.
type RiskSignal struct {
	Type   string `json:"type"`
	Score  int    `json:"score"`
	Action string `json:"action"`
}

// Token is a single-use stand-in for a tokenized credential.
type Token struct {
	ID            string            `json:"id"`
	CredentialRef string            `json:"credential_ref"`
	Allowance     Allowance         `json:"allowance"`
	PaymentMethod PaymentMethod     `json:"payment_method"`
	RiskSignals   []RiskSignal      `json:"risk_signals,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Used          bool              `json:"used"`
	CreatedAt     time.Time         `json:"created_at"`
	UsedAt        *time.Time        `json:"used_at,omitempty"`
}

// ConsumeRequest describes the charge a token is about to fund.
type ConsumeRequest struct {
	TokenID   string
	SessionID string
	Amount    int64
	Currency  string
}

// Check applies the consumption rules to t in their fixed order and returns
// the first failure. Stores call it while holding the token exclusively, or
// to explain why a conditional update matched nothing.
func Check(t Token, req ConsumeRequest, now time.Time) error {
	switch {
	case t.Used:
		return ErrTokenAlreadyUsed
	case now.After(t.Allowance.ExpiresAt):
		return ErrTokenExpired
	case t.Allowance.CheckoutSessionID != req.SessionID:
		return ErrInvalidSession
	case req.Amount > t.Allowance.MaxAmount:
		return ErrAmountExceedsAllowance
	case !strings.EqualFold(t.Allowance.Currency, req.Currency):
		return ErrCurrencyMismatch
	}
	return nil
}

// GenerateTokenID returns "vt_" followed by 32 random hex characters.
func GenerateTokenID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(b), nil
}

// IsTokenID reports whether id carries the vault prefix.
func IsTokenID(id string) bool {
	return strings.HasPrefix(id, TokenPrefix) && len(id) > len(TokenPrefix)
}

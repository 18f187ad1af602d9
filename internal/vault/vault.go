package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/money"
)

// DefaultRetention is how long a token survives past its allowance expiry
// before CleanupExpired reclaims it.
const DefaultRetention = 24 * time.Hour

// Card is the raw credential handed to the tokenizer. It is never stored.
type Card struct {
	Number         string
	ExpMonth       string
	ExpYear        string
	CVC            string
	Name           string
	DisplayBrand   string
	DisplayLast4   string
	DisplayFunding string
}

// Credential is what the tokenizer returns in exchange for a card.
type Credential struct {
	Ref     string
	Brand   string
	Last4   string
	Funding string
}

// Tokenizer exchanges raw card data for an opaque, chargeable reference.
type Tokenizer interface {
	Tokenize(ctx context.Context, card Card) (Credential, error)
}

// IssueRequest is a validated delegate_payment call.
type IssueRequest struct {
	Card        Card
	Allowance   Allowance
	RiskSignals []RiskSignal
	Metadata    map[string]string
}

// Vault issues and redeems delegated payment tokens.
type Vault struct {
	store     Store
	tokenizer Tokenizer
	retention time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Vault.
type Option func(*Vault)

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(v *Vault) {
		if d > 0 {
			v.retention = d
		}
	}
}

// WithMetrics records issuance and consumption outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Vault) { v.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// New creates a Vault.
func New(store Store, tokenizer Tokenizer, opts ...Option) *Vault {
	v := &Vault{
		store:     store,
		tokenizer: tokenizer,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateAllowance checks an allowance before any credential is tokenized.
func ValidateAllowance(a Allowance, now time.Time) error {
	if a.Reason != ReasonOneTime {
		return &AllowanceError{Field: "reason", Message: fmt.Sprintf("must be %q", ReasonOneTime)}
	}
	if a.MaxAmount <= 0 {
		return &AllowanceError{Field: "max_amount", Message: "must be a positive integer"}
	}
	if !money.ValidCurrency(a.Currency) {
		return &AllowanceError{Field: "currency", Message: "must be a 3-letter lowercase ISO 4217 code"}
	}
	if !a.ExpiresAt.After(now) {
		return &AllowanceError{Field: "expires_at", Message: "must be in the future"}
	}
	if a.CheckoutSessionID == "" {
		return &AllowanceError{Field: "checkout_session_id", Message: "is required"}
	}
	return nil
}

// Issue validates the allowance, tokenizes the card, and stores a fresh
// unused token.
func (v *Vault) Issue(ctx context.Context, req IssueRequest) (Token, error) {
	now := v.now()
	if err := ValidateAllowance(req.Allowance, now); err != nil {
		return Token{}, err
	}

	cred, err := v.tokenizer.Tokenize(ctx, req.Card)
	if err != nil {
		return Token{}, fmt.Errorf("tokenize credential: %w", err)
	}

	id, err := GenerateTokenID()
	if err != nil {
		return Token{}, err
	}

	token := Token{
		ID:            id,
		CredentialRef: cred.Ref,
		Allowance:     req.Allowance,
		PaymentMethod: PaymentMethod{
			Type:    "card",
			Brand:   firstNonEmpty(req.Card.DisplayBrand, cred.Brand),
			Last4:   firstNonEmpty(req.Card.DisplayLast4, cred.Last4),
			Funding: firstNonEmpty(req.Card.DisplayFunding, cred.Funding),
		},
		RiskSignals: req.RiskSignals,
		Metadata:    req.Metadata,
		CreatedAt:   now,
	}
	if err := v.store.Create(ctx, token); err != nil {
		return Token{}, fmt.Errorf("store token: %w", err)
	}

	v.metrics.ObserveTokenIssued()
	log := logger.FromContext(ctx)
	log.Info().
		Str("token_id", token.ID).
		Str("checkout_session_id", token.Allowance.CheckoutSessionID).
		Int64("max_amount", token.Allowance.MaxAmount).
		Str("currency", token.Allowance.Currency).
		Str("credential", logger.TruncateRef(token.CredentialRef)).
		Msg("vault.token_issued")

	return token, nil
}

// ValidateAndConsume redeems tokenID for a charge of amount in currency
// against sessionID. At most one call per token ever succeeds; failures
// leave the token untouched.
func (v *Vault) ValidateAndConsume(ctx context.Context, tokenID, sessionID string, amount int64, currency string) (Token, error) {
	token, err := v.store.Consume(ctx, ConsumeRequest{
		TokenID:   tokenID,
		SessionID: sessionID,
		Amount:    amount,
		Currency:  currency,
	}, v.now())

	v.metrics.ObserveTokenConsume(consumeResult(err))
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Str("token_id", tokenID).
			Str("checkout_session_id", sessionID).
			Msg("vault.consume_rejected")
		return Token{}, err
	}
	return token, nil
}

// CleanupExpired removes tokens whose allowance expired more than the
// retention window ago.
func (v *Vault) CleanupExpired(ctx context.Context) (int64, error) {
	removed, err := v.store.DeleteExpired(ctx, v.now().Add(-v.retention))
	if err != nil {
		return 0, fmt.Errorf("cleanup expired tokens: %w", err)
	}
	v.metrics.ObserveTokenCleanup(removed)
	return removed, nil
}

func consumeResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrTokenAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSession):
		return "invalid_session"
	case errors.Is(err, ErrAmountExceedsAllowance):
		return "amount_exceeded"
	case errors.Is(err, ErrCurrencyMismatch):
		return "currency_mismatch"
	default:
		return "error"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

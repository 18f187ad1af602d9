package checkout

import (
	"context"

	"github.com/CedrosPay/checkout/internal/callbacks"
	"github.com/CedrosPay/checkout/internal/vault"
)

// PaymentReference says how a completion is funded. It is either Delegated
// or Direct; the protocol layer decides which when it decodes the request.
type PaymentReference interface {
	paymentKind() string
}

// Delegated funds the charge with a vault token.
type Delegated struct {
	TokenID string
}

// Direct charges a processor credential without going through the vault.
type Direct struct {
	CredentialRef string
}

func (Delegated) paymentKind() string { return "delegated" }
func (Direct) paymentKind() string    { return "direct" }

// ChargeRequest captures the authoritative amount for a session.
type ChargeRequest struct {
	CredentialRef  string
	Amount         int64
	Currency       string
	SessionID      string
	IdempotencyKey string
	Metadata       map[string]string
}

// ChargeResult identifies a successful charge at the processor.
type ChargeResult struct {
	ID        string
	Processor string
}

// Charger captures funds from a credential.
type Charger interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// Allowances redeems delegated tokens.
type Allowances interface {
	ValidateAndConsume(ctx context.Context, tokenID, sessionID string, amount int64, currency string) (vault.Token, error)
}

// Publisher delivers order events without blocking the caller.
type Publisher interface {
	Publish(ctx context.Context, event callbacks.Event)
}

package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/CedrosPay/checkout/internal/checkout"
	"github.com/CedrosPay/checkout/internal/vault"
)

// DeclinedCredential is a direct credential the mock always declines.
const DeclinedCredential = "pm_card_chargeDeclined"

// MockProcessor is a deterministic in-process processor. The same card
// always yields the same credential and the same idempotency key always
// yields the same charge.
type MockProcessor struct {
	mu       sync.Mutex
	declined map[string]bool // credential refs
	declineN map[string]bool // card numbers
	charges  map[string]checkout.ChargeResult
	requests []checkout.ChargeRequest
}

// NewMockProcessor creates a mock that declines the given card numbers,
// or Stripe's generic decline test card when none are given.
func NewMockProcessor(declineCards ...string) *MockProcessor {
	if len(declineCards) == 0 {
		declineCards = []string{"4000000000000002"}
	}
	p := &MockProcessor{
		declined: map[string]bool{DeclinedCredential: true},
		declineN: make(map[string]bool),
		charges:  make(map[string]checkout.ChargeResult),
	}
	for _, n := range declineCards {
		p.declineN[n] = true
	}
	return p
}

// Name implements Processor.
func (p *MockProcessor) Name() string { return "mock" }

// Tokenize implements vault.Tokenizer.
func (p *MockProcessor) Tokenize(_ context.Context, card vault.Card) (vault.Credential, error) {
	if len(card.Number) < 4 {
		return vault.Credential{}, fmt.Errorf("%w: card number too short", ErrDeclined)
	}
	ref := "pm_mock_" + digest(card.Number, 24)

	p.mu.Lock()
	if p.declineN[card.Number] {
		p.declined[ref] = true
	}
	p.mu.Unlock()

	return vault.Credential{
		Ref:     ref,
		Brand:   brand(card.Number),
		Last4:   card.Number[len(card.Number)-4:],
		Funding: "credit",
	}, nil
}

// Charge implements checkout.Charger.
func (p *MockProcessor) Charge(_ context.Context, req checkout.ChargeRequest) (checkout.ChargeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if p.declined[req.CredentialRef] {
		return checkout.ChargeResult{}, fmt.Errorf("%w: credential %s", ErrDeclined, req.CredentialRef)
	}
	if req.IdempotencyKey != "" {
		if prior, ok := p.charges[req.IdempotencyKey]; ok {
			return prior, nil
		}
	}

	result := checkout.ChargeResult{
		ID:        "pi_mock_" + digest(req.IdempotencyKey+"|"+req.SessionID+"|"+req.CredentialRef, 24),
		Processor: p.Name(),
	}
	if req.IdempotencyKey != "" {
		p.charges[req.IdempotencyKey] = result
	}
	return result, nil
}

// Requests returns every charge request seen, in order.
func (p *MockProcessor) Requests() []checkout.ChargeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]checkout.ChargeRequest(nil), p.requests...)
}

func digest(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}

func brand(number string) string {
	switch {
	case strings.HasPrefix(number, "4"):
		return "visa"
	case strings.HasPrefix(number, "5"):
		return "mastercard"
	case strings.HasPrefix(number, "34"), strings.HasPrefix(number, "37"):
		return "amex"
	case strings.HasPrefix(number, "6"):
		return "discover"
	default:
		return "unknown"
	}
}

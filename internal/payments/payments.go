// Package payments provides the card tokenizer and charger behind the vault
// and the checkout machine: Stripe for real traffic and a deterministic
// in-process processor for local runs and tests.
package payments

import (
	"errors"
	"fmt"

	"github.com/CedrosPay/checkout/internal/checkout"
	"github.com/CedrosPay/checkout/internal/circuitbreaker"
	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/vault"
)

// ErrDeclined is returned when the processor refuses the card.
var ErrDeclined = errors.New("payments: card declined")

// Processor tokenizes cards for the vault and charges credentials for checkout.
type Processor interface {
	vault.Tokenizer
	checkout.Charger
	Name() string
}

// New builds the processor named by cfg.Processor.
func New(cfg config.PaymentsConfig, breaker *circuitbreaker.Manager, m *metrics.Metrics) (Processor, error) {
	switch cfg.Processor {
	case "stripe":
		if cfg.Stripe.SecretKey == "" {
			return nil, errors.New("payments: stripe secret key is required")
		}
		return NewStripeProcessor(cfg.Stripe, breaker, m), nil
	case "", "mock":
		return NewMockProcessor(cfg.Mock.DeclineCards...), nil
	default:
		return nil, fmt.Errorf("payments: unknown processor %q", cfg.Processor)
	}
}

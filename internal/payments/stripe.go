package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/paymentintent"
	"github.com/stripe/stripe-go/v72/paymentmethod"

	"github.com/CedrosPay/checkout/internal/checkout"
	"github.com/CedrosPay/checkout/internal/circuitbreaker"
	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/vault"
)

// StripeProcessor creates PaymentMethods from delegated cards and confirms
// PaymentIntents against them.
type StripeProcessor struct {
	cfg     config.StripeConfig
	breaker *circuitbreaker.Manager
	metrics *metrics.Metrics
}

// NewStripeProcessor sets up stripe-go with the provided credentials.
func NewStripeProcessor(cfg config.StripeConfig, breaker *circuitbreaker.Manager, m *metrics.Metrics) *StripeProcessor {
	stripeapi.Key = cfg.SecretKey
	return &StripeProcessor{cfg: cfg, breaker: breaker, metrics: m}
}

// Name implements Processor.
func (p *StripeProcessor) Name() string { return "stripe" }

// Tokenize implements vault.Tokenizer.
func (p *StripeProcessor) Tokenize(ctx context.Context, card vault.Card) (vault.Credential, error) {
	params := &stripeapi.PaymentMethodParams{
		Type: stripeapi.String(string(stripeapi.PaymentMethodTypeCard)),
		Card: &stripeapi.PaymentMethodCardParams{
			Number:   stripeapi.String(card.Number),
			ExpMonth: stripeapi.String(card.ExpMonth),
			ExpYear:  stripeapi.String(card.ExpYear),
		},
	}
	if card.CVC != "" {
		params.Card.CVC = stripeapi.String(card.CVC)
	}
	if card.Name != "" {
		params.BillingDetails = &stripeapi.BillingDetailsParams{Name: stripeapi.String(card.Name)}
	}
	params.Context = ctx

	out, err := p.breaker.Execute(circuitbreaker.ServiceStripe, func() (interface{}, error) {
		return paymentmethod.New(params)
	})
	if err != nil {
		if isCardError(err) {
			return vault.Credential{}, fmt.Errorf("%w: %v", ErrDeclined, err)
		}
		return vault.Credential{}, fmt.Errorf("stripe: create payment method: %w", err)
	}

	pm := out.(*stripeapi.PaymentMethod)
	cred := vault.Credential{Ref: pm.ID}
	if pm.Card != nil {
		cred.Brand = string(pm.Card.Brand)
		cred.Last4 = pm.Card.Last4
		cred.Funding = string(pm.Card.Funding)
	}
	return cred, nil
}

// chargeOutcome carries a decline out of the breaker without counting it as
// a processor failure.
type chargeOutcome struct {
	intent   *stripeapi.PaymentIntent
	declined error
}

// Charge implements checkout.Charger. The request's idempotency key is sent
// to Stripe so a retried completion cannot capture twice.
func (p *StripeProcessor) Charge(ctx context.Context, req checkout.ChargeRequest) (checkout.ChargeResult, error) {
	start := time.Now()
	result, err := p.charge(ctx, req)
	p.metrics.ObserveCharge(p.Name(), time.Since(start), err)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Str("checkout_session_id", req.SessionID).
			Str("credential", logger.TruncateRef(req.CredentialRef)).
			Msg("stripe.charge_failed")
	}
	return result, err
}

func (p *StripeProcessor) charge(ctx context.Context, req checkout.ChargeRequest) (checkout.ChargeResult, error) {
	params := &stripeapi.PaymentIntentParams{
		Amount:             stripeapi.Int64(req.Amount),
		Currency:           stripeapi.String(strings.ToLower(req.Currency)),
		PaymentMethod:      stripeapi.String(req.CredentialRef),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
		Confirm:            stripeapi.Bool(true),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	out, err := p.breaker.Execute(circuitbreaker.ServiceStripe, func() (interface{}, error) {
		pi, err := paymentintent.New(params)
		if err != nil && isCardError(err) {
			return chargeOutcome{declined: err}, nil
		}
		if err != nil {
			return nil, err
		}
		return chargeOutcome{intent: pi}, nil
	})
	if err != nil {
		return checkout.ChargeResult{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	outcome := out.(chargeOutcome)
	if outcome.declined != nil {
		return checkout.ChargeResult{}, fmt.Errorf("%w: %v", ErrDeclined, outcome.declined)
	}
	switch outcome.intent.Status {
	case stripeapi.PaymentIntentStatusSucceeded, stripeapi.PaymentIntentStatusProcessing:
		return checkout.ChargeResult{ID: outcome.intent.ID, Processor: p.Name()}, nil
	default:
		return checkout.ChargeResult{}, fmt.Errorf("%w: payment intent %s is %s", ErrDeclined, outcome.intent.ID, outcome.intent.Status)
	}
}

func isCardError(err error) bool {
	var stripeErr *stripeapi.Error
	return errors.As(err, &stripeErr) && stripeErr.Type == stripeapi.ErrorTypeCard
}

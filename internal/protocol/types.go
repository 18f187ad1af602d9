// Package protocol defines the Agentic Commerce wire format: request and
// response bodies, their JSON Schemas, and conversion to checkout and vault
// domain types.
package protocol

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/CedrosPay/checkout/internal/checkout"
	"github.com/CedrosPay/checkout/internal/vault"
)

// Item is a requested catalog item.
type Item struct {
	ID       string `json:"id"`
	Quantity int64  `json:"quantity"`
}

// Address is a fulfillment or billing address.
type Address struct {
	Name       string `json:"name"`
	LineOne    string `json:"line_one"`
	LineTwo    string `json:"line_two,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}

// Buyer identifies the purchaser.
type Buyer struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// CreateSessionRequest is the body of POST /checkout_sessions.
type CreateSessionRequest struct {
	Items              []Item   `json:"items"`
	Buyer              *Buyer   `json:"buyer,omitempty"`
	FulfillmentAddress *Address `json:"fulfillment_address,omitempty"`
}

// UpdateSessionRequest is the body of POST /checkout_sessions/{id}.
// Absent and null members keep the session's current value.
type UpdateSessionRequest struct {
	Items               []Item   `json:"items,omitempty"`
	Buyer               *Buyer   `json:"buyer,omitempty"`
	FulfillmentAddress  *Address `json:"fulfillment_address,omitempty"`
	FulfillmentOptionID *string  `json:"fulfillment_option_id,omitempty"`
}

// PaymentData carries the credential a completion is funded with.
type PaymentData struct {
	Token          string   `json:"token"`
	Provider       string   `json:"provider"`
	BillingAddress *Address `json:"billing_address,omitempty"`
}

// CompleteSessionRequest is the body of POST /checkout_sessions/{id}/complete.
type CompleteSessionRequest struct {
	Buyer       *Buyer      `json:"buyer,omitempty"`
	PaymentData PaymentData `json:"payment_data"`
}

// PaymentMethod is the raw card in a delegate_payment call.
type PaymentMethod struct {
	Type                   string            `json:"type"`
	CardNumberType         string            `json:"card_number_type"`
	Number                 string            `json:"number"`
	ExpMonth               string            `json:"exp_month,omitempty"`
	ExpYear                string            `json:"exp_year,omitempty"`
	Name                   string            `json:"name,omitempty"`
	CVC                    string            `json:"cvc,omitempty"`
	ChecksPerformed        []string          `json:"checks_performed,omitempty"`
	IIN                    string            `json:"iin,omitempty"`
	DisplayCardFundingType string            `json:"display_card_funding_type"`
	DisplayBrand           string            `json:"display_brand,omitempty"`
	DisplayLast4           string            `json:"display_last4,omitempty"`
	Metadata               map[string]string `json:"metadata"`
}

// Allowance mirrors vault.Allowance on the wire.
type Allowance struct {
	Reason            string    `json:"reason"`
	MaxAmount         int64     `json:"max_amount"`
	Currency          string    `json:"currency"`
	CheckoutSessionID string    `json:"checkout_session_id"`
	MerchantID        string    `json:"merchant_id"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// RiskSignal is the agent's fraud assessment.
type RiskSignal struct {
	Type   string `json:"type"`
	Score  int    `json:"score"`
	Action string `json:"action"`
}

// DelegatePaymentRequest is the body of POST /agentic_commerce/delegate_payment.
type DelegatePaymentRequest struct {
	PaymentMethod  PaymentMethod     `json:"payment_method"`
	Allowance      Allowance         `json:"allowance"`
	BillingAddress *Address          `json:"billing_address,omitempty"`
	RiskSignals    []RiskSignal      `json:"risk_signals"`
	Metadata       map[string]string `json:"metadata"`
}

// DelegatePaymentResponse is returned with 201 Created.
type DelegatePaymentResponse struct {
	ID       string            `json:"id"`
	Created  time.Time         `json:"created"`
	Metadata map[string]string `json:"metadata"`
}

// Session is the checkout session as agents see it.
type Session struct {
	ID                  string                       `json:"id"`
	Buyer               *checkout.Buyer              `json:"buyer,omitempty"`
	PaymentProvider     checkout.PaymentProvider     `json:"payment_provider"`
	Status              checkout.Status              `json:"status"`
	Currency            string                       `json:"currency"`
	LineItems           []checkout.LineItem          `json:"line_items"`
	FulfillmentAddress  *checkout.Address            `json:"fulfillment_address,omitempty"`
	FulfillmentOptions  []checkout.FulfillmentOption `json:"fulfillment_options"`
	FulfillmentOptionID string                       `json:"fulfillment_option_id,omitempty"`
	Totals              []checkout.Total             `json:"totals"`
	Messages            []checkout.Message           `json:"messages"`
	Links               []checkout.Link              `json:"links"`
	Order               *checkout.Order              `json:"order,omitempty"`
	ExpiresAt           time.Time                    `json:"expires_at"`
}

// NewSession renders a domain session. Collections are never null on the wire.
func NewSession(s checkout.Session) Session {
	out := Session{
		ID:                  s.ID,
		Buyer:               s.Buyer,
		PaymentProvider:     s.PaymentProvider,
		Status:              s.Status,
		Currency:            s.Currency,
		LineItems:           s.LineItems,
		FulfillmentAddress:  s.FulfillmentAddress,
		FulfillmentOptions:  s.FulfillmentOptions,
		FulfillmentOptionID: s.FulfillmentOptionID,
		Totals:              s.Totals,
		Messages:            s.Messages,
		Links:               s.Links,
		Order:               s.Order,
		ExpiresAt:           s.ExpiresAt,
	}
	if out.LineItems == nil {
		out.LineItems = []checkout.LineItem{}
	}
	if out.FulfillmentOptions == nil {
		out.FulfillmentOptions = []checkout.FulfillmentOption{}
	}
	if out.Totals == nil {
		out.Totals = []checkout.Total{}
	}
	if out.Messages == nil {
		out.Messages = []checkout.Message{}
	}
	if out.Links == nil {
		out.Links = []checkout.Link{}
	}
	if out.PaymentProvider.SupportedPaymentMethods == nil {
		out.PaymentProvider.SupportedPaymentMethods = []string{}
	}
	return out
}

// Decode validates body against schema and unmarshals it into v.
func Decode(schema Schema, body []byte, v any) error {
	if err := Validate(schema, body); err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &ValidationError{Message: "request body could not be decoded: " + err.Error()}
	}
	return nil
}

// PaymentReference decides how a completion is funded: tokens carrying the
// vault prefix are delegated, anything else is a processor credential.
func (p PaymentData) PaymentReference() checkout.PaymentReference {
	if vault.IsTokenID(p.Token) {
		return checkout.Delegated{TokenID: p.Token}
	}
	return checkout.Direct{CredentialRef: p.Token}
}

// ToDomain converts the request for checkout.Machine.Create.
func (r CreateSessionRequest) ToDomain() checkout.CreateRequest {
	return checkout.CreateRequest{
		Items:              toItems(r.Items),
		Buyer:              toBuyer(r.Buyer),
		FulfillmentAddress: toAddress(r.FulfillmentAddress),
	}
}

// ToDomain converts the request for checkout.Machine.Update.
func (r UpdateSessionRequest) ToDomain() checkout.UpdateRequest {
	return checkout.UpdateRequest{
		Items:               toItems(r.Items),
		Buyer:               toBuyer(r.Buyer),
		FulfillmentAddress:  toAddress(r.FulfillmentAddress),
		FulfillmentOptionID: r.FulfillmentOptionID,
	}
}

// ToDomain converts the request for checkout.Machine.Complete.
func (r CompleteSessionRequest) ToDomain() checkout.CompleteRequest {
	return checkout.CompleteRequest{
		Payment: r.PaymentData.PaymentReference(),
		Buyer:   toBuyer(r.Buyer),
	}
}

// ToDomain converts the request for vault.Vault.Issue.
func (r DelegatePaymentRequest) ToDomain() vault.IssueRequest {
	req := vault.IssueRequest{
		Card: vault.Card{
			Number:         r.PaymentMethod.Number,
			ExpMonth:       r.PaymentMethod.ExpMonth,
			ExpYear:        r.PaymentMethod.ExpYear,
			CVC:            r.PaymentMethod.CVC,
			Name:           r.PaymentMethod.Name,
			DisplayBrand:   r.PaymentMethod.DisplayBrand,
			DisplayLast4:   r.PaymentMethod.DisplayLast4,
			DisplayFunding: r.PaymentMethod.DisplayCardFundingType,
		},
		Allowance: vault.Allowance{
			Reason:            r.Allowance.Reason,
			MaxAmount:         r.Allowance.MaxAmount,
			Currency:          r.Allowance.Currency,
			CheckoutSessionID: r.Allowance.CheckoutSessionID,
			MerchantID:        r.Allowance.MerchantID,
			ExpiresAt:         r.Allowance.ExpiresAt,
		},
		Metadata: r.Metadata,
	}
	for _, rs := range r.RiskSignals {
		req.RiskSignals = append(req.RiskSignals, vault.RiskSignal(rs))
	}
	return req
}

// NewDelegatePaymentResponse renders an issued token.
func NewDelegatePaymentResponse(t vault.Token) DelegatePaymentResponse {
	md := t.Metadata
	if md == nil {
		md = map[string]string{}
	}
	return DelegatePaymentResponse{ID: t.ID, Created: t.CreatedAt, Metadata: md}
}

func toItems(items []Item) []checkout.Item {
	if items == nil {
		return nil
	}
	out := make([]checkout.Item, len(items))
	for i, it := range items {
		out[i] = checkout.Item(it)
	}
	return out
}

func toBuyer(b *Buyer) *checkout.Buyer {
	if b == nil {
		return nil
	}
	out := checkout.Buyer(*b)
	return &out
}

func toAddress(a *Address) *checkout.Address {
	if a == nil {
		return nil
	}
	out := checkout.Address(*a)
	return &out
}

package checkout

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// SessionPrefix marks checkout session identifiers.
const SessionPrefix = "cs_"

// Status is the lifecycle state of a checkout session.
type Status string

const (
	StatusNotReadyForPayment Status = "not_ready_for_payment"
	StatusReadyForPayment    Status = "ready_for_payment"
	StatusCompleted          Status = "completed"
	StatusCanceled           Status = "canceled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

var (
	ErrSessionNotFound  = errors.New("checkout: session not found")
	ErrSessionFinalized = errors.New("checkout: session already finalized")
	ErrSessionExpired   = fmt.Errorf("%w: session expired", ErrSessionFinalized)
	ErrSessionNotReady  = errors.New("checkout: session not ready for payment")
	ErrPaymentFailed    = errors.New("checkout: payment failed")
	ErrInvalidPayment   = errors.New("checkout: invalid payment reference")
	ErrNoItems          = errors.New("checkout: at least one item is required")

	ErrCompletionInProgress = errors.New("checkout: payment for this session is in progress")
)

// CompletionLease is how long a completion claim excludes other writers
// before a new Complete may take it over.
const CompletionLease = 2 * time.Minute

// Item is a requested catalog item and quantity.
type Item struct {
	ID       string `json:"id"`
	Quantity int64  `json:"quantity"`
}

// LineItem is a priced item. Amounts are minor currency units.
type LineItem struct {
	ID         string `json:"id"`
	Item       Item   `json:"item"`
	Title      string `json:"title,omitempty"`
	BaseAmount int64  `json:"base_amount"`
	Discount   int64  `json:"discount"`
	Subtotal   int64  `json:"subtotal"`
	Tax        int64  `json:"tax"`
	Total      int64  `json:"total"`
}

// Address is a fulfillment destination.
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

// FulfillmentOption is one way the order can be delivered to the session's address.
type FulfillmentOption struct {
	Type                 string    `json:"type"`
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	Subtitle             string    `json:"subtitle,omitempty"`
	Carrier              string    `json:"carrier,omitempty"`
	EarliestDeliveryTime time.Time `json:"earliest_delivery_time"`
	LatestDeliveryTime   time.Time `json:"latest_delivery_time"`
	Subtotal             int64     `json:"subtotal"`
	Tax                  int64     `json:"tax"`
	Total                int64     `json:"total"`
}

// TotalType names an entry of Session.Totals.
type TotalType string

const (
	TotalItemsBaseAmount TotalType = "items_base_amount"
	TotalItemsDiscount   TotalType = "items_discount"
	TotalSubtotal        TotalType = "subtotal"
	TotalDiscount        TotalType = "discount"
	TotalFulfillment     TotalType = "fulfillment"
	TotalTax             TotalType = "tax"
	TotalFee             TotalType = "fee"
	TotalTotal           TotalType = "total"
)

// Total is one labeled amount in the session summary.
type Total struct {
	Type        TotalType `json:"type"`
	DisplayText string    `json:"display_text"`
	Amount      int64     `json:"amount"`
}

// MessageType distinguishes guidance from blocking problems.
type MessageType string

const (
	MessageInfo  MessageType = "info"
	MessageError MessageType = "error"
)

// Message codes carried on error messages.
const (
	CodeMissing    = "missing"
	CodeInvalid    = "invalid"
	CodeOutOfStock = "out_of_stock"
)

// Message explains why a session is not ready, or gives the agent guidance.
type Message struct {
	Type        MessageType `json:"type"`
	Code        string      `json:"code,omitempty"`
	Param       string      `json:"param,omitempty"`
	ContentType string      `json:"content_type"`
	Content     string      `json:"content"`
}

// Blocking reports whether the message prevents payment.
func (m Message) Blocking() bool { return m.Type == MessageError }

// Link is a legal or policy URL shown to the buyer.
type Link struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// PaymentProvider advertises how the merchant accepts payment.
type PaymentProvider struct {
	Provider                string   `json:"provider"`
	SupportedPaymentMethods []string `json:"supported_payment_methods"`
}

// Order is created exactly once when a session completes.
type Order struct {
	ID                string `json:"id"`
	CheckoutSessionID string `json:"checkout_session_id"`
	PermalinkURL      string `json:"permalink_url"`
}

// Completion is the claim a Complete call holds on a session while it pays.
// Once IdempotencyKey is set the processor may hold a charge for it, so the
// claim is only cleared by finalizing the order or by a failed charge.
type Completion struct {
	ID             string    `json:"id"`
	Amount         int64     `json:"amount"`
	LeaseUntil     time.Time `json:"lease_until"`
	Payment        string    `json:"payment,omitempty"`
	CredentialRef  string    `json:"credential_ref,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

// Charging reports whether a charge may already exist for the claim.
func (c *Completion) Charging() bool {
	return c != nil && c.IdempotencyKey != ""
}

// Holds reports whether the claim still excludes other writers at now.
func (c *Completion) Holds(now time.Time) bool {
	return c != nil && (c.Charging() || now.Before(c.LeaseUntil))
}

// Session is a checkout session and its derived pricing state.
type Session struct {
	ID                  string              `json:"id"`
	Status              Status              `json:"status"`
	Currency            string              `json:"currency"`
	Buyer               *Buyer              `json:"buyer,omitempty"`
	PaymentProvider     PaymentProvider     `json:"payment_provider"`
	RequestedItems      []Item              `json:"requested_items"`
	LineItems           []LineItem          `json:"line_items"`
	FulfillmentAddress  *Address            `json:"fulfillment_address,omitempty"`
	FulfillmentOptions  []FulfillmentOption `json:"fulfillment_options"`
	FulfillmentOptionID string              `json:"fulfillment_option_id,omitempty"`
	Totals              []Total             `json:"totals"`
	Messages            []Message           `json:"messages"`
	Links               []Link              `json:"links"`
	Order               *Order              `json:"order,omitempty"`
	Completion          *Completion         `json:"completion,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
	ExpiresAt           time.Time           `json:"expires_at"`
	// Version increments on every write; document stores use it for
	// compare-and-swap.
	Version int64 `json:"version"`
}

// ExpiredAt reports whether the session's window has passed at now.
func (s Session) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Amount returns the entry of the given type from Totals.
func (s Session) Amount(t TotalType) int64 {
	for _, total := range s.Totals {
		if total.Type == t {
			return total.Amount
		}
	}
	return 0
}

// SelectedOption returns the chosen fulfillment option, if any.
func (s Session) SelectedOption() (FulfillmentOption, bool) {
	if s.FulfillmentOptionID == "" {
		return FulfillmentOption{}, false
	}
	for _, opt := range s.FulfillmentOptions {
		if opt.ID == s.FulfillmentOptionID {
			return opt, true
		}
	}
	return FulfillmentOption{}, false
}

// Clone returns a deep copy so callers can mutate without sharing slices.
func (s Session) Clone() Session {
	out := s
	if s.Buyer != nil {
		b := *s.Buyer
		out.Buyer = &b
	}
	if s.FulfillmentAddress != nil {
		a := *s.FulfillmentAddress
		out.FulfillmentAddress = &a
	}
	if s.Order != nil {
		o := *s.Order
		out.Order = &o
	}
	if s.Completion != nil {
		c := *s.Completion
		out.Completion = &c
	}
	out.PaymentProvider.SupportedPaymentMethods = append([]string(nil), s.PaymentProvider.SupportedPaymentMethods...)
	out.RequestedItems = append([]Item(nil), s.RequestedItems...)
	out.LineItems = append([]LineItem(nil), s.LineItems...)
	out.FulfillmentOptions = append([]FulfillmentOption(nil), s.FulfillmentOptions...)
	out.Totals = append([]Total(nil), s.Totals...)
	out.Messages = append([]Message(nil), s.Messages...)
	out.Links = append([]Link(nil), s.Links...)
	return out
}

func newID(prefix string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}

// GenerateSessionID returns "cs_" followed by 32 random hex characters.
func GenerateSessionID() (string, error) {
	return newID(SessionPrefix)
}

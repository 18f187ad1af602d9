package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/CedrosPay/checkout/internal/checkout"
)

const validAddress = `{"name":"Ada Lovelace","line_one":"1 Main St","city":"Springfield","state":"IL","country":"US","postal_code":"62701"}`

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		schema      Schema
		body        string
		wantParam   string
		wantMissing bool
		wantOK      bool
	}{
		{"create minimal", SchemaCreateSession, `{"items":[{"id":"item_123","quantity":1}]}`, "", false, true},
		{"create with address", SchemaCreateSession, `{"items":[{"id":"item_123","quantity":1}],"fulfillment_address":` + validAddress + `}`, "", false, true},
		{"create null buyer", SchemaCreateSession, `{"items":[{"id":"item_123","quantity":1}],"buyer":null}`, "", false, true},
		{"create missing items", SchemaCreateSession, `{}`, "$.items", true, false},
		{"create empty body", SchemaCreateSession, ``, "$.items", true, false},
		{"create empty items", SchemaCreateSession, `{"items":[]}`, "$.items", false, false},
		{"create item missing quantity", SchemaCreateSession, `{"items":[{"id":"item_123"}]}`, "$.items[0].quantity", true, false},
		{"create item string quantity", SchemaCreateSession, `{"items":[{"id":"item_123","quantity":1},{"id":"x","quantity":"2"}]}`, "$.items[1].quantity", false, false},
		{"create address missing city", SchemaCreateSession, `{"items":[{"id":"a","quantity":1}],"fulfillment_address":{"name":"A","line_one":"1","state":"IL","country":"US","postal_code":"1"}}`, "$.fulfillment_address.city", true, false},
		{"update empty", SchemaUpdateSession, `{}`, "", false, true},
		{"update clear option", SchemaUpdateSession, `{"fulfillment_option_id":""}`, "", false, true},
		{"update bad option type", SchemaUpdateSession, `{"fulfillment_option_id":5}`, "$.fulfillment_option_id", false, false},
		{"complete", SchemaCompleteSession, `{"payment_data":{"token":"vt_abc","provider":"stripe"}}`, "", false, true},
		{"complete missing token", SchemaCompleteSession, `{"payment_data":{"provider":"stripe"}}`, "$.payment_data.token", true, false},
		{"complete missing payment data", SchemaCompleteSession, `{"buyer":null}`, "$.payment_data", true, false},
		{"delegate bad currency", SchemaDelegatePayment, strings.Replace(delegateBody, `"usd"`, `"USD"`, 1), "$.allowance.currency", false, false},
		{"delegate bad reason", SchemaDelegatePayment, strings.Replace(delegateBody, `"one_time"`, `"recurring"`, 1), "$.allowance.reason", false, false},
		{"delegate zero amount", SchemaDelegatePayment, strings.Replace(delegateBody, `"max_amount":2000`, `"max_amount":0`, 1), "$.allowance.max_amount", false, false},
		{"delegate bad expiry", SchemaDelegatePayment, strings.Replace(delegateBody, `"2030-01-01T00:00:00Z"`, `"tomorrow"`, 1), "$.allowance.expires_at", false, false},
		{"delegate", SchemaDelegatePayment, delegateBody, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.schema, []byte(tt.body))
			if tt.wantOK {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if verr.Param != tt.wantParam {
				t.Errorf("param = %q, want %q (%s)", verr.Param, tt.wantParam, verr.Message)
			}
			if verr.Missing != tt.wantMissing {
				t.Errorf("missing = %v, want %v", verr.Missing, tt.wantMissing)
			}
		})
	}
}

func TestValidateMalformedJSON(t *testing.T) {
	var verr *ValidationError
	if err := Validate(SchemaCreateSession, []byte(`{"items":`)); !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *ValidationError", err)
	}
}

const delegateBody = `{
	"payment_method": {
		"type": "card",
		"card_number_type": "fpan",
		"number": "4242424242424242",
		"exp_month": "11",
		"exp_year": "2030",
		"name": "Ada Lovelace",
		"cvc": "123",
		"display_card_funding_type": "credit",
		"display_brand": "visa",
		"display_last4": "4242",
		"metadata": {}
	},
	"allowance": {
		"reason": "one_time",
		"max_amount": 2000,
		"currency": "usd",
		"checkout_session_id": "cs_123",
		"merchant_id": "merchant_1",
		"expires_at": "2030-01-01T00:00:00Z"
	},
	"risk_signals": [{"type": "card_testing", "score": 10, "action": "authorized"}],
	"metadata": {"source": "agent"}
}`

func TestDelegatePaymentToDomain(t *testing.T) {
	var req DelegatePaymentRequest
	if err := Decode(SchemaDelegatePayment, []byte(delegateBody), &req); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	issue := req.ToDomain()
	if issue.Card.Number != "4242424242424242" || issue.Card.DisplayFunding != "credit" {
		t.Errorf("card = %+v", issue.Card)
	}
	if issue.Allowance.MaxAmount != 2000 || issue.Allowance.CheckoutSessionID != "cs_123" || issue.Allowance.ExpiresAt.Year() != 2030 {
		t.Errorf("allowance = %+v", issue.Allowance)
	}
	if len(issue.RiskSignals) != 1 || issue.RiskSignals[0].Score != 10 {
		t.Errorf("risk signals = %+v", issue.RiskSignals)
	}
	if issue.Metadata["source"] != "agent" {
		t.Errorf("metadata = %v", issue.Metadata)
	}
}

func TestPaymentReference(t *testing.T) {
	tests := []struct {
		token string
		want  checkout.PaymentReference
	}{
		{"vt_0123456789abcdef0123456789abcdef", checkout.Delegated{TokenID: "vt_0123456789abcdef0123456789abcdef"}},
		{"pm_card_visa", checkout.Direct{CredentialRef: "pm_card_visa"}},
		{"vt_", checkout.Direct{CredentialRef: "vt_"}},
	}
	for _, tt := range tests {
		got := PaymentData{Token: tt.token, Provider: "stripe"}.PaymentReference()
		if got != tt.want {
			t.Errorf("PaymentReference(%q) = %#v, want %#v", tt.token, got, tt.want)
		}
	}
}

func TestUpdateToDomainKeepsOmittedFields(t *testing.T) {
	var req UpdateSessionRequest
	if err := Decode(SchemaUpdateSession, []byte(`{"fulfillment_option_id":"express","buyer":null}`), &req); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	got := req.ToDomain()
	if got.Items != nil || got.Buyer != nil || got.FulfillmentAddress != nil {
		t.Errorf("omitted fields set: %+v", got)
	}
	if got.FulfillmentOptionID == nil || *got.FulfillmentOptionID != "express" {
		t.Errorf("option = %v", got.FulfillmentOptionID)
	}
}

func TestNewSessionRendersEmptyCollections(t *testing.T) {
	body, err := json.Marshal(NewSession(checkout.Session{ID: "cs_1", Status: checkout.StatusNotReadyForPayment}))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"line_items", "fulfillment_options", "totals", "messages", "links"} {
		if string(raw[key]) != "[]" {
			t.Errorf("%s = %s, want []", key, raw[key])
		}
	}
	for _, key := range []string{"order", "buyer", "fulfillment_address", "version", "requested_items"} {
		if _, ok := raw[key]; ok {
			t.Errorf("unexpected member %q", key)
		}
	}
}

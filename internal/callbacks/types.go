package callbacks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType names an order lifecycle event delivered to the merchant webhook.
type EventType string

const (
	EventOrderCreated EventType = "order_created"
	EventOrderUpdated EventType = "order_updated"
)

// ErrCallbackDisabled is returned when no webhook URL is configured.
var ErrCallbackDisabled = errors.New("callbacks: disabled")

// Refund describes a refund applied to an order.
type Refund struct {
	Type   string `json:"type"` // store_credit | original_payment
	Amount int64  `json:"amount"`
}

// OrderData is the order snapshot carried by an event.
// Amount and Currency are not part of the wire payload; they feed logs and metrics.
type OrderData struct {
	CheckoutSessionID string   `json:"checkout_session_id"`
	OrderID           string   `json:"-"`
	PermalinkURL      string   `json:"permalink_url"`
	Status            string   `json:"status"` // created | manual_review | confirmed | canceled | shipped | fulfilled
	Refunds           []Refund `json:"refunds"`
	Amount            int64    `json:"-"`
	Currency          string   `json:"-"`
}

// Event is a single webhook delivery. ID stays fixed across retries so
// receivers can deduplicate.
type Event struct {
	ID        string    `json:"-"`
	Type      EventType `json:"type"`
	CreatedAt time.Time `json:"-"`
	Data      OrderData `json:"data"`
}

// wireOrder adds the data discriminator expected by receivers.
type wireOrder struct {
	Type string `json:"type"`
	OrderData
}

type wireEvent struct {
	Type EventType `json:"type"`
	Data wireOrder `json:"data"`
}

func (e Event) payload() wireEvent {
	data := e.Data
	if data.Refunds == nil {
		data.Refunds = []Refund{}
	}
	return wireEvent{Type: e.Type, Data: wireOrder{Type: "order", OrderData: data}}
}

// NewOrderEvent stamps a fresh event id and creation time.
func NewOrderEvent(eventType EventType, data OrderData) Event {
	return Event{
		ID:        generateEventID(),
		Type:      eventType,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) {}

// generateEventID returns "evt_" followed by 24 hex characters.
func generateEventID() string {
	return "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

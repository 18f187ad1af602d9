// Command sendevent delivers one synthetic order webhook to the configured
// callback URL, signed the same way the server signs live events.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/CedrosPay/checkout/internal/callbacks"
	"github.com/CedrosPay/checkout/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/local.yaml", "path to config yaml")
	eventType := flag.String("type", string(callbacks.EventOrderCreated), "order_created or order_updated")
	sessionID := flag.String("session", "checkout_session_test", "checkout session id carried by the event")
	status := flag.String("status", "created", "order status")
	amount := flag.Int64("amount", 0, "order total in minor units, used only for logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Callbacks.URL == "" {
		log.Fatalf("callbacks.url is not configured")
	}

	typ := callbacks.EventType(*eventType)
	if typ != callbacks.EventOrderCreated && typ != callbacks.EventOrderUpdated {
		log.Fatalf("unknown event type %q", *eventType)
	}

	permalink := ""
	if cfg.Checkout.OrderPermalinkBase != "" {
		permalink = cfg.Checkout.OrderPermalinkBase + "/" + *sessionID
	}
	event := callbacks.NewOrderEvent(typ, callbacks.OrderData{
		CheckoutSessionID: *sessionID,
		PermalinkURL:      permalink,
		Status:            *status,
		Amount:            *amount,
		Currency:          cfg.Checkout.Currency,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := callbacks.SendOnce(ctx, cfg.Callbacks, event); err != nil {
		log.Fatalf("send event: %v", err)
	}

	fmt.Printf("%s %s delivered to %s\n", event.Type, event.ID, cfg.Callbacks.URL)
}

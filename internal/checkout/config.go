package checkout

import "github.com/CedrosPay/checkout/internal/config"

// ConfigFrom maps the checkout section of the server config onto a machine Config.
func ConfigFrom(cfg config.CheckoutConfig) Config {
	out := Config{
		Currency:           cfg.Currency,
		SessionTTL:         cfg.SessionTTL.Duration,
		OrderPermalinkBase: cfg.OrderPermalinkBase,
		PaymentProvider: PaymentProvider{
			Provider:                cfg.PaymentProvider.Provider,
			SupportedPaymentMethods: append([]string(nil), cfg.PaymentProvider.SupportedPaymentMethods...),
		},
	}
	for _, l := range cfg.Links {
		out.Links = append(out.Links, Link{Type: l.Type, URL: l.URL})
	}
	for _, o := range cfg.FulfillmentOptions {
		out.ShippingRates = append(out.ShippingRates, ShippingRate{
			ID:              o.ID,
			Title:           o.Title,
			Subtitle:        o.Subtitle,
			Carrier:         o.Carrier,
			Amount:          o.Amount,
			TaxRateBps:      o.TaxRateBps,
			MinDeliveryDays: o.MinDeliveryDays,
			MaxDeliveryDays: o.MaxDeliveryDays,
			Countries:       append([]string(nil), o.Countries...),
		})
	}
	return out
}

package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 30 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Checkout: CheckoutConfig{
			APIVersion:       DefaultAPIVersion,
			Currency:         "usd",
			SessionTTL:       Duration{Duration: 30 * time.Minute},
			SessionRetention: Duration{Duration: 7 * 24 * time.Hour},
			PaymentProvider: PaymentProviderConfig{
				Provider:                "stripe",
				SupportedPaymentMethods: []string{"card"},
			},
			FulfillmentOptions: []FulfillmentOptionConfig{
				{
					ID:              "standard",
					Title:           "Standard",
					Subtitle:        "Arrives in 5-7 business days",
					Carrier:         "USPS",
					Amount:          100,
					MinDeliveryDays: 5,
					MaxDeliveryDays: 7,
				},
				{
					ID:              "express",
					Title:           "Express",
					Subtitle:        "Arrives in 1-2 business days",
					Carrier:         "UPS",
					Amount:          500,
					MinDeliveryDays: 1,
					MaxDeliveryDays: 2,
				},
			},
		},
		Catalog: CatalogConfig{
			Items: map[string]CatalogItem{},
		},
		Storage: StorageConfig{
			Backend:         "memory",
			CleanupInterval: Duration{Duration: 5 * time.Minute},
		},
		Idempotency: IdempotencyConfig{
			TTL:         Duration{Duration: 24 * time.Hour},
			WaitTimeout: Duration{Duration: 10 * time.Second},
			MaxEntries:  10000,
		},
		Vault: VaultConfig{
			APIVersion:      DefaultAPIVersion,
			CleanupInterval: Duration{Duration: time.Hour},
			Retention:       Duration{Duration: 24 * time.Hour},
		},
		Payments: PaymentsConfig{
			Processor: "mock",
			Stripe:    StripeConfig{Mode: "test"},
		},
		Callbacks: CallbacksConfig{
			Headers:   make(map[string]string),
			Timeout:   Duration{Duration: 3 * time.Second},
			QueueSize: 1024,
			Workers:   4,
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     5,
				InitialInterval: Duration{Duration: 1 * time.Second},
				MaxInterval:     Duration{Duration: 5 * time.Minute},
				Multiplier:      2.0,
			},
			DLQPath: "./data/webhook-dlq.json",
		},
		RateLimit: RateLimitConfig{
			// Generous limits - designed to prevent abuse, not restrict legitimate agents
			GlobalEnabled: true,
			GlobalLimit:   1000,
			GlobalWindow:  Duration{Duration: 1 * time.Minute},
			PerKeyEnabled: true,
			PerKeyLimit:   120,
			PerKeyWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:  true,
			PerIPLimit:    120,
			PerIPWindow:   Duration{Duration: 1 * time.Minute},
		},
		Auth: AuthConfig{
			APIKeys: make(map[string]string),
			MaxSkew: Duration{Duration: 5 * time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			StripeAPI: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Webhook: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
	}
}

// DefaultAPIVersion is the protocol version served when none is configured.
const DefaultAPIVersion = "2025-09-29"

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

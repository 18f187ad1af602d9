package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/CedrosPay/checkout/internal/money"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Payments.Processor == "" {
		c.Payments.Processor = "mock"
	}
	if c.Payments.Stripe.Mode == "" {
		c.Payments.Stripe.Mode = "test"
	}
	if c.Checkout.APIVersion == "" {
		c.Checkout.APIVersion = DefaultAPIVersion
	}
	if c.Vault.APIVersion == "" {
		c.Vault.APIVersion = DefaultAPIVersion
	}
	if c.Checkout.SessionTTL.Duration <= 0 {
		c.Checkout.SessionTTL = Duration{Duration: 30 * time.Minute}
	}
	if c.Checkout.SessionRetention.Duration <= 0 {
		c.Checkout.SessionRetention = Duration{Duration: 7 * 24 * time.Hour}
	}
	if c.Storage.CleanupInterval.Duration <= 0 {
		c.Storage.CleanupInterval = Duration{Duration: 5 * time.Minute}
	}
	if c.Vault.CleanupInterval.Duration <= 0 {
		c.Vault.CleanupInterval = Duration{Duration: time.Hour}
	}
	if c.Idempotency.MaxEntries <= 0 {
		c.Idempotency.MaxEntries = 10000
	}
	if c.Idempotency.TTL.Duration <= 0 {
		c.Idempotency.TTL = Duration{Duration: 24 * time.Hour}
	}
	if c.Idempotency.WaitTimeout.Duration <= 0 {
		c.Idempotency.WaitTimeout = Duration{Duration: 10 * time.Second}
	}
	if c.Vault.Retention.Duration <= 0 {
		c.Vault.Retention = Duration{Duration: 24 * time.Hour}
	}
	if c.Callbacks.Timeout.Duration == 0 {
		c.Callbacks.Timeout = Duration{Duration: 3 * time.Second}
	}
	if c.Callbacks.Headers == nil {
		c.Callbacks.Headers = make(map[string]string)
	}
	if c.Callbacks.Workers <= 0 {
		c.Callbacks.Workers = 4
	}
	if c.Callbacks.QueueSize <= 0 {
		c.Callbacks.QueueSize = 1024
	}
	if c.Auth.MaxSkew.Duration <= 0 {
		c.Auth.MaxSkew = Duration{Duration: 5 * time.Minute}
	}
	if c.Checkout.PaymentProvider.Provider == "" {
		c.Checkout.PaymentProvider.Provider = "stripe"
	}
	if len(c.Checkout.PaymentProvider.SupportedPaymentMethods) == 0 {
		c.Checkout.PaymentProvider.SupportedPaymentMethods = []string{"card"}
	}
	c.Checkout.Currency = strings.ToLower(strings.TrimSpace(c.Checkout.Currency))
	if c.Callbacks.Retry.Enabled {
		if c.Callbacks.Retry.InitialInterval.Duration <= 0 {
			c.Callbacks.Retry.InitialInterval = Duration{Duration: time.Second}
		}
		if c.Callbacks.Retry.MaxInterval.Duration <= 0 {
			c.Callbacks.Retry.MaxInterval = Duration{Duration: 5 * time.Minute}
		}
		if c.Callbacks.Retry.Multiplier <= 0 {
			c.Callbacks.Retry.Multiplier = 2.0
		}
	}
	if c.Callbacks.DLQEnabled && c.Callbacks.DLQPath == "" {
		c.Callbacks.DLQPath = "./data/webhook-dlq.json"
	}
	applyBreakerDefaults(&c.CircuitBreaker.StripeAPI)
	applyBreakerDefaults(&c.CircuitBreaker.Webhook)

	// Catalog source follows the storage backend unless set explicitly,
	// so a single storage.backend switch moves everything to one database.
	if c.Catalog.Source == "" {
		switch c.Storage.Backend {
		case "postgres":
			c.Catalog.Source = "postgres"
		case "mongodb":
			c.Catalog.Source = "mongodb"
		default:
			c.Catalog.Source = "yaml"
		}
	}
	switch c.Catalog.Source {
	case "postgres":
		if c.Catalog.PostgresURL == "" {
			c.Catalog.PostgresURL = c.Storage.PostgresURL
		}
		if c.Catalog.PostgresTableName == "" {
			c.Catalog.PostgresTableName = c.Storage.SchemaMapping.Items.TableName
		}
		if c.Catalog.PostgresPool == (PostgresPoolConfig{}) {
			c.Catalog.PostgresPool = c.Storage.PostgresPool
		}
	case "mongodb":
		if c.Catalog.MongoDBURL == "" {
			c.Catalog.MongoDBURL = c.Storage.MongoDBURL
		}
		if c.Catalog.MongoDBDatabase == "" {
			c.Catalog.MongoDBDatabase = c.Storage.MongoDBDatabase
		}
		if c.Catalog.MongoDBCollection == "" {
			c.Catalog.MongoDBCollection = c.Storage.SchemaMapping.Items.TableName
		}
	}

	for key, item := range c.Catalog.Items {
		if item.ItemID == "" {
			item.ItemID = key
		}
		if item.Currency == "" {
			item.Currency = c.Checkout.Currency
		}
		item.Currency = strings.ToLower(item.Currency)
		c.Catalog.Items[key] = item
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	if !money.ValidCurrency(c.Checkout.Currency) {
		errs = append(errs, fmt.Sprintf("checkout.currency %q must be a 3-letter ISO 4217 code", c.Checkout.Currency))
	}
	if c.Checkout.OrderPermalinkBase != "" {
		if _, err := url.ParseRequestURI(c.Checkout.OrderPermalinkBase); err != nil {
			errs = append(errs, fmt.Sprintf("checkout.order_permalink_base: %v", err))
		}
	}
	seen := make(map[string]bool)
	for i, opt := range c.Checkout.FulfillmentOptions {
		if opt.ID == "" {
			errs = append(errs, fmt.Sprintf("checkout.fulfillment_options[%d].id is required", i))
			continue
		}
		if seen[opt.ID] {
			errs = append(errs, fmt.Sprintf("checkout.fulfillment_options id %q is duplicated", opt.ID))
		}
		seen[opt.ID] = true
		if opt.Amount < 0 || opt.TaxRateBps < 0 {
			errs = append(errs, fmt.Sprintf("checkout.fulfillment_options %q must not have negative amount or tax rate", opt.ID))
		}
	}

	switch c.Catalog.Source {
	case "yaml":
		if len(c.Catalog.Items) == 0 {
			errs = append(errs, "catalog.items must define at least one item when source is 'yaml'")
		}
		for name, item := range c.Catalog.Items {
			if item.UnitAmount < 0 || item.Discount < 0 || item.TaxRateBps < 0 {
				errs = append(errs, fmt.Sprintf("catalog.item %q must not have negative amounts", name))
			}
			if item.Discount > item.UnitAmount {
				errs = append(errs, fmt.Sprintf("catalog.item %q discount exceeds unit_amount", name))
			}
		}
	case "postgres":
		if c.Catalog.PostgresURL == "" {
			errs = append(errs, "catalog.postgres_url is required when source is 'postgres'")
		}
	case "mongodb":
		if c.Catalog.MongoDBURL == "" {
			errs = append(errs, "catalog.mongodb_url is required when source is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("catalog.source %q must be yaml, postgres, or mongodb", c.Catalog.Source))
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required when backend is 'postgres'")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, "storage.mongodb_url is required when backend is 'mongodb'")
		}
		if c.Storage.MongoDBDatabase == "" {
			errs = append(errs, "storage.mongodb_database is required when backend is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q must be memory, postgres, or mongodb", c.Storage.Backend))
	}

	switch c.Payments.Processor {
	case "mock":
	case "stripe":
		if c.Payments.Stripe.SecretKey == "" {
			errs = append(errs, "payments.stripe.secret_key is required when processor is 'stripe'")
		}
	default:
		errs = append(errs, fmt.Sprintf("payments.processor %q must be stripe or mock", c.Payments.Processor))
	}

	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		errs = append(errs, "auth.api_keys must contain at least one key when auth is enabled")
	}
	if c.Callbacks.Retry.Enabled && c.Callbacks.Retry.MaxAttempts <= 0 {
		errs = append(errs, "callbacks.retry.max_attempts must be positive when retry is enabled")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func applyBreakerDefaults(b *BreakerServiceConfig) {
	if b.MaxRequests == 0 {
		b.MaxRequests = 3
	}
	if b.Interval.Duration == 0 {
		b.Interval = Duration{Duration: 60 * time.Second}
	}
	if b.Timeout.Duration == 0 {
		b.Timeout = Duration{Duration: 30 * time.Second}
	}
	if b.ConsecutiveFailures == 0 {
		b.ConsecutiveFailures = 5
	}
	if b.FailureRatio == 0 {
		b.FailureRatio = 0.5
	}
	if b.MinRequests == 0 {
		b.MinRequests = 10
	}
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}

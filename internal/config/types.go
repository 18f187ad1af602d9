package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Checkout       CheckoutConfig       `yaml:"checkout"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	Storage        StorageConfig        `yaml:"storage"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
	Vault          VaultConfig          `yaml:"vault"`
	Payments       PaymentsConfig       `yaml:"payments"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Auth           AuthConfig           `yaml:"auth"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/acp")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional bearer key protecting /metrics
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// CheckoutConfig holds checkout session behaviour.
type CheckoutConfig struct {
	APIVersion         string                    `yaml:"api_version"`          // Required API-Version header value
	Currency           string                    `yaml:"currency"`             // Session currency (lowercase ISO 4217)
	SessionTTL         Duration                  `yaml:"session_ttl"`          // Absolute session lifetime (default: 30m)
	SessionRetention   Duration                  `yaml:"session_retention"`    // How long finished sessions are kept (default: 168h)
	MerchantID         string                    `yaml:"merchant_id"`          // Included in delegated allowances
	OrderPermalinkBase string                    `yaml:"order_permalink_base"` // Order URL prefix, order id is appended
	PaymentProvider    PaymentProviderConfig     `yaml:"payment_provider"`
	Links              []LinkConfig              `yaml:"links"`
	FulfillmentOptions []FulfillmentOptionConfig `yaml:"fulfillment_options"`

	// Older versions still accepted, answered with Deprecation/Sunset headers
	DeprecatedAPIVersions []DeprecatedVersionConfig `yaml:"deprecated_api_versions"`
}

// DeprecatedVersionConfig keeps an old API-Version working until its sunset.
type DeprecatedVersionConfig struct {
	Version string `yaml:"version"`
	Sunset  string `yaml:"sunset"` // HTTP date, e.g. "Tue, 31 Mar 2026 00:00:00 GMT"
	Message string `yaml:"message"`
}

// PaymentProviderConfig is advertised on every session.
type PaymentProviderConfig struct {
	Provider                string   `yaml:"provider"`
	SupportedPaymentMethods []string `yaml:"supported_payment_methods"`
}

// LinkConfig is a merchant policy link (terms_of_use, privacy_policy, seller_shop_policies).
type LinkConfig struct {
	Type string `yaml:"type"`
	URL  string `yaml:"url"`
}

// FulfillmentOptionConfig defines a shipping option offered once an address is known.
type FulfillmentOptionConfig struct {
	ID              string   `yaml:"id"`
	Title           string   `yaml:"title"`
	Subtitle        string   `yaml:"subtitle"`
	Carrier         string   `yaml:"carrier"`
	Amount          int64    `yaml:"amount"`            // Minor units
	TaxRateBps      int64    `yaml:"tax_rate_bps"`      // Tax on the shipping amount in basis points
	MinDeliveryDays int      `yaml:"min_delivery_days"` // Earliest delivery offset
	MaxDeliveryDays int      `yaml:"max_delivery_days"` // Latest delivery offset
	Countries       []string `yaml:"countries"`         // ISO 3166-1 alpha-2; empty means everywhere
}

// CatalogConfig selects the catalog provider backend.
type CatalogConfig struct {
	Source            string                 `yaml:"source"`    // "yaml", "postgres", or "mongodb"
	CacheTTL          Duration               `yaml:"cache_ttl"` // How long to cache item lookups (0 = no cache)
	PostgresURL       string                 `yaml:"postgres_url"`
	PostgresTableName string                 `yaml:"postgres_table_name"`
	MongoDBURL        string                 `yaml:"mongodb_url"`
	MongoDBDatabase   string                 `yaml:"mongodb_database"`
	MongoDBCollection string                 `yaml:"mongodb_collection"`
	Items             map[string]CatalogItem `yaml:"items"` // Only used when Source = "yaml"
	PostgresPool      PostgresPoolConfig     `yaml:"postgres_pool"`
}

// CatalogItem defines a purchasable item in YAML configuration.
// All monetary amounts are minor units.
type CatalogItem struct {
	ItemID     string            `yaml:"item_id"`
	Title      string            `yaml:"title"`
	UnitAmount int64             `yaml:"unit_amount"`
	Discount   int64             `yaml:"discount"` // Per-unit discount
	Currency   string            `yaml:"currency"`
	TaxRateBps int64             `yaml:"tax_rate_bps"`
	Available  *bool             `yaml:"available"` // nil means available
	Metadata   map[string]string `yaml:"metadata"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// StorageConfig holds storage backend configuration for sessions, tokens and idempotency records.
type StorageConfig struct {
	Backend         string              `yaml:"backend"` // "memory", "postgres", or "mongodb"
	PostgresURL     string              `yaml:"postgres_url"`
	MongoDBURL      string              `yaml:"mongodb_url"`
	MongoDBDatabase string              `yaml:"mongodb_database"`
	PostgresPool    PostgresPoolConfig  `yaml:"postgres_pool"`
	CleanupInterval Duration            `yaml:"cleanup_interval"` // How often memory stores evict expired records (default: 5m)
	SchemaMapping   SchemaMappingConfig `yaml:"schema_mapping"`
}

// SchemaMappingConfig holds table/collection name mappings for custom schemas.
type SchemaMappingConfig struct {
	Sessions    TableMappingConfig `yaml:"sessions"`
	Tokens      TableMappingConfig `yaml:"tokens"`
	Idempotency TableMappingConfig `yaml:"idempotency"`
	Items       TableMappingConfig `yaml:"items"`
}

// TableMappingConfig defines a single table/collection mapping.
type TableMappingConfig struct {
	TableName string `yaml:"table_name"`
}

// IdempotencyConfig controls request deduplication.
type IdempotencyConfig struct {
	TTL         Duration `yaml:"ttl"`          // Record retention (default: 24h)
	WaitTimeout Duration `yaml:"wait_timeout"` // How long a duplicate waits for the in-flight original (default: 10s)
	MaxEntries  int      `yaml:"max_entries"`  // Memory backend LRU bound (default: 10000)
}

// VaultConfig controls the delegated payment vault.
type VaultConfig struct {
	APIVersion      string   `yaml:"api_version"`      // Required API-Version on delegate_payment
	CleanupInterval Duration `yaml:"cleanup_interval"` // How often expired tokens are swept (default: 1h)
	Retention       Duration `yaml:"retention"`        // How long past expiry a token is kept (default: 24h)
}

// PaymentsConfig selects the tokenizer/charger implementation.
type PaymentsConfig struct {
	Processor string       `yaml:"processor"` // "stripe" or "mock"
	Stripe    StripeConfig `yaml:"stripe"`
	Mock      MockConfig   `yaml:"mock"`
}

// MockConfig configures the in-process processor used for local runs and tests.
type MockConfig struct {
	DeclineCards []string `yaml:"decline_cards"` // Card numbers whose charges fail (default: 4000000000000002)
}

// StripeConfig holds Stripe integration configuration.
type StripeConfig struct {
	SecretKey string `yaml:"secret_key"`
	Mode      string `yaml:"mode"` // live | test
}

// CallbacksConfig holds order webhook configuration.
type CallbacksConfig struct {
	URL           string            `yaml:"url"`
	Headers       map[string]string `yaml:"headers"`
	SigningSecret string            `yaml:"signing_secret"` // HMAC-SHA256 secret for the Merchant-Signature header
	Timeout       Duration          `yaml:"timeout"`
	QueueSize     int               `yaml:"queue_size"` // Buffered events before overflow goes to the DLQ (default: 1024)
	Workers       int               `yaml:"workers"`    // Concurrent deliveries (default: 4)
	Retry         RetryConfig       `yaml:"retry"`
	DLQEnabled    bool              `yaml:"dlq_enabled"` // Persist exhausted events
	DLQPath       string            `yaml:"dlq_path"`    // File path for DLQ storage (default: ./data/webhook-dlq.json)
}

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`          // Enable retry with exponential backoff (default: true)
	MaxAttempts     int      `yaml:"max_attempts"`     // Maximum attempts (default: 5)
	InitialInterval Duration `yaml:"initial_interval"` // Initial backoff interval (default: 1s)
	MaxInterval     Duration `yaml:"max_interval"`     // Maximum backoff interval (default: 5m)
	Multiplier      float64  `yaml:"multiplier"`       // Backoff multiplier (default: 2.0)
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-API-key limiting (identified by the bearer token)
	PerKeyEnabled bool     `yaml:"per_key_enabled"`
	PerKeyLimit   int      `yaml:"per_key_limit"`
	PerKeyWindow  Duration `yaml:"per_key_window"`

	// Per-IP limiting (fallback when no key is presented)
	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// AuthConfig holds bearer key authentication and request signing.
type AuthConfig struct {
	Enabled       bool              `yaml:"enabled"`        // Require Authorization: Bearer on protocol routes
	APIKeys       map[string]string `yaml:"api_keys"`       // key -> tier (free, pro, enterprise, partner)
	SigningSecret string            `yaml:"signing_secret"` // Verify Signature/Timestamp headers when set
	MaxSkew       Duration          `yaml:"max_skew"`       // Allowed Timestamp drift (default: 5m)
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	StripeAPI BreakerServiceConfig `yaml:"stripe_api"`
	Webhook   BreakerServiceConfig `yaml:"webhook"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}

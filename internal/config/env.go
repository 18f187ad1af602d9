package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use CHECKOUT_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "CHECKOUT_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "CHECKOUT_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "CHECKOUT_ADMIN_METRICS_API_KEY")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging
	setIfEnv(&c.Logging.Level, "CHECKOUT_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "CHECKOUT_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "CHECKOUT_ENVIRONMENT")

	// Checkout
	setIfEnv(&c.Checkout.APIVersion, "CHECKOUT_API_VERSION")
	setIfEnv(&c.Checkout.Currency, "CHECKOUT_CURRENCY")
	setIfEnv(&c.Checkout.MerchantID, "CHECKOUT_MERCHANT_ID")
	setIfEnv(&c.Checkout.OrderPermalinkBase, "CHECKOUT_ORDER_PERMALINK_BASE")
	setDurationIfEnv(&c.Checkout.SessionTTL, "CHECKOUT_SESSION_TTL")
	setDurationIfEnv(&c.Checkout.SessionRetention, "CHECKOUT_SESSION_RETENTION")

	// Catalog
	setIfEnv(&c.Catalog.Source, "CHECKOUT_CATALOG_SOURCE")
	setIfEnv(&c.Catalog.PostgresURL, "CHECKOUT_CATALOG_POSTGRES_URL")
	setIfEnv(&c.Catalog.MongoDBURL, "CHECKOUT_CATALOG_MONGODB_URL")
	setIfEnv(&c.Catalog.MongoDBDatabase, "CHECKOUT_CATALOG_MONGODB_DATABASE")
	setIfEnv(&c.Catalog.MongoDBCollection, "CHECKOUT_CATALOG_MONGODB_COLLECTION")
	setDurationIfEnv(&c.Catalog.CacheTTL, "CHECKOUT_CATALOG_CACHE_TTL")

	// Storage
	setIfEnv(&c.Storage.Backend, "CHECKOUT_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "CHECKOUT_STORAGE_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "CHECKOUT_STORAGE_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "CHECKOUT_STORAGE_MONGODB_DATABASE")
	setDurationIfEnv(&c.Storage.CleanupInterval, "CHECKOUT_STORAGE_CLEANUP_INTERVAL")

	// Idempotency and vault
	setDurationIfEnv(&c.Idempotency.TTL, "CHECKOUT_IDEMPOTENCY_TTL")
	setDurationIfEnv(&c.Idempotency.WaitTimeout, "CHECKOUT_IDEMPOTENCY_WAIT_TIMEOUT")
	setIntIfEnv(&c.Idempotency.MaxEntries, "CHECKOUT_IDEMPOTENCY_MAX_ENTRIES")
	setIfEnv(&c.Vault.APIVersion, "CHECKOUT_VAULT_API_VERSION")
	setDurationIfEnv(&c.Vault.CleanupInterval, "CHECKOUT_VAULT_CLEANUP_INTERVAL")
	setDurationIfEnv(&c.Vault.Retention, "CHECKOUT_VAULT_RETENTION")

	// Payments
	setIfEnv(&c.Payments.Processor, "CHECKOUT_PAYMENTS_PROCESSOR")
	setIfEnv(&c.Payments.Stripe.SecretKey, "CHECKOUT_STRIPE_SECRET_KEY")
	setIfEnv(&c.Payments.Stripe.Mode, "CHECKOUT_STRIPE_MODE")

	// Callbacks
	setIfEnv(&c.Callbacks.URL, "CHECKOUT_CALLBACK_URL")
	setIfEnv(&c.Callbacks.SigningSecret, "CHECKOUT_CALLBACK_SIGNING_SECRET")
	setDurationIfEnv(&c.Callbacks.Timeout, "CHECKOUT_CALLBACK_TIMEOUT")
	setIntIfEnv(&c.Callbacks.Workers, "CHECKOUT_CALLBACK_WORKERS")
	setIntIfEnv(&c.Callbacks.QueueSize, "CHECKOUT_CALLBACK_QUEUE_SIZE")
	setBoolIfEnv(&c.Callbacks.DLQEnabled, "CHECKOUT_CALLBACK_DLQ_ENABLED")
	setIfEnv(&c.Callbacks.DLQPath, "CHECKOUT_CALLBACK_DLQ_PATH")
	// Load callback headers (CHECKOUT_CALLBACK_HEADER_*)
	for name, value := range envWithPrefix("CHECKOUT_CALLBACK_HEADER_") {
		if c.Callbacks.Headers == nil {
			c.Callbacks.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.Callbacks.Headers[headerName] = value
	}

	// Auth
	setBoolIfEnv(&c.Auth.Enabled, "CHECKOUT_AUTH_ENABLED")
	setIfEnv(&c.Auth.SigningSecret, "CHECKOUT_AUTH_SIGNING_SECRET")
	setDurationIfEnv(&c.Auth.MaxSkew, "CHECKOUT_AUTH_MAX_SKEW")
	// Load API keys (CHECKOUT_API_KEY_<KEY>=<tier>)
	for name, tier := range envWithPrefix("CHECKOUT_API_KEY_") {
		if c.Auth.APIKeys == nil {
			c.Auth.APIKeys = make(map[string]string)
		}
		// CHECKOUT_API_KEY_AGENT_ABC123=partner -> key: "agent_abc123", tier: "partner"
		c.Auth.APIKeys[strings.ToLower(name)] = strings.TrimSpace(tier)
	}
}

// envWithPrefix returns environment variables starting with prefix, keyed by the remainder.
func envWithPrefix(prefix string) map[string]string {
	out := make(map[string]string)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], prefix)
		if name == "" {
			continue
		}
		out[name] = parts[1]
	}
	return out
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable, ignoring malformed values.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/metrics"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrItemNotFound is returned when an item id is unknown to the catalog.
var ErrItemNotFound = errors.New("catalog: item not found")

// Item is a purchasable catalog entry priced in minor units.
type Item struct {
	ID         string
	Title      string
	UnitAmount int64 // per-unit price before discount
	Discount   int64 // per-unit discount
	Currency   string
	TaxRateBps int64
	Available  bool
	Metadata   map[string]string
}

// Provider resolves item ids to priced items.
type Provider interface {
	// Lookup returns the item or ErrItemNotFound.
	Lookup(ctx context.Context, itemID string) (Item, error)

	// List returns all items, ordered by id.
	List(ctx context.Context) ([]Item, error)

	Close() error
}

// Backends holds shared connections a provider may reuse. Nil fields make
// the provider open its own connection.
type Backends struct {
	DB      *sql.DB
	MongoDB *mongo.Database
	Metrics *metrics.Metrics
}

// NewProvider builds the provider selected by cfg.Source, wrapped in a
// cache when cfg.CacheTTL is positive.
func NewProvider(ctx context.Context, cfg config.CatalogConfig, b Backends) (Provider, error) {
	var underlying Provider

	switch cfg.Source {
	case "", "yaml":
		underlying = NewYAMLProvider(cfg.Items)
	case "postgres":
		var (
			pg  *PostgresProvider
			err error
		)
		if b.DB != nil {
			pg, err = NewPostgresProviderWithDB(b.DB, cfg.PostgresTableName)
		} else {
			pg, err = NewPostgresProvider(cfg.PostgresURL, cfg.PostgresTableName, cfg.PostgresPool)
		}
		if err != nil {
			return nil, err
		}
		underlying = pg.WithMetrics(b.Metrics)
	case "mongodb":
		if b.MongoDB == nil {
			return nil, errors.New("catalog: mongodb source requires a database handle")
		}
		mp, err := NewMongoDBProvider(ctx, b.MongoDB, cfg.MongoDBCollection)
		if err != nil {
			return nil, err
		}
		underlying = mp
	default:
		return nil, fmt.Errorf("catalog: unknown source %q", cfg.Source)
	}

	if ttl := cfg.CacheTTL.Duration; ttl > 0 {
		return NewCachedProvider(underlying, ttl), nil
	}
	return underlying, nil
}

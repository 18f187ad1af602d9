package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/dbpool"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/lib/pq"
)

const defaultItemsTable = "catalog_items"

// maxIDLength bounds item ids accepted from clients before they reach SQL.
const maxIDLength = 255

// PostgresProvider reads items from a PostgreSQL table.
type PostgresProvider struct {
	db        *sql.DB
	ownsDB    bool
	tableName string
	metrics   *metrics.Metrics
}

// NewPostgresProvider opens its own connection pool.
func NewPostgresProvider(connectionString, tableName string, poolConfig config.PostgresPoolConfig) (*PostgresProvider, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, poolConfig)

	p, err := NewPostgresProviderWithDB(db, tableName)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	p.ownsDB = true
	return p, nil
}

// NewPostgresProviderWithDB uses a shared pool and creates the table if missing.
func NewPostgresProviderWithDB(db *sql.DB, tableName string) (*PostgresProvider, error) {
	if tableName == "" {
		tableName = defaultItemsTable
	}
	if err := dbpool.ValidateTableName(tableName); err != nil {
		return nil, err
	}
	p := &PostgresProvider{db: db, tableName: tableName}
	if err := p.createTable(); err != nil {
		return nil, err
	}
	return p, nil
}

// WithMetrics adds query timing.
func (p *PostgresProvider) WithMetrics(m *metrics.Metrics) *PostgresProvider {
	p.metrics = m
	return p
}

func (p *PostgresProvider) createTable() error {
	ctx, cancel := dbpool.WithQueryTimeout(context.Background())
	defer cancel()

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			unit_amount BIGINT NOT NULL CHECK (unit_amount >= 0),
			discount BIGINT NOT NULL DEFAULT 0 CHECK (discount >= 0),
			currency TEXT NOT NULL,
			tax_rate_bps BIGINT NOT NULL DEFAULT 0,
			available BOOLEAN NOT NULL DEFAULT true,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, pq.QuoteIdentifier(p.tableName))

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", p.tableName, err)
	}
	return nil
}

const selectItemColumns = `id, title, unit_amount, discount, currency, tax_rate_bps, available, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var item Item
	var metadataJSON []byte
	if err := row.Scan(&item.ID, &item.Title, &item.UnitAmount, &item.Discount,
		&item.Currency, &item.TaxRateBps, &item.Available, &metadataJSON); err != nil {
		return Item{}, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &item.Metadata); err != nil {
			return Item{}, fmt.Errorf("decode metadata for %s: %w", item.ID, err)
		}
	}
	return item, nil
}

// Lookup implements Provider.
func (p *PostgresProvider) Lookup(ctx context.Context, itemID string) (Item, error) {
	defer metrics.MeasureDBQuery(p.metrics, "catalog_lookup", "postgres")()

	if len(itemID) == 0 || len(itemID) > maxIDLength {
		return Item{}, ErrItemNotFound
	}

	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectItemColumns, pq.QuoteIdentifier(p.tableName))
	item, err := scanItem(p.db.QueryRowContext(ctx, query, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("query item: %w", err)
	}
	return item, nil
}

// List implements Provider.
func (p *PostgresProvider) List(ctx context.Context) ([]Item, error) {
	defer metrics.MeasureDBQuery(p.metrics, "catalog_list", "postgres")()

	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, selectItemColumns, pq.QuoteIdentifier(p.tableName))
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Close closes the pool if this provider opened it.
func (p *PostgresProvider) Close() error {
	if p.ownsDB {
		return p.db.Close()
	}
	return nil
}

package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/CedrosPay/checkout/internal/config"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DefaultQueryTimeout is the maximum time allowed for a single database call.
const DefaultQueryTimeout = 5 * time.Second

var validTableNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SharedPool manages a single shared PostgreSQL connection pool.
// Session, token, idempotency, and catalog stores use the same pool.
type SharedPool struct {
	db *sql.DB
}

// NewSharedPool creates a new shared PostgreSQL connection pool.
func NewSharedPool(connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	return &SharedPool{db: db}, nil
}

// DB returns the underlying *sql.DB for use by stores.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// Close closes the shared connection pool.
func (p *SharedPool) Close() error {
	return p.db.Close()
}

// WithQueryTimeout adds DefaultQueryTimeout to ctx unless it already has a deadline.
func WithQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

// ValidateTableName ensures a configured table or collection name is safe to
// interpolate into SQL.
func ValidateTableName(name string) error {
	if !validTableNameRegex.MatchString(name) {
		return fmt.Errorf("invalid table name: %s (must be alphanumeric with underscores only)", name)
	}
	return nil
}

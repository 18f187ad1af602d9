// Package storage holds the database-backed checkout session and delegated
// token stores, and opens every store the server needs for one backend.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CedrosPay/checkout/internal/checkout"
	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/dbpool"
	"github.com/CedrosPay/checkout/internal/idempotency"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/vault"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrDuplicateID is returned when a record with the same id already exists.
	ErrDuplicateID = errors.New("storage: id already exists")

	// ErrConcurrentModification is returned when an optimistic update keeps
	// losing to concurrent writers.
	ErrConcurrentModification = errors.New("storage: concurrent modification")
)

// SessionPruner is implemented by session stores that can drop finished sessions.
type SessionPruner interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Backends bundles the stores for one configured backend.
type Backends struct {
	Sessions    checkout.Store
	Tokens      vault.Store
	Idempotency idempotency.Store

	// Shared connections, nil for the memory backend. The catalog reuses them.
	DB      *sql.DB
	MongoDB *mongo.Database

	closers []func() error
}

// Close closes every store, then the shared connection.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ping checks the shared database connection. The memory backend is always healthy.
func (b *Backends) Ping(ctx context.Context) error {
	switch {
	case b.DB != nil:
		return b.DB.PingContext(ctx)
	case b.MongoDB != nil:
		return b.MongoDB.Client().Ping(ctx, nil)
	default:
		return nil
	}
}

// Open builds the session, token and idempotency stores for cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Backends, error) {
	storageCfg := cfg.Storage
	mapping := storageCfg.SchemaMapping

	switch storageCfg.Backend {
	case "", "memory":
		sessions := checkout.NewMemoryStore()
		tokens := vault.NewMemoryStore()
		records := idempotency.NewMemoryStoreWithSize(cfg.Idempotency.MaxEntries, storageCfg.CleanupInterval.Duration)
		b := &Backends{Sessions: sessions, Tokens: tokens, Idempotency: records}
		b.closers = []func() error{records.Close, tokens.Close, sessions.Close}
		return b, nil

	case "postgres":
		pool, err := dbpool.NewSharedPool(storageCfg.PostgresURL, storageCfg.PostgresPool)
		if err != nil {
			return nil, err
		}
		b := &Backends{DB: pool.DB(), closers: []func() error{pool.Close}}

		sessions, err := NewPostgresSessionStore(pool.DB(), mapping.Sessions.TableName)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("session store: %w", err)
		}
		tokens, err := NewPostgresTokenStore(pool.DB(), mapping.Tokens.TableName)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("token store: %w", err)
		}
		records, err := idempotency.NewPostgresStore(pool.DB(), mapping.Idempotency.TableName)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("idempotency store: %w", err)
		}
		b.Sessions = sessions.WithMetrics(m)
		b.Tokens = tokens.WithMetrics(m)
		b.Idempotency = records.WithMetrics(m)
		return b, nil

	case "mongodb":
		shared, err := dbpool.NewSharedMongo(ctx, storageCfg.MongoDBURL, storageCfg.MongoDBDatabase)
		if err != nil {
			return nil, err
		}
		db := shared.Database()
		b := &Backends{MongoDB: db, closers: []func() error{shared.Close}}

		sessions, err := NewMongoDBSessionStore(ctx, db, mapping.Sessions.TableName)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("session store: %w", err)
		}
		tokens, err := NewMongoDBTokenStore(ctx, db, mapping.Tokens.TableName)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("token store: %w", err)
		}
		records, err := idempotency.NewMongoDBStore(ctx, db, mapping.Idempotency.TableName)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("idempotency store: %w", err)
		}
		b.Sessions = sessions.WithMetrics(m)
		b.Tokens = tokens.WithMetrics(m)
		b.Idempotency = records.WithMetrics(m)
		return b, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", storageCfg.Backend)
	}
}

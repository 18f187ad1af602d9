package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CedrosPay/checkout/internal/dbpool"
	"github.com/CedrosPay/checkout/internal/metrics"
)

// PostgresStore implements Store using PostgreSQL. Reservation relies on the
// primary key: INSERT ... ON CONFLICT only takes over an expired row.
type PostgresStore struct {
	db        *sql.DB
	tableName string
	metrics   *metrics.Metrics
}

// NewPostgresStore creates the store on a shared pool and ensures its table exists.
func NewPostgresStore(db *sql.DB, tableName string) (*PostgresStore, error) {
	if tableName == "" {
		tableName = "idempotency_records"
	}
	if err := dbpool.ValidateTableName(tableName); err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db, tableName: tableName}
	if err := s.createTable(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// WithMetrics enables query timing.
func (s *PostgresStore) WithMetrics(m *metrics.Metrics) *PostgresStore {
	s.metrics = m
	return s
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			scope TEXT NOT NULL,
			idem_key TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			reservation TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			status_code INTEGER,
			content_type TEXT,
			body BYTEA,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (scope, idem_key)
		);
		ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS reservation TEXT NOT NULL DEFAULT '';
		CREATE INDEX IF NOT EXISTS idx_%[1]s_expires_at ON %[1]s (expires_at);
	`, s.tableName)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create %s table: %w", s.tableName, err)
	}
	return nil
}

// Reserve implements Store.
func (s *PostgresStore) Reserve(ctx context.Context, rec Record) (*Record, bool, error) {
	defer metrics.MeasureDBQuery(s.metrics, "idempotency_reserve", "postgres")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (scope, idem_key, fingerprint, reservation, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (scope, idem_key) DO UPDATE
			SET fingerprint = EXCLUDED.fingerprint,
				reservation = EXCLUDED.reservation,
				status = EXCLUDED.status,
				status_code = NULL,
				content_type = NULL,
				body = NULL,
				created_at = EXCLUDED.created_at,
				expires_at = EXCLUDED.expires_at
			WHERE %[1]s.expires_at < EXCLUDED.created_at
		RETURNING scope
	`, s.tableName)

	var scope string
	err := s.db.QueryRowContext(ctx, query,
		rec.Scope, rec.Key, rec.Fingerprint, rec.Token, string(StatusInFlight), rec.CreatedAt.UTC(), rec.ExpiresAt.UTC(),
	).Scan(&scope)
	if err == nil {
		return nil, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}

	// A live row exists; return it so the guard can compare fingerprints.
	existing, err := s.get(ctx, rec.Scope, rec.Key)
	if errors.Is(err, ErrNotFound) {
		// Released between the insert and the read; the caller polls again.
		return &Record{Scope: rec.Scope, Key: rec.Key, Fingerprint: rec.Fingerprint, Status: StatusInFlight}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Complete implements Store.
func (s *PostgresStore) Complete(ctx context.Context, scope, key, token string, resp Response, expiresAt time.Time) error {
	defer metrics.MeasureDBQuery(s.metrics, "idempotency_complete", "postgres")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $5, status_code = $6, content_type = $7, body = $8, expires_at = $9
		WHERE scope = $1 AND idem_key = $2 AND reservation = $3 AND status = $4
	`, s.tableName)
	result, err := s.db.ExecContext(ctx, query,
		scope, key, token, string(StatusInFlight),
		string(StatusCompleted), resp.StatusCode, resp.ContentType, resp.Body, expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrReservationLost
	}
	return nil
}

// Release implements Store.
func (s *PostgresStore) Release(ctx context.Context, scope, key, token string) error {
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE scope = $1 AND idem_key = $2 AND reservation = $3 AND status = $4`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, scope, key, token, string(StatusInFlight)); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, scope, key string) (*Record, error) {
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()
	return s.get(ctx, scope, key)
}

func (s *PostgresStore) get(ctx context.Context, scope, key string) (*Record, error) {
	query := fmt.Sprintf(`
		SELECT fingerprint, reservation, status, status_code, content_type, body, created_at, expires_at
		FROM %s
		WHERE scope = $1 AND idem_key = $2 AND expires_at >= NOW()
	`, s.tableName)

	rec := Record{Scope: scope, Key: key}
	var (
		status      string
		statusCode  sql.NullInt64
		contentType sql.NullString
		body        []byte
	)
	err := s.db.QueryRowContext(ctx, query, scope, key).Scan(
		&rec.Fingerprint, &rec.Token, &status, &statusCode, &contentType, &body, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	rec.Status = RecordStatus(status)
	if rec.Status == StatusCompleted {
		rec.Response = &Response{
			StatusCode:  int(statusCode.Int64),
			ContentType: contentType.String,
			Body:        body,
		}
	}
	return &rec, nil
}

// DeleteExpired implements Store.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	defer metrics.MeasureDBQuery(s.metrics, "idempotency_delete_expired", "postgres")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < $1`, s.tableName)
	result, err := s.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the shared pool is closed by its owner.
func (s *PostgresStore) Close() error {
	return nil
}

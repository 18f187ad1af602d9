package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CedrosPay/checkout/internal/checkout"
	"github.com/CedrosPay/checkout/internal/dbpool"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/lib/pq"
)

// PostgresSessionStore implements checkout.Store on PostgreSQL. The session
// is stored as a JSONB document next to the columns used for filtering.
type PostgresSessionStore struct {
	db        *sql.DB
	tableName string
	metrics   *metrics.Metrics
}

// NewPostgresSessionStore creates the store on a shared pool and ensures its table exists.
func NewPostgresSessionStore(db *sql.DB, tableName string) (*PostgresSessionStore, error) {
	if tableName == "" {
		tableName = "checkout_sessions"
	}
	if err := dbpool.ValidateTableName(tableName); err != nil {
		return nil, err
	}
	s := &PostgresSessionStore{db: db, tableName: tableName}
	if err := s.createTable(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// WithMetrics enables query timing.
func (s *PostgresSessionStore) WithMetrics(m *metrics.Metrics) *PostgresSessionStore {
	s.metrics = m
	return s
}

func (s *PostgresSessionStore) createTable(ctx context.Context) error {
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			version BIGINT NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_status_expires ON %[1]s (status, expires_at);
	`, s.tableName)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create %s table: %w", s.tableName, err)
	}
	return nil
}

// Create implements checkout.Store.
func (s *PostgresSessionStore) Create(ctx context.Context, session checkout.Session) error {
	defer metrics.MeasureDBQuery(s.metrics, "session_create", "postgres")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	session.Version = 1
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, status, version, data, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.tableName)
	_, err = s.db.ExecContext(ctx, query,
		session.ID, string(session.Status), session.Version, data,
		session.CreatedAt.UTC(), session.UpdatedAt.UTC(), session.ExpiresAt.UTC(),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get implements checkout.Store.
func (s *PostgresSessionStore) Get(ctx context.Context, id string) (checkout.Session, error) {
	defer metrics.MeasureDBQuery(s.metrics, "session_get", "postgres")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT data, version FROM %s WHERE id = $1`, s.tableName)
	return scanSession(s.db.QueryRowContext(ctx, query, id))
}

// Update implements checkout.Store. The row stays locked with SELECT ... FOR
// UPDATE for the whole callback, so fn may call out to a processor. The
// caller's context bounds the transaction instead of the default query
// timeout for that reason.
func (s *PostgresSessionStore) Update(ctx context.Context, id string, fn func(*checkout.Session) error) (checkout.Session, error) {
	defer metrics.MeasureDBQuery(s.metrics, "session_update", "postgres")()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return checkout.Session{}, fmt.Errorf("begin session tx: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`SELECT data, version FROM %s WHERE id = $1 FOR UPDATE`, s.tableName)
	current, err := scanSession(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return checkout.Session{}, err
	}

	working := current.Clone()
	if err := fn(&working); err != nil {
		if errors.Is(err, checkout.ErrUnchanged) {
			return current, nil
		}
		return checkout.Session{}, err
	}
	working.Version = current.Version + 1

	data, err := json.Marshal(working)
	if err != nil {
		return checkout.Session{}, fmt.Errorf("marshal session: %w", err)
	}
	update := fmt.Sprintf(`
		UPDATE %s
		SET status = $2, version = $3, data = $4, updated_at = $5, expires_at = $6
		WHERE id = $1
	`, s.tableName)
	if _, err := tx.ExecContext(ctx, update,
		id, string(working.Status), working.Version, data, working.UpdatedAt.UTC(), working.ExpiresAt.UTC(),
	); err != nil {
		return checkout.Session{}, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return checkout.Session{}, fmt.Errorf("commit session: %w", err)
	}
	return working, nil
}

// DeleteFinishedBefore removes terminal sessions last updated before cutoff.
func (s *PostgresSessionStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	defer metrics.MeasureDBQuery(s.metrics, "session_delete_finished", "postgres")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE status IN ($1, $2) AND updated_at < $3`, s.tableName)
	result, err := s.db.ExecContext(ctx, query,
		string(checkout.StatusCompleted), string(checkout.StatusCanceled), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete finished sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the shared pool is closed by its owner.
func (s *PostgresSessionStore) Close() error {
	return nil
}

func scanSession(row *sql.Row) (checkout.Session, error) {
	var (
		data    []byte
		version int64
	)
	err := row.Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return checkout.Session{}, checkout.ErrSessionNotFound
	}
	if err != nil {
		return checkout.Session{}, fmt.Errorf("get session: %w", err)
	}
	var session checkout.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return checkout.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	session.Version = version
	return session, nil
}

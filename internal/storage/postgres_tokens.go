package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CedrosPay/checkout/internal/dbpool"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/vault"
	"github.com/lib/pq"
)

// PostgresTokenStore implements vault.Store on PostgreSQL. Consumption is a
// single conditional UPDATE, so the row lock arbitrates concurrent redeemers.
type PostgresTokenStore struct {
	db        *sql.DB
	tableName string
	metrics   *metrics.Metrics
}

// NewPostgresTokenStore creates the store on a shared pool and ensures its table exists.
func NewPostgresTokenStore(db *sql.DB, tableName string) (*PostgresTokenStore, error) {
	if tableName == "" {
		tableName = "vault_tokens"
	}
	if err := dbpool.ValidateTableName(tableName); err != nil {
		return nil, err
	}
	s := &PostgresTokenStore{db: db, tableName: tableName}
	if err := s.createTable(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// WithMetrics enables query timing.
func (s *PostgresTokenStore) WithMetrics(m *metrics.Metrics) *PostgresTokenStore {
	s.metrics = m
	return s
}

func (s *PostgresTokenStore) createTable(ctx context.Context) error {
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			credential_ref TEXT NOT NULL,
			reason TEXT NOT NULL,
			max_amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			checkout_session_id TEXT NOT NULL,
			merchant_id TEXT,
			expires_at TIMESTAMPTZ NOT NULL,
			payment_method JSONB NOT NULL,
			risk_signals JSONB,
			metadata JSONB,
			used BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			used_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_expires_at ON %[1]s (expires_at);
	`, s.tableName)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create %s table: %w", s.tableName, err)
	}
	return nil
}

const tokenColumns = `id, credential_ref, reason, max_amount, currency, checkout_session_id, merchant_id,
	expires_at, payment_method, risk_signals, metadata, used, created_at, used_at`

// Create implements vault.Store.
func (s *PostgresTokenStore) Create(ctx context.Context, token vault.Token) error {
	defer metrics.MeasureDBQuery(s.metrics, "token_create", "postgres")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	pm, err := json.Marshal(token.PaymentMethod)
	if err != nil {
		return fmt.Errorf("marshal payment method: %w", err)
	}
	risk, err := json.Marshal(token.RiskSignals)
	if err != nil {
		return fmt.Errorf("marshal risk signals: %w", err)
	}
	meta, err := json.Marshal(token.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.tableName, tokenColumns)
	_, err = s.db.ExecContext(ctx, query,
		token.ID, token.CredentialRef, token.Allowance.Reason, token.Allowance.MaxAmount,
		strings.ToLower(token.Allowance.Currency), token.Allowance.CheckoutSessionID, token.Allowance.MerchantID,
		token.Allowance.ExpiresAt.UTC(), pm, risk, meta, token.Used, token.CreatedAt.UTC(), nullTime(token.UsedAt),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// Get implements vault.Store.
func (s *PostgresTokenStore) Get(ctx context.Context, id string) (vault.Token, error) {
	defer metrics.MeasureDBQuery(s.metrics, "token_get", "postgres")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()
	return s.get(ctx, id)
}

func (s *PostgresTokenStore) get(ctx context.Context, id string) (vault.Token, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, tokenColumns, s.tableName)
	return scanToken(s.db.QueryRowContext(ctx, query, id))
}

// Consume implements vault.Store. When the conditional update matches no
// row the token is read back and vault.Check names the rule it broke.
func (s *PostgresTokenStore) Consume(ctx context.Context, req vault.ConsumeRequest, now time.Time) (vault.Token, error) {
	defer metrics.MeasureDBQuery(s.metrics, "token_consume", "postgres")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET used = TRUE, used_at = $2
		WHERE id = $1
			AND used = FALSE
			AND expires_at >= $2
			AND checkout_session_id = $3
			AND max_amount >= $4
			AND currency = $5
		RETURNING %s
	`, s.tableName, tokenColumns)
	token, err := scanToken(s.db.QueryRowContext(ctx, query,
		req.TokenID, now.UTC(), req.SessionID, req.Amount, strings.ToLower(req.Currency)))
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, vault.ErrInvalidToken) {
		return vault.Token{}, err
	}

	// Check why the update failed
	current, err := s.get(ctx, req.TokenID)
	if err != nil {
		return vault.Token{}, err
	}
	if err := vault.Check(current, req, now); err != nil {
		return vault.Token{}, err
	}
	// Lost a race with a concurrent redeemer between the two statements.
	return vault.Token{}, vault.ErrTokenAlreadyUsed
}

// DeleteExpired implements vault.Store.
func (s *PostgresTokenStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	defer metrics.MeasureDBQuery(s.metrics, "token_delete_expired", "postgres")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < $1`, s.tableName)
	result, err := s.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the shared pool is closed by its owner.
func (s *PostgresTokenStore) Close() error {
	return nil
}

func scanToken(row *sql.Row) (vault.Token, error) {
	var (
		t          vault.Token
		merchantID sql.NullString
		pm         []byte
		risk       []byte
		meta       []byte
		usedAt     sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.CredentialRef, &t.Allowance.Reason, &t.Allowance.MaxAmount, &t.Allowance.Currency,
		&t.Allowance.CheckoutSessionID, &merchantID, &t.Allowance.ExpiresAt, &pm, &risk, &meta,
		&t.Used, &t.CreatedAt, &usedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return vault.Token{}, vault.ErrInvalidToken
	}
	if err != nil {
		return vault.Token{}, fmt.Errorf("scan token: %w", err)
	}
	t.Allowance.MerchantID = merchantID.String
	if err := json.Unmarshal(pm, &t.PaymentMethod); err != nil {
		return vault.Token{}, fmt.Errorf("unmarshal payment method: %w", err)
	}
	if len(risk) > 0 {
		if err := json.Unmarshal(risk, &t.RiskSignals); err != nil {
			return vault.Token{}, fmt.Errorf("unmarshal risk signals: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return vault.Token{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if usedAt.Valid {
		ts := usedAt.Time
		t.UsedAt = &ts
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

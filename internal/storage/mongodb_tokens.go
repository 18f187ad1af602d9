package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CedrosPay/checkout/internal/dbpool"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/vault"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBTokenStore implements vault.Store on MongoDB. Consumption is one
// FindOneAndUpdate whose filter encodes every redemption rule.
type MongoDBTokenStore struct {
	collection *mongo.Collection
	metrics    *metrics.Metrics
}

type mongoToken struct {
	ID                string             `bson:"_id"`
	CredentialRef     string             `bson:"credential_ref"`
	Reason            string             `bson:"reason"`
	MaxAmount         int64              `bson:"max_amount"`
	Currency          string             `bson:"currency"`
	CheckoutSessionID string             `bson:"checkout_session_id"`
	MerchantID        string             `bson:"merchant_id,omitempty"`
	ExpiresAt         time.Time          `bson:"expires_at"`
	PaymentMethod     mongoPaymentMethod `bson:"payment_method"`
	RiskSignals       []mongoRiskSignal  `bson:"risk_signals,omitempty"`
	Metadata          map[string]string  `bson:"metadata,omitempty"`
	Used              bool               `bson:"used"`
	CreatedAt         time.Time          `bson:"created_at"`
	UsedAt            *time.Time         `bson:"used_at,omitempty"`
}

type mongoPaymentMethod struct {
	Type    string `bson:"type"`
	Brand   string `bson:"brand,omitempty"`
	Last4   string `bson:"last4,omitempty"`
	Funding string `bson:"funding,omitempty"`
}

type mongoRiskSignal struct {
	Type   string `bson:"type"`
	Score  int    `bson:"score"`
	Action string `bson:"action"`
}

func toMongoToken(t vault.Token) mongoToken {
	doc := mongoToken{
		ID:                t.ID,
		CredentialRef:     t.CredentialRef,
		Reason:            t.Allowance.Reason,
		MaxAmount:         t.Allowance.MaxAmount,
		Currency:          strings.ToLower(t.Allowance.Currency),
		CheckoutSessionID: t.Allowance.CheckoutSessionID,
		MerchantID:        t.Allowance.MerchantID,
		ExpiresAt:         t.Allowance.ExpiresAt.UTC(),
		PaymentMethod:     mongoPaymentMethod(t.PaymentMethod),
		Metadata:          t.Metadata,
		Used:              t.Used,
		CreatedAt:         t.CreatedAt.UTC(),
		UsedAt:            t.UsedAt,
	}
	for _, rs := range t.RiskSignals {
		doc.RiskSignals = append(doc.RiskSignals, mongoRiskSignal(rs))
	}
	return doc
}

func (d mongoToken) toToken() vault.Token {
	t := vault.Token{
		ID:            d.ID,
		CredentialRef: d.CredentialRef,
		Allowance: vault.Allowance{
			Reason:            d.Reason,
			MaxAmount:         d.MaxAmount,
			Currency:          d.Currency,
			CheckoutSessionID: d.CheckoutSessionID,
			MerchantID:        d.MerchantID,
			ExpiresAt:         d.ExpiresAt,
		},
		PaymentMethod: vault.PaymentMethod(d.PaymentMethod),
		Metadata:      d.Metadata,
		Used:          d.Used,
		CreatedAt:     d.CreatedAt,
		UsedAt:        d.UsedAt,
	}
	for _, rs := range d.RiskSignals {
		t.RiskSignals = append(t.RiskSignals, vault.RiskSignal(rs))
	}
	return t
}

// NewMongoDBTokenStore creates the store and its expiry index.
func NewMongoDBTokenStore(ctx context.Context, db *mongo.Database, collection string) (*MongoDBTokenStore, error) {
	if collection == "" {
		collection = "vault_tokens"
	}
	s := &MongoDBTokenStore{collection: db.Collection(collection)}

	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "expires_at", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("create token indexes: %w", err)
	}
	return s, nil
}

// WithMetrics enables query timing.
func (s *MongoDBTokenStore) WithMetrics(m *metrics.Metrics) *MongoDBTokenStore {
	s.metrics = m
	return s
}

// Create implements vault.Store.
func (s *MongoDBTokenStore) Create(ctx context.Context, token vault.Token) error {
	defer metrics.MeasureDBQuery(s.metrics, "token_create", "mongodb")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, toMongoToken(token)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// Get implements vault.Store.
func (s *MongoDBTokenStore) Get(ctx context.Context, id string) (vault.Token, error) {
	defer metrics.MeasureDBQuery(s.metrics, "token_get", "mongodb")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()
	return s.get(ctx, id)
}

func (s *MongoDBTokenStore) get(ctx context.Context, id string) (vault.Token, error) {
	var doc mongoToken
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return vault.Token{}, vault.ErrInvalidToken
	}
	if err != nil {
		return vault.Token{}, fmt.Errorf("get token: %w", err)
	}
	return doc.toToken(), nil
}

// Consume implements vault.Store.
func (s *MongoDBTokenStore) Consume(ctx context.Context, req vault.ConsumeRequest, now time.Time) (vault.Token, error) {
	defer metrics.MeasureDBQuery(s.metrics, "token_consume", "mongodb")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	now = now.UTC()
	filter := bson.M{
		"_id":                 req.TokenID,
		"used":                false,
		"expires_at":          bson.M{"$gte": now},
		"checkout_session_id": req.SessionID,
		"max_amount":          bson.M{"$gte": req.Amount},
		"currency":            strings.ToLower(req.Currency),
	}
	update := bson.M{"$set": bson.M{"used": true, "used_at": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc mongoToken
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toToken(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return vault.Token{}, fmt.Errorf("consume token: %w", err)
	}

	current, err := s.get(ctx, req.TokenID)
	if err != nil {
		return vault.Token{}, err
	}
	if err := vault.Check(current, req, now); err != nil {
		return vault.Token{}, err
	}
	return vault.Token{}, vault.ErrTokenAlreadyUsed
}

// DeleteExpired implements vault.Store.
func (s *MongoDBTokenStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	defer metrics.MeasureDBQuery(s.metrics, "token_delete_expired", "mongodb")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	result, err := s.collection.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": cutoff.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return result.DeletedCount, nil
}

// Close is a no-op; the shared client is closed by its owner.
func (s *MongoDBTokenStore) Close() error {
	return nil
}

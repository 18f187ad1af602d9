package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CedrosPay/checkout/internal/dbpool"
	"github.com/CedrosPay/checkout/internal/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStore implements Store using MongoDB. The document _id is scope+key
// so the unique primary index arbitrates concurrent reservations.
type MongoDBStore struct {
	collection *mongo.Collection
	metrics    *metrics.Metrics
}

type mongoRecord struct {
	ID          string    `bson:"_id"`
	Scope       string    `bson:"scope"`
	Key         string    `bson:"key"`
	Fingerprint string    `bson:"fingerprint"`
	Token       string    `bson:"reservation"`
	Status      string    `bson:"status"`
	StatusCode  int       `bson:"status_code,omitempty"`
	ContentType string    `bson:"content_type,omitempty"`
	Body        []byte    `bson:"body,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
	ExpiresAt   time.Time `bson:"expires_at"`
}

// NewMongoDBStore creates the store on db and ensures a TTL index on expires_at.
func NewMongoDBStore(ctx context.Context, db *mongo.Database, collection string) (*MongoDBStore, error) {
	if collection == "" {
		collection = "idempotency_records"
	}
	s := &MongoDBStore{collection: db.Collection(collection)}

	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return nil, fmt.Errorf("create idempotency indexes: %w", err)
	}
	return s, nil
}

// WithMetrics enables query timing.
func (s *MongoDBStore) WithMetrics(m *metrics.Metrics) *MongoDBStore {
	s.metrics = m
	return s
}

func mongoID(scope, key string) string {
	return scope + "|" + key
}

// Reserve implements Store.
func (s *MongoDBStore) Reserve(ctx context.Context, rec Record) (*Record, bool, error) {
	defer metrics.MeasureDBQuery(s.metrics, "idempotency_reserve", "mongodb")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	doc := mongoRecord{
		ID:          mongoID(rec.Scope, rec.Key),
		Scope:       rec.Scope,
		Key:         rec.Key,
		Fingerprint: rec.Fingerprint,
		Token:       rec.Token,
		Status:      string(StatusInFlight),
		CreatedAt:   rec.CreatedAt.UTC(),
		ExpiresAt:   rec.ExpiresAt.UTC(),
	}

	_, err := s.collection.InsertOne(ctx, doc)
	if err == nil {
		return nil, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}

	// Take over an expired document the TTL monitor has not reaped yet.
	res, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": doc.ID, "expires_at": bson.M{"$lt": doc.CreatedAt}},
		doc,
	)
	if err != nil {
		return nil, false, fmt.Errorf("reserve expired idempotency key: %w", err)
	}
	if res.ModifiedCount == 1 {
		return nil, true, nil
	}

	existing, err := s.get(ctx, rec.Scope, rec.Key)
	if errors.Is(err, ErrNotFound) {
		return &Record{Scope: rec.Scope, Key: rec.Key, Fingerprint: rec.Fingerprint, Status: StatusInFlight}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Complete implements Store.
func (s *MongoDBStore) Complete(ctx context.Context, scope, key, token string, resp Response, expiresAt time.Time) error {
	defer metrics.MeasureDBQuery(s.metrics, "idempotency_complete", "mongodb")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": mongoID(scope, key), "reservation": token, "status": string(StatusInFlight)},
		bson.M{"$set": bson.M{
			"status":       string(StatusCompleted),
			"status_code":  resp.StatusCode,
			"content_type": resp.ContentType,
			"body":         resp.Body,
			"expires_at":   expiresAt.UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrReservationLost
	}
	return nil
}

// Release implements Store.
func (s *MongoDBStore) Release(ctx context.Context, scope, key, token string) error {
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	_, err := s.collection.DeleteOne(ctx, bson.M{
		"_id":         mongoID(scope, key),
		"reservation": token,
		"status":      string(StatusInFlight),
	})
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *MongoDBStore) Get(ctx context.Context, scope, key string) (*Record, error) {
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()
	return s.get(ctx, scope, key)
}

func (s *MongoDBStore) get(ctx context.Context, scope, key string) (*Record, error) {
	var doc mongoRecord
	err := s.collection.FindOne(ctx, bson.M{
		"_id":        mongoID(scope, key),
		"expires_at": bson.M{"$gte": time.Now().UTC()},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}

	rec := &Record{
		Scope:       doc.Scope,
		Key:         doc.Key,
		Fingerprint: doc.Fingerprint,
		Token:       doc.Token,
		Status:      RecordStatus(doc.Status),
		CreatedAt:   doc.CreatedAt,
		ExpiresAt:   doc.ExpiresAt,
	}
	if rec.Status == StatusCompleted {
		rec.Response = &Response{StatusCode: doc.StatusCode, ContentType: doc.ContentType, Body: doc.Body}
	}
	return rec, nil
}

// DeleteExpired implements Store. The TTL index reaps documents on its own
// schedule; this makes the sweep deterministic.
func (s *MongoDBStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	res, err := s.collection.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": now.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return res.DeletedCount, nil
}

// Close is a no-op; the shared client is closed by its owner.
func (s *MongoDBStore) Close() error {
	return nil
}

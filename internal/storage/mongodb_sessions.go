package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CedrosPay/checkout/internal/checkout"
	"github.com/CedrosPay/checkout/internal/dbpool"
	"github.com/CedrosPay/checkout/internal/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// maxCASAttempts bounds optimistic retries of a session update.
const maxCASAttempts = 5

// MongoDBSessionStore implements checkout.Store on MongoDB. Updates are
// compare-and-swap on the document version.
type MongoDBSessionStore struct {
	collection *mongo.Collection
	metrics    *metrics.Metrics
}

// mongoSession keeps the session JSON opaque and lifts the fields used in filters.
type mongoSession struct {
	ID        string    `bson:"_id"`
	Status    string    `bson:"status"`
	Version   int64     `bson:"version"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// NewMongoDBSessionStore creates the store and its indexes.
func NewMongoDBSessionStore(ctx context.Context, db *mongo.Database, collection string) (*MongoDBSessionStore, error) {
	if collection == "" {
		collection = "checkout_sessions"
	}
	s := &MongoDBSessionStore{collection: db.Collection(collection)}

	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create session indexes: %w", err)
	}
	return s, nil
}

// WithMetrics enables query timing.
func (s *MongoDBSessionStore) WithMetrics(m *metrics.Metrics) *MongoDBSessionStore {
	s.metrics = m
	return s
}

func toMongoSession(session checkout.Session) (mongoSession, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return mongoSession{}, fmt.Errorf("marshal session: %w", err)
	}
	return mongoSession{
		ID:        session.ID,
		Status:    string(session.Status),
		Version:   session.Version,
		Data:      string(data),
		UpdatedAt: session.UpdatedAt.UTC(),
		ExpiresAt: session.ExpiresAt.UTC(),
	}, nil
}

func (d mongoSession) toSession() (checkout.Session, error) {
	var session checkout.Session
	if err := json.Unmarshal([]byte(d.Data), &session); err != nil {
		return checkout.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	session.Version = d.Version
	return session, nil
}

// Create implements checkout.Store.
func (s *MongoDBSessionStore) Create(ctx context.Context, session checkout.Session) error {
	defer metrics.MeasureDBQuery(s.metrics, "session_create", "mongodb")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	session.Version = 1
	doc, err := toMongoSession(session)
	if err != nil {
		return err
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get implements checkout.Store.
func (s *MongoDBSessionStore) Get(ctx context.Context, id string) (checkout.Session, error) {
	defer metrics.MeasureDBQuery(s.metrics, "session_get", "mongodb")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()
	return s.get(ctx, id)
}

func (s *MongoDBSessionStore) get(ctx context.Context, id string) (checkout.Session, error) {
	var doc mongoSession
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return checkout.Session{}, checkout.ErrSessionNotFound
	}
	if err != nil {
		return checkout.Session{}, fmt.Errorf("get session: %w", err)
	}
	return doc.toSession()
}

// Update implements checkout.Store. A version mismatch re-reads and re-runs
// fn, so fn must tolerate being called more than once.
func (s *MongoDBSessionStore) Update(ctx context.Context, id string, fn func(*checkout.Session) error) (checkout.Session, error) {
	defer metrics.MeasureDBQuery(s.metrics, "session_update", "mongodb")()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.get(ctx, id)
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

		doc, err := toMongoSession(working)
		if err != nil {
			return checkout.Session{}, err
		}
		result, err := s.collection.ReplaceOne(ctx, bson.M{"_id": id, "version": current.Version}, doc)
		if err != nil {
			return checkout.Session{}, fmt.Errorf("update session: %w", err)
		}
		if result.MatchedCount == 1 {
			return working, nil
		}
	}
	return checkout.Session{}, ErrConcurrentModification
}

// DeleteFinishedBefore removes terminal sessions last updated before cutoff.
func (s *MongoDBSessionStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	defer metrics.MeasureDBQuery(s.metrics, "session_delete_finished", "mongodb")()
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"status":     bson.M{"$in": []string{string(checkout.StatusCompleted), string(checkout.StatusCanceled)}},
		"updated_at": bson.M{"$lt": cutoff.UTC()},
	}
	result, err := s.collection.DeleteMany(ctx, filter, options.Delete())
	if err != nil {
		return 0, fmt.Errorf("delete finished sessions: %w", err)
	}
	return result.DeletedCount, nil
}

// Close is a no-op; the shared client is closed by its owner.
func (s *MongoDBSessionStore) Close() error {
	return nil
}

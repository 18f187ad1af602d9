package dbpool

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SharedMongo holds one MongoDB client shared by all collections.
type SharedMongo struct {
	client   *mongo.Client
	database *mongo.Database
}

// NewSharedMongo connects and pings MongoDB.
func NewSharedMongo(ctx context.Context, uri, database string) (*SharedMongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &SharedMongo{client: client, database: client.Database(database)}, nil
}

// Database returns the configured database handle.
func (m *SharedMongo) Database() *mongo.Database {
	return m.database
}

// Close disconnects the client.
func (m *SharedMongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

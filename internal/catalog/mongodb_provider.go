package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/CedrosPay/checkout/internal/dbpool"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBProvider reads items from a MongoDB collection.
type MongoDBProvider struct {
	collection *mongo.Collection
}

type mongoItem struct {
	ID         string            `bson:"_id"`
	Title      string            `bson:"title"`
	UnitAmount int64             `bson:"unitAmount"`
	Discount   int64             `bson:"discount"`
	Currency   string            `bson:"currency"`
	TaxRateBps int64             `bson:"taxRateBps"`
	Available  *bool             `bson:"available,omitempty"`
	Metadata   map[string]string `bson:"metadata,omitempty"`
}

func (m mongoItem) toItem() Item {
	return Item{
		ID:         m.ID,
		Title:      m.Title,
		UnitAmount: m.UnitAmount,
		Discount:   m.Discount,
		Currency:   m.Currency,
		TaxRateBps: m.TaxRateBps,
		Available:  m.Available == nil || *m.Available,
		Metadata:   m.Metadata,
	}
}

// NewMongoDBProvider uses collection in db (default "catalog_items").
func NewMongoDBProvider(ctx context.Context, db *mongo.Database, collection string) (*MongoDBProvider, error) {
	if collection == "" {
		collection = defaultItemsTable
	}
	if err := dbpool.ValidateTableName(collection); err != nil {
		return nil, err
	}
	coll := db.Collection(collection)

	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()
	if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "available", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("create catalog indexes: %w", err)
	}
	return &MongoDBProvider{collection: coll}, nil
}

// Lookup implements Provider.
func (p *MongoDBProvider) Lookup(ctx context.Context, itemID string) (Item, error) {
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	var doc mongoItem
	err := p.collection.FindOne(ctx, bson.M{"_id": itemID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Item{}, ErrItemNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("find item: %w", err)
	}
	return doc.toItem(), nil
}

// List implements Provider.
func (p *MongoDBProvider) List(ctx context.Context) ([]Item, error) {
	ctx, cancel := dbpool.WithQueryTimeout(ctx)
	defer cancel()

	cursor, err := p.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find items: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoItem
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	items := make([]Item, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.toItem())
	}
	return items, nil
}

// Close is a no-op; the shared client is closed by its owner.
func (p *MongoDBProvider) Close() error { return nil }

package activitylog

import (
	"context"
	"time"

	"github.com/maleva/customer-portal/pkg/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSink mirrors activity entries into an audit collection so they outlive
// the rolling window kept in storage.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	service    string
}

func NewMongoSink(cfg *config.MongoDBConfig, service string) (*MongoSink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	return &MongoSink{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		service:    service,
	}, nil
}

func (m *MongoSink) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoSink) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type auditRecord struct {
	Entry   `bson:",inline"`
	Service string `bson:"service"`
}

func (m *MongoSink) Write(ctx context.Context, entry Entry) error {
	_, err := m.collection.InsertOne(ctx, auditRecord{Entry: entry, Service: m.service})
	return err
}

// Recent returns the newest entries of the given type, or of every type when
// entryType is empty.
func (m *MongoSink) Recent(ctx context.Context, entryType EntryType, limit int64) ([]Entry, error) {
	filter := bson.M{"service": m.service}
	if entryType != "" {
		filter["type"] = entryType
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit)

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []auditRecord
	if err = cursor.All(ctx, &records); err != nil {
		return nil, err
	}

	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = r.Entry
	}
	return entries, nil
}

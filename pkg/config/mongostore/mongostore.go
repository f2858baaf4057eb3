// Package mongostore is the MongoDB backend of the configuration store,
// for sites that keep their stand configurations in the ops database.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/config/configstore"
)

var _ configstore.Store = (*MongoStore)(nil)

// MongoStore persists one configuration document per test stand, keyed
// by stand name.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	stand      string
}

// New connects to MongoDB and binds the store to the document for the
// named stand.
func New(uri, dbName, collName, stand string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(dbName).Collection(collName),
		stand:      stand,
	}, nil
}

// Load fetches and decodes the stand's document.
func (m *MongoStore) Load(out any) error {
	res := m.collection.FindOne(context.Background(), bson.M{"_id": m.stand})
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("mongostore: no configuration for stand %q", m.stand)
		}
		return fmt.Errorf("mongostore: find: %w", err)
	}
	if err := res.Decode(out); err != nil {
		return fmt.Errorf("mongostore: decode: %w", err)
	}
	return nil
}

// Save upserts the stand's document.
func (m *MongoStore) Save(in any) error {
	if in == nil {
		return fmt.Errorf("mongostore: save input must not be nil")
	}
	_, err := m.collection.ReplaceOne(
		context.Background(),
		bson.M{"_id": m.stand},
		in,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongostore: replace: %w", err)
	}
	return nil
}

// Watch is not supported by the MongoDB backend.
func (m *MongoStore) Watch(onChange func()) error {
	return fmt.Errorf("mongostore: watch is not supported")
}

// Close disconnects from MongoDB.
func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Package mongo implements the key/value store for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/walletlink/lib/store"
)

// Mongo implements a connection to a MongoDB database. Every key is one document of the "kv" collection.
type Mongo struct {
	c   *mgo.Client
	col *mgo.Collection
}

// kvDoc is the stored document.
type kvDoc struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	c, err := mgo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}

	if err = c.Ping(ctx, nil); err != nil {
		_ = c.Disconnect(context.Background())

		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c, col: c.Database("walletlink").Collection("kv")}, nil
}

var _ store.KV = (*Mongo)(nil)

// Get returns the value stored at key.
func (m *Mongo) Get(ctx context.Context, key string) ([]byte, error) {
	var d kvDoc

	err := m.col.FindOne(ctx, bson.M{"_id": key}).Decode(&d)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return nil, store.ErrDataNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("could not read %s from db: %w", key, err)
	}

	return d.Value, nil
}

// Put upserts value at key.
func (m *Mongo) Put(ctx context.Context, key string, value []byte) error {
	_, err := m.col.UpdateOne(ctx,
		bson.M{"_id": key}, // filter
		bson.D{ // update
			{
				Key: "$set", Value: bson.D{
					{Key: "value", Value: value},
					{Key: "updatedAt", Value: time.Now().UTC()},
				},
			},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not write %s to db: %w", key, err)
	}

	return nil
}

// Delete removes key.
func (m *Mongo) Delete(ctx context.Context, key string) error {
	_, err := m.col.DeleteOne(ctx, bson.M{"_id": key})

	return err
}

// Close will close a database connection. Must be called at termination time.
func (m *Mongo) Close() error {
	return m.c.Disconnect(context.Background())
}
